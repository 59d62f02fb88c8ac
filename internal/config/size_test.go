package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize_ChunkSizes(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"", 0},
		{"0", 0},
		{"262144", 262_144},
		{"256KiB", 262_144},
		{"256KB", 256_000},
		{"10MiB", 10_485_760},
		{"10mib", 10_485_760},
		{" 10MiB ", 10_485_760},
		{"1.5MiB", 1_572_864},
		{"5 MB", 5_000_000},
		{"1GiB", 1_073_741_824},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSize_Rejected(t *testing.T) {
	for _, input := range []string{"ten megs", "MiB", "-1", "-5MiB", "10XB"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseSize(input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid size")
		})
	}
}
