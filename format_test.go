package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tonimelisma/resourcectl/internal/transfer"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		name  string
		bytes int64
		want  string
	}{
		{"zero", 0, "0B"},
		{"bytes", 512, "512B"},
		{"kibibytes", 1536, "1.5KiB"},
		{"mebibytes", 5242880, "5MiB"},
		{"gibibytes", 1610612736, "1.5GiB"},
		{"tebibytes", 1099511627776, "1TiB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatSize(tt.bytes))
		})
	}
}

func TestFormatTime(t *testing.T) {
	now := time.Now()
	sameYear := time.Date(now.Year(), time.March, 15, 10, 30, 0, 0, time.UTC)
	diffYear := time.Date(2020, time.December, 25, 8, 0, 0, 0, time.UTC)

	t.Run("same year", func(t *testing.T) {
		result := formatTime(sameYear)
		assert.Contains(t, result, "Mar")
		assert.Contains(t, result, "15")
		assert.Contains(t, result, "10:30")
	})

	t.Run("different year", func(t *testing.T) {
		result := formatTime(diffYear)
		assert.Contains(t, result, "Dec")
		assert.Contains(t, result, "2020")
	})

	t.Run("zero", func(t *testing.T) {
		assert.Equal(t, "-", formatTime(time.Time{}))
	})
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	printTable(&buf, []string{"NAME", "SIZE"}, [][]string{
		{"file.txt", "1.2MiB"},
		{"folder/", "-"},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 3)
	assert.Equal(t, "NAME      SIZE", lines[0])
	assert.Equal(t, "file.txt  1.2MiB", lines[1])
	assert.Equal(t, "folder/   -", lines[2])
}

func TestProgressLine_DisabledOffTerminal(t *testing.T) {
	cc := &CLIContext{Err: &bytes.Buffer{}}

	assert.Nil(t, newProgressLine(cc).forPath("/a"))
}

func TestProgressLine_RendersCompletion(t *testing.T) {
	var buf bytes.Buffer

	p := &progressLine{w: &buf, enabled: true}
	fn := p.forPath("/docs/a.bin")

	fn(transfer.Progress{BytesTransferred: 512, BytesTotal: 1024})
	fn(transfer.Progress{BytesTransferred: 1024, BytesTotal: 1024})

	out := buf.String()
	assert.Contains(t, out, "/docs/a.bin")
	assert.Contains(t, out, "50%")
	assert.Contains(t, out, "100%")
	assert.True(t, strings.HasSuffix(out, "\n"))
}
