package config

import (
	"fmt"
	"strings"

	units "github.com/docker/go-units"
)

// ParseSize converts a human-readable size string to bytes. Suffixes with an
// "i" (KiB, MiB, GiB) are binary; KB, MB, GB are decimal. A bare number is
// raw bytes. Empty string and "0" return 0.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	var (
		n   int64
		err error
	)

	if strings.HasSuffix(strings.ToLower(s), "ib") {
		n, err = units.RAMInBytes(s[:len(s)-2] + "b")
	} else {
		n, err = units.FromHumanSize(s)
	}

	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	if n < 0 {
		return 0, fmt.Errorf("invalid size %q: must be non-negative", s)
	}

	return n, nil
}
