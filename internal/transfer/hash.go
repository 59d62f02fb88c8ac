package transfer

import (
	"crypto/md5"  //nolint:gosec // server checksum algorithm, not used for security
	"crypto/sha1" //nolint:gosec // server checksum algorithm, not used for security
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// newHash returns a hasher for one of the server's checksum algorithms.
func newHash(algo string) (hash.Hash, error) {
	switch algo {
	case "md5":
		return md5.New(), nil //nolint:gosec // see import
	case "sha1":
		return sha1.New(), nil //nolint:gosec // see import
	case "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("transfer: unsupported checksum algorithm %q", algo)
	}
}

// Digest computes the hex digest of a payload with the given algorithm, in
// the same form the server's checksum query returns.
func Digest(p Payload, algo string) (string, error) {
	h, err := newHash(algo)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(h, p.Reader()); err != nil {
		return "", fmt.Errorf("transfer: hashing payload: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
