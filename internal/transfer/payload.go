package transfer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Kind distinguishes the payload representations an upload accepts.
type Kind int

const (
	KindBytes Kind = iota // in-memory byte buffer
	KindBlob              // random-access content with known size (usually a file)
	KindText              // string content
)

func (k Kind) String() string {
	switch k {
	case KindBytes:
		return "bytes"
	case KindBlob:
		return "blob"
	case KindText:
		return "text"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// sniffLen is how much leading content is read for MIME detection.
const sniffLen = 3072

// Payload is the content of an upload. Size is fixed at construction. The
// zero value is an empty byte payload.
type Payload struct {
	kind   Kind
	data   []byte
	text   string
	blob   io.ReaderAt
	closer io.Closer
	size   int64
	name   string
}

// Bytes wraps an in-memory buffer. The buffer must not be modified while an
// upload is using it.
func Bytes(b []byte) Payload {
	return Payload{kind: KindBytes, data: b, size: int64(len(b))}
}

// Text wraps string content.
func Text(s string) Payload {
	return Payload{kind: KindText, text: s, size: int64(len(s))}
}

// Blob wraps random-access content of the given size. name is used for MIME
// detection and tus metadata; it may be empty.
func Blob(r io.ReaderAt, size int64, name string) Payload {
	return Payload{kind: KindBlob, blob: r, size: size, name: name}
}

// OpenFile opens a local file as a blob payload. The caller must Close it.
func OpenFile(path string) (Payload, error) {
	f, err := os.Open(path)
	if err != nil {
		return Payload{}, fmt.Errorf("transfer: opening %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return Payload{}, fmt.Errorf("transfer: stat %s: %w", path, err)
	}

	if info.IsDir() {
		f.Close()
		return Payload{}, fmt.Errorf("transfer: %s is a directory", path)
	}

	p := Blob(f, info.Size(), filepath.Base(path))
	p.closer = f

	return p, nil
}

// Kind returns the payload representation.
func (p Payload) Kind() Kind { return p.kind }

// Size returns the content length in bytes.
func (p Payload) Size() int64 { return p.size }

// Name returns the blob name, or "" for bytes and text payloads.
func (p Payload) Name() string { return p.name }

// Close releases the file behind a payload created with OpenFile.
func (p Payload) Close() error {
	if p.closer == nil {
		return nil
	}

	return p.closer.Close()
}

func (p Payload) readerAt() io.ReaderAt {
	switch p.kind {
	case KindBlob:
		return p.blob
	case KindText:
		return strings.NewReader(p.text)
	default:
		return bytes.NewReader(p.data)
	}
}

// Reader returns a fresh reader over the whole content.
func (p Payload) Reader() io.Reader {
	return p.Section(0, p.size)
}

// Section returns a reader over n bytes starting at off. Every call is
// independent, so a failed chunk can be re-read.
func (p Payload) Section(off, n int64) *io.SectionReader {
	return io.NewSectionReader(p.readerAt(), off, n)
}

// Materialize returns the whole content as one byte buffer.
func (p Payload) Materialize() ([]byte, error) {
	switch p.kind {
	case KindBytes:
		return p.data, nil
	case KindText:
		return []byte(p.text), nil
	}

	buf := make([]byte, p.size)
	if _, err := io.ReadFull(p.Reader(), buf); err != nil {
		return nil, fmt.Errorf("transfer: reading blob %q: %w", p.name, err)
	}

	return buf, nil
}

// ContentType sniffs the MIME type from the leading bytes.
func (p Payload) ContentType() string {
	header := make([]byte, min(p.size, sniffLen))

	n, err := io.ReadFull(p.Section(0, int64(len(header))), header)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "application/octet-stream"
	}

	return mimetype.Detect(header[:n]).String()
}

// Fingerprint returns a hex SHA-256 of the content. Used to match a payload
// against a persisted upload session.
func (p Payload) Fingerprint() (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, p.Reader()); err != nil {
		return "", fmt.Errorf("transfer: fingerprinting payload: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
