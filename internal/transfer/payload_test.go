package transfer

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayload_Kinds(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		kind    Kind
	}{
		{"bytes", Bytes([]byte("hello world")), KindBytes},
		{"text", Text("hello world"), KindText},
		{"blob", Blob(strings.NewReader("hello world"), 11, "h.txt"), KindBlob},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.payload.Kind())
			assert.Equal(t, int64(11), tt.payload.Size())

			all, err := io.ReadAll(tt.payload.Reader())
			require.NoError(t, err)
			assert.Equal(t, "hello world", string(all))

			section, err := io.ReadAll(tt.payload.Section(6, 5))
			require.NoError(t, err)
			assert.Equal(t, "world", string(section))

			buf, err := tt.payload.Materialize()
			require.NoError(t, err)
			assert.Equal(t, "hello world", string(buf))
		})
	}
}

func TestPayload_ZeroValueIsEmptyBytes(t *testing.T) {
	var p Payload

	assert.Equal(t, KindBytes, p.Kind())
	assert.Equal(t, int64(0), p.Size())

	all, err := io.ReadAll(p.Reader())
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.NoError(t, p.Close())
}

func TestPayload_SectionsAreIndependent(t *testing.T) {
	p := Text("abcdef")

	first := p.Section(0, 3)
	_, err := io.ReadAll(first)
	require.NoError(t, err)

	again, err := io.ReadAll(p.Section(0, 3))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, []byte("file content"), 0o600))

	p, err := OpenFile(path)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, KindBlob, p.Kind())
	assert.Equal(t, "data.bin", p.Name())
	assert.Equal(t, int64(12), p.Size())

	buf, err := p.Materialize()
	require.NoError(t, err)
	assert.Equal(t, "file content", string(buf))
}

func TestOpenFile_Errors(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	_, err = OpenFile(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory")
}

func TestPayload_ContentType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	assert.Equal(t, "image/png", Bytes(png).ContentType())
	assert.Equal(t, "text/plain; charset=utf-8", Text("plain words").ContentType())
}

func TestPayload_FingerprintIgnoresKind(t *testing.T) {
	a, err := Text("same").Fingerprint()
	require.NoError(t, err)

	b, err := Bytes([]byte("same")).Fingerprint()
	require.NoError(t, err)

	c, err := Text("other").Fingerprint()
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestDigest(t *testing.T) {
	sum, err := Digest(Text("abc"), "sha256")
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)

	sum, err = Digest(Text("abc"), "md5")
	require.NoError(t, err)
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", sum)

	_, err = Digest(Text("abc"), "crc32")
	require.Error(t, err)
}
