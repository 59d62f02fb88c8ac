package tokenfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func testToken() *oauth2.Token {
	return &oauth2.Token{
		AccessToken: "header.claims.sig",
		TokenType:   "X-Auth",
		Expiry:      time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	tok, meta, err := Load("/nonexistent/path/token")
	assert.Nil(t, tok)
	assert.Nil(t, meta)
	assert.NoError(t, err)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	meta := map[string]string{MetaServer: "https://files.example.com", MetaUsername: "admin"}

	require.NoError(t, Save(path, testToken(), meta))

	tok, loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "header.claims.sig", tok.AccessToken)
	assert.Equal(t, "X-Auth", tok.TokenType)
	assert.True(t, tok.Expiry.Equal(testToken().Expiry))
	assert.Equal(t, meta, loaded)
}

func TestLoad_EmptyCredential(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte(`{"token":{"token_type":"X-Auth"}}`), 0o600))

	tok, meta, err := Load(path)
	assert.Nil(t, tok)
	assert.Nil(t, meta)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login required")
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte(`{not json}`), 0o600))

	_, _, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding")
}

func TestLoadFor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, Save(path, testToken(), map[string]string{MetaServer: "https://a.example.com"}))

	tok, _, err := LoadFor(path, "https://a.example.com")
	require.NoError(t, err)
	assert.NotNil(t, tok)

	_, _, err = LoadFor(path, "https://b.example.com")
	assert.ErrorIs(t, err, ErrServerMismatch)
}

func TestLoadFor_NoRecordedServer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, Save(path, testToken(), nil))

	tok, _, err := LoadFor(path, "https://any.example.com")
	require.NoError(t, err)
	assert.NotNil(t, tok)
}

func TestReadMeta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")

	meta, err := ReadMeta(path)
	require.NoError(t, err)
	assert.Nil(t, meta)

	require.NoError(t, Save(path, testToken(), map[string]string{MetaUsername: "bob"}))

	meta, err = ReadMeta(path)
	require.NoError(t, err)
	assert.Equal(t, "bob", meta[MetaUsername])
}

func TestSave_CreatesDirectoryWithOwnerOnlyPerms(t *testing.T) {
	nested := filepath.Join(t.TempDir(), "sub", "dir", "token")

	require.NoError(t, Save(nested, testToken(), nil))

	info, err := os.Stat(nested)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())
}

func TestSave_EmptyCredential(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")

	assert.Error(t, Save(path, nil, nil))
	assert.Error(t, Save(path, &oauth2.Token{}, nil))

	_, err := os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadAndMergeMeta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, Save(path, testToken(), map[string]string{MetaUsername: "old", MetaServer: "s"}))

	require.NoError(t, LoadAndMergeMeta(path, map[string]string{MetaUsername: "new"}))

	meta, err := ReadMeta(path)
	require.NoError(t, err)
	assert.Equal(t, "new", meta[MetaUsername])
	assert.Equal(t, "s", meta[MetaServer])
}

func TestLoadAndMergeMeta_FileNotFound(t *testing.T) {
	err := LoadAndMergeMeta("/nonexistent/path/token", map[string]string{"k": "v"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no token file")
}
