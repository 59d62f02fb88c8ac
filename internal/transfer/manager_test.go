package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/resourcectl/internal/api"
	"github.com/tonimelisma/resourcectl/testutil"
)

func noopSleep(context.Context, time.Duration) error { return nil }

func newTestManager(t *testing.T, srv *testutil.Server, selCfg SelectorConfig, opts Options) *Manager {
	t.Helper()

	client := api.NewClient(srv.URL, http.DefaultClient, nil, slog.Default(), "test-agent")
	if selCfg.Origin == "" {
		selCfg.Origin = srv.URL
	}

	if opts.Server == "" {
		opts.Server = srv.URL
	}

	m := NewManager(client, NewSelector(selCfg, client, nil), opts)
	m.resumable.sleepFunc = noopSleep

	return m
}

// progressLog records progress updates from the uploading goroutine.
type progressLog struct {
	mu      sync.Mutex
	updates []Progress
}

func (l *progressLog) record(p Progress) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.updates = append(l.updates, p)
}

func (l *progressLog) assertMonotonic(t *testing.T, total int64) {
	t.Helper()

	l.mu.Lock()
	defer l.mu.Unlock()

	require.NotEmpty(t, l.updates)

	for i := 1; i < len(l.updates); i++ {
		assert.GreaterOrEqual(t, l.updates[i].BytesTransferred, l.updates[i-1].BytesTransferred)
	}

	last := l.updates[len(l.updates)-1]
	assert.Equal(t, total, last.BytesTransferred)
	assert.Equal(t, total, last.BytesTotal)
}

func content(n int) []byte {
	return bytes.Repeat([]byte("0123456789abcdef"), n/16+1)[:n]
}

func TestUpload_ResumableRoundTrip(t *testing.T) {
	srv := testutil.NewServer(t)
	m := newTestManager(t, srv, SelectorConfig{TusEnabled: true, ProbeTus: true}, Options{ChunkSize: 10})

	data := content(25)
	progress := &progressLog{}

	res, err := m.Upload(context.Background(), Descriptor{
		Path: "/docs/big.bin", Payload: Bytes(data), Progress: progress.record,
	})
	require.NoError(t, err)

	assert.Equal(t, Resumable, res.Strategy)
	assert.Empty(t, res.Response)
	assert.NotEmpty(t, res.ID)

	got, ok := srv.File("/docs/big.bin")
	require.True(t, ok)
	assert.Equal(t, data, got)
	assert.Equal(t, 3, srv.PatchCount())

	progress.assertMonotonic(t, 25)
	assert.Contains(t, srv.UploadMetadata("/docs/big.bin"), "filename ")
}

func TestUpload_DirectRoundTrip(t *testing.T) {
	srv := testutil.NewServer(t)
	m := newTestManager(t, srv, SelectorConfig{TusEnabled: false}, Options{})

	data := content(100)
	progress := &progressLog{}

	res, err := m.Upload(context.Background(), Descriptor{
		Path: "/a b.txt", Payload: Bytes(data), Progress: progress.record,
	})
	require.NoError(t, err)
	assert.Equal(t, Direct, res.Strategy)

	got, ok := srv.File("/a b.txt")
	require.True(t, ok)
	assert.Equal(t, data, got)
	assert.Equal(t, 0, srv.PatchCount())

	progress.assertMonotonic(t, 100)
}

func TestUpload_EmptyPayloadResumable(t *testing.T) {
	srv := testutil.NewServer(t)
	m := newTestManager(t, srv, SelectorConfig{TusEnabled: true}, Options{ChunkSize: 10})

	progress := &progressLog{}

	_, err := m.Upload(context.Background(), Descriptor{Path: "/empty", Payload: Text(""), Progress: progress.record})
	require.NoError(t, err)

	got, ok := srv.File("/empty")
	require.True(t, ok)
	assert.Empty(t, got)
	progress.assertMonotonic(t, 0)
}

func TestUpload_DirectoryCreatesDir(t *testing.T) {
	srv := testutil.NewServer(t)
	m := newTestManager(t, srv, SelectorConfig{TusEnabled: true}, Options{})

	res, err := m.Upload(context.Background(), Descriptor{Path: "/photos/2024/", Payload: Text("ignored")})
	require.NoError(t, err)
	assert.Equal(t, Direct, res.Strategy)
	assert.Equal(t, int64(0), res.Size)
	assert.True(t, srv.HasDir("/photos/2024"))
}

func TestUpload_ChunkRetryDoesNotResendAcknowledgedBytes(t *testing.T) {
	srv := testutil.NewServer(t)
	m := newTestManager(t, srv, SelectorConfig{TusEnabled: true}, Options{ChunkSize: 10, RetryCount: 3})

	// The first PATCH stores 4 bytes, then fails; the client must re-sync to
	// offset 4 instead of re-sending from 0.
	srv.FailPatches(testutil.PatchFault{Status: http.StatusServiceUnavailable, Keep: 4})

	data := content(25)
	progress := &progressLog{}

	_, err := m.Upload(context.Background(), Descriptor{Path: "/r.bin", Payload: Bytes(data), Progress: progress.record})
	require.NoError(t, err)

	got, ok := srv.File("/r.bin")
	require.True(t, ok)
	assert.Equal(t, data, got)
	assert.Equal(t, 4, srv.PatchCount())
	assert.Equal(t, 1, srv.CountRequests(http.MethodHead, "/api/tus-upload/"))

	progress.assertMonotonic(t, 25)
}

func TestUpload_ConnectionDropRetried(t *testing.T) {
	srv := testutil.NewServer(t)
	m := newTestManager(t, srv, SelectorConfig{TusEnabled: true}, Options{ChunkSize: 10, RetryCount: 2})

	srv.FailPatches(testutil.PatchFault{Status: 0, Keep: 10})

	data := content(15)

	_, err := m.Upload(context.Background(), Descriptor{Path: "/drop.bin", Payload: Bytes(data)})
	require.NoError(t, err)

	got, _ := srv.File("/drop.bin")
	assert.Equal(t, data, got)
}

func TestUpload_RetryExhaustion(t *testing.T) {
	srv := testutil.NewServer(t)
	m := newTestManager(t, srv, SelectorConfig{TusEnabled: true}, Options{ChunkSize: 10, RetryCount: 2})

	srv.FailPatches(
		testutil.PatchFault{Status: http.StatusInternalServerError},
		testutil.PatchFault{Status: http.StatusInternalServerError},
		testutil.PatchFault{Status: http.StatusInternalServerError},
	)

	u := m.Start(context.Background(), Descriptor{Path: "/x.bin", Payload: Bytes(content(15))})
	_, err := u.Wait()
	require.Error(t, err)

	assert.ErrorIs(t, err, api.ErrServerError)
	assert.Equal(t, Failed, u.State())
	assert.Equal(t, 3, srv.PatchCount())

	_, stored := srv.File("/x.bin")
	assert.False(t, stored)
}

func TestUpload_NonRetryableChunkFailure(t *testing.T) {
	srv := testutil.NewServer(t)
	m := newTestManager(t, srv, SelectorConfig{TusEnabled: true}, Options{ChunkSize: 10, RetryCount: 5})

	srv.FailPatches(testutil.PatchFault{Status: http.StatusForbidden})

	_, err := m.Upload(context.Background(), Descriptor{Path: "/x.bin", Payload: Bytes(content(15))})
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrForbidden)
	assert.Equal(t, 1, srv.PatchCount())
}

func TestUpload_ConflictThenOverwrite(t *testing.T) {
	for _, tusEnabled := range []bool{true, false} {
		t.Run(fmt.Sprintf("tus=%v", tusEnabled), func(t *testing.T) {
			srv := testutil.NewServer(t)
			srv.PutFile("/a.txt", []byte("old"))

			m := newTestManager(t, srv, SelectorConfig{TusEnabled: tusEnabled}, Options{ChunkSize: 4})

			u := m.Start(context.Background(), Descriptor{Path: "/a.txt", Payload: Text("new content")})
			_, err := u.Wait()
			require.Error(t, err)

			assert.True(t, IsConflict(err))
			assert.Equal(t, http.StatusConflict, api.StatusCode(err))
			assert.Equal(t, Conflicted, u.State())

			got, _ := srv.File("/a.txt")
			assert.Equal(t, "old", string(got))

			require.NoError(t, u.Resubmit(true))

			_, err = u.Wait()
			require.NoError(t, err)
			assert.Equal(t, Succeeded, u.State())

			got, _ = srv.File("/a.txt")
			assert.Equal(t, "new content", string(got))
		})
	}
}

func TestUpload_FirstChunkConflictThenOverwriteWithStore(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.DeferTusConflicts()
	srv.PutFile("/x.txt", []byte("old"))

	store := newTestStore(t)
	m := newTestManager(t, srv, SelectorConfig{TusEnabled: true}, Options{ChunkSize: 4, Store: store})

	u := m.Start(context.Background(), Descriptor{Path: "/x.txt", Payload: Text("new content")})
	_, err := u.Wait()
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.Equal(t, Conflicted, u.State())

	recs, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs, "conflicted session must not be reused")

	require.NoError(t, u.Resubmit(true))

	_, err = u.Wait()
	require.NoError(t, err)
	assert.Equal(t, Succeeded, u.State())

	got, _ := srv.File("/x.txt")
	assert.Equal(t, "new content", string(got))
	assert.Equal(t, 2, srv.CountRequests(http.MethodPost, "/api/tus"))
}

func TestUpload_PersistedSessionWithOtherOverwriteModeNotReused(t *testing.T) {
	srv := testutil.NewServer(t)
	store := newTestStore(t)
	m := newTestManager(t, srv, SelectorConfig{TusEnabled: true}, Options{ChunkSize: 10, Store: store})

	data := content(20)

	srv.FailPatches(testutil.PatchFault{Status: http.StatusBadRequest})

	_, err := m.Upload(context.Background(), Descriptor{Path: "/o.bin", Payload: Bytes(data)})
	require.Error(t, err)

	recs, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Overwrite)

	_, err = m.Upload(context.Background(), Descriptor{Path: "/o.bin", Payload: Bytes(data), Overwrite: true})
	require.NoError(t, err)
	assert.Equal(t, 2, srv.CountRequests(http.MethodPost, "/api/tus"))

	got, _ := srv.File("/o.bin")
	assert.Equal(t, data, got)
}

func TestUpload_ResubmitRequiresConflict(t *testing.T) {
	srv := testutil.NewServer(t)
	m := newTestManager(t, srv, SelectorConfig{}, Options{})

	u := m.Start(context.Background(), Descriptor{Path: "/ok.txt", Payload: Text("x")})
	_, err := u.Wait()
	require.NoError(t, err)

	err = u.Resubmit(true)
	assert.ErrorIs(t, err, ErrNotConflicted)
}

func TestUpload_NegotiationFailureFallsBackToDirectOnce(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.DisableTus()

	m := newTestManager(t, srv, SelectorConfig{TusEnabled: true, ProbeTus: false}, Options{})

	res, err := m.Upload(context.Background(), Descriptor{Path: "/f.txt", Payload: Text("fallback")})
	require.NoError(t, err)
	assert.Equal(t, Direct, res.Strategy)

	got, _ := srv.File("/f.txt")
	assert.Equal(t, "fallback", string(got))

	assert.Equal(t, 1, srv.CountRequests(http.MethodPost, "/api/tus"))
	assert.Equal(t, 1, srv.CountRequests(http.MethodPost, "/api/resources"))
}

func TestUpload_ProbeDisablesResumable(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.DisableTus()

	m := newTestManager(t, srv, SelectorConfig{TusEnabled: true, ProbeTus: true}, Options{})

	for _, p := range []string{"/1", "/2"} {
		res, err := m.Upload(context.Background(), Descriptor{Path: p, Payload: Text("x")})
		require.NoError(t, err)
		assert.Equal(t, Direct, res.Strategy)
	}

	assert.Equal(t, 1, srv.CountRequests(http.MethodOptions, "/api/tus"))
	assert.Equal(t, 0, srv.CountRequests(http.MethodPost, "/api/tus"))
}

func TestUpload_BlobMaterializedOutsideWebOrigin(t *testing.T) {
	srv := testutil.NewServer(t)
	m := newTestManager(t, srv, SelectorConfig{Origin: "app://desktop", TusEnabled: true}, Options{})

	path := filepath.Join(t.TempDir(), "photo.bin")
	require.NoError(t, os.WriteFile(path, content(64), 0o600))

	payload, err := OpenFile(path)
	require.NoError(t, err)
	defer payload.Close()

	res, err := m.Upload(context.Background(), Descriptor{Path: "/photo.bin", Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, Direct, res.Strategy)

	got, _ := srv.File("/photo.bin")
	assert.Equal(t, content(64), got)
}

func TestUpload_ResumesPersistedSession(t *testing.T) {
	srv := testutil.NewServer(t)
	store := newTestStore(t)
	m := newTestManager(t, srv, SelectorConfig{TusEnabled: true}, Options{ChunkSize: 10, Store: store})

	data := content(30)

	// Fail the second chunk without retry so the session is left half done.
	injected := false
	failSecond := func(p Progress) {
		if p.BytesTransferred == 10 && !injected {
			injected = true
			srv.FailPatches(testutil.PatchFault{Status: http.StatusBadRequest})
		}
	}

	_, err := m.Upload(context.Background(), Descriptor{Path: "/big.bin", Payload: Bytes(data), Progress: failSecond})
	require.Error(t, err)
	assert.Equal(t, int64(10), srv.UploadedBytes()["/big.bin"])

	recs, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)

	patchesBefore := srv.PatchCount()

	_, err = m.Upload(context.Background(), Descriptor{Path: "/big.bin", Payload: Bytes(data)})
	require.NoError(t, err)

	got, _ := srv.File("/big.bin")
	assert.Equal(t, data, got)
	assert.Equal(t, 2, srv.PatchCount()-patchesBefore)
	assert.Equal(t, 1, srv.CountRequests(http.MethodPost, "/api/tus"))

	recs, err = store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestUpload_ChangedPayloadStartsFresh(t *testing.T) {
	srv := testutil.NewServer(t)
	store := newTestStore(t)
	m := newTestManager(t, srv, SelectorConfig{TusEnabled: true}, Options{ChunkSize: 10, Store: store})

	srv.FailPatches(testutil.PatchFault{Status: http.StatusBadRequest})

	_, err := m.Upload(context.Background(), Descriptor{Path: "/f.bin", Payload: Bytes(content(20))})
	require.Error(t, err)

	_, err = m.Upload(context.Background(), Descriptor{Path: "/f.bin", Payload: Text("different content!!")})
	require.NoError(t, err)
	assert.Equal(t, 2, srv.CountRequests(http.MethodPost, "/api/tus"))
}

func TestUpload_ChecksumVerified(t *testing.T) {
	srv := testutil.NewServer(t)
	m := newTestManager(t, srv, SelectorConfig{TusEnabled: true}, Options{ChunkSize: 8, VerifyChecksum: "sha256"})

	res, err := m.Upload(context.Background(), Descriptor{Path: "/v.txt", Payload: Text("verify me please")})
	require.NoError(t, err)

	want, err := Digest(Text("verify me please"), "sha256")
	require.NoError(t, err)
	assert.Equal(t, want, res.Checksum)
}

// stubAPI is a hand-rolled API for lifecycle tests that need precise control.
type stubAPI struct {
	chunkStarted chan struct{}
	once         sync.Once
	checksum     string
}

func (s *stubAPI) Upload(context.Context, string, io.Reader, int64, bool, string) (string, error) {
	return "ok", nil
}

func (s *stubAPI) CreateUpload(
	_ context.Context, _, _ string, size int64, _ bool, _ map[string]string,
) (*api.UploadSession, error) {
	return &api.UploadSession{URL: "/s", Size: size}, nil
}

func (s *stubAPI) UploadOffset(context.Context, *api.UploadSession) (int64, error) {
	return 0, nil
}

func (s *stubAPI) UploadChunk(ctx context.Context, _ *api.UploadSession, _ io.Reader, _, _ int64) (int64, error) {
	s.once.Do(func() { close(s.chunkStarted) })
	<-ctx.Done()

	return 0, fmt.Errorf("%w: %w", api.ErrAborted, ctx.Err())
}

func (s *stubAPI) Checksum(context.Context, string, string) (string, error) {
	return s.checksum, nil
}

func TestUpload_CancelAbortsInFlight(t *testing.T) {
	stub := &stubAPI{chunkStarted: make(chan struct{})}
	m := NewManager(stub, NewSelector(SelectorConfig{TusEnabled: true}, nil, nil), Options{ChunkSize: 4})

	u := m.Start(context.Background(), Descriptor{Path: "/c.bin", Payload: Text("abcdefgh")})

	<-stub.chunkStarted
	assert.Equal(t, InFlight, u.State())

	u.Cancel()

	_, err := u.Wait()
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrAborted)
	assert.Equal(t, Aborted, u.State())

	u.Cancel()
	assert.Equal(t, Aborted, u.State())
	assert.ErrorIs(t, u.Resubmit(true), ErrNotConflicted)
}

func TestUpload_CancelKeepsSessionForResume(t *testing.T) {
	stub := &stubAPI{chunkStarted: make(chan struct{})}
	store := newTestStore(t)
	m := NewManager(stub, NewSelector(SelectorConfig{TusEnabled: true}, nil, nil),
		Options{ChunkSize: 4, Store: store, Server: "https://files.example"})

	u := m.Start(context.Background(), Descriptor{Path: "/c.bin", Payload: Text("abcdefgh")})

	<-stub.chunkStarted
	u.Cancel()

	_, err := u.Wait()
	assert.ErrorIs(t, err, api.ErrAborted)

	recs, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "/c.bin", recs[0].Path)
}

func TestUpload_ChecksumMismatchFails(t *testing.T) {
	stub := &stubAPI{checksum: "deadbeef"}
	m := NewManager(stub, NewSelector(SelectorConfig{}, nil, nil), Options{VerifyChecksum: "md5"})

	u := m.Start(context.Background(), Descriptor{Path: "/m.txt", Payload: Text("x")})
	_, err := u.Wait()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrChecksumMismatch))
	assert.Equal(t, Failed, u.State())
}
