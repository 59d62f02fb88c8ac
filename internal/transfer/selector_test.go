package transfer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tonimelisma/resourcectl/internal/api"
)

type countingProber struct {
	calls    int
	versions []string
	err      error
}

func (p *countingProber) TusOptions(context.Context, string) (*api.TusCapabilities, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}

	return &api.TusCapabilities{Versions: p.versions}, nil
}

func tusOn() SelectorConfig {
	return SelectorConfig{Origin: "https://files.example.com", TusEnabled: true}
}

func TestSelect_DirectoryAlwaysDirect(t *testing.T) {
	s := NewSelector(tusOn(), nil, nil)

	assert.Equal(t, Direct, s.Select(context.Background(), "/new/", Text("ignored")))
	assert.Equal(t, Direct, s.Select(context.Background(), "/new/", Blob(strings.NewReader(""), 0, "")))
}

func TestSelect_BlobOutsideWebOrigin(t *testing.T) {
	blob := Blob(strings.NewReader("x"), 1, "x")

	cfg := tusOn()
	cfg.Origin = "app://local"
	s := NewSelector(cfg, nil, nil)

	assert.Equal(t, Direct, s.Select(context.Background(), "/a", blob))
	assert.Equal(t, Resumable, s.Select(context.Background(), "/a", Bytes([]byte("x"))))

	cfg.Origin = "http://localhost:8080"
	assert.Equal(t, Resumable, NewSelector(cfg, nil, nil).Select(context.Background(), "/a", blob))
}

func TestSelect_TusDisabled(t *testing.T) {
	cfg := tusOn()
	cfg.TusEnabled = false

	assert.Equal(t, Direct, NewSelector(cfg, nil, nil).Select(context.Background(), "/a", Text("x")))
}

func TestSelect_Totality(t *testing.T) {
	payloads := []Payload{Bytes(nil), Text("t"), Blob(strings.NewReader("b"), 1, "b")}
	paths := []string{"/a", "/dir/", "/"}
	origins := []string{"", "https://x", "file:///x", "::bad"}

	for _, enabled := range []bool{true, false} {
		for _, origin := range origins {
			s := NewSelector(SelectorConfig{Origin: origin, TusEnabled: enabled}, nil, nil)

			for _, p := range paths {
				for _, payload := range payloads {
					got := s.Select(context.Background(), p, payload)
					assert.Contains(t, []Strategy{Direct, Resumable}, got)

					if strings.HasSuffix(p, "/") {
						assert.Equal(t, Direct, got, "directory path %s", p)
					}
				}
			}
		}
	}
}

func TestSelect_ProbeCachedUntilReset(t *testing.T) {
	prober := &countingProber{versions: []string{"1.0.0"}}

	cfg := tusOn()
	cfg.ProbeTus = true
	s := NewSelector(cfg, prober, nil)

	for range 3 {
		assert.Equal(t, Resumable, s.Select(context.Background(), "/a", Text("x")))
	}

	assert.Equal(t, 1, prober.calls)

	s.Reset()
	s.Select(context.Background(), "/a", Text("x"))
	assert.Equal(t, 2, prober.calls)
}

func TestSelect_ProbeRejectsUnsupportedVersion(t *testing.T) {
	prober := &countingProber{versions: []string{"0.2.2"}}

	cfg := tusOn()
	cfg.ProbeTus = true

	assert.Equal(t, Direct, NewSelector(cfg, prober, nil).Select(context.Background(), "/a", Text("x")))
}

func TestSelect_ProbeFailureCachedAsUnavailable(t *testing.T) {
	prober := &countingProber{err: errors.New("boom")}

	cfg := tusOn()
	cfg.ProbeTus = true
	s := NewSelector(cfg, prober, nil)

	assert.Equal(t, Direct, s.Select(context.Background(), "/a", Text("x")))
	assert.Equal(t, Direct, s.Select(context.Background(), "/b", Text("x")))
	assert.Equal(t, 1, prober.calls)
}

func TestSelect_CanceledProbeNotCached(t *testing.T) {
	prober := &countingProber{err: context.Canceled}

	cfg := tusOn()
	cfg.ProbeTus = true
	s := NewSelector(cfg, prober, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, Direct, s.Select(ctx, "/a", Text("x")))

	prober.err = nil
	prober.versions = []string{"1.0.0"}

	assert.Equal(t, Resumable, s.Select(context.Background(), "/a", Text("x")))
	assert.Equal(t, 2, prober.calls)
}

func TestStrategy_String(t *testing.T) {
	assert.Equal(t, "direct", Direct.String())
	assert.Equal(t, "resumable", Resumable.String())
}
