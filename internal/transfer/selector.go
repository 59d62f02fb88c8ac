package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/tonimelisma/resourcectl/internal/api"
)

// Strategy is the upload mechanism chosen for a descriptor.
type Strategy int

const (
	Direct    Strategy = iota // one POST carrying the whole body
	Resumable                 // tus session with chunked PATCH requests
)

func (s Strategy) String() string {
	switch s {
	case Direct:
		return "direct"
	case Resumable:
		return "resumable"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// Prober asks the server which tus protocol versions it speaks.
// Satisfied by *api.Client.
type Prober interface {
	TusOptions(ctx context.Context, endpoint string) (*api.TusCapabilities, error)
}

// SelectorConfig holds the inputs of the strategy decision.
type SelectorConfig struct {
	Origin      string // origin the client runs under; "" behaves as http(s)
	TusEndpoint string
	TusEnabled  bool
	ProbeTus    bool // confirm TusEnabled with an OPTIONS request
}

// Selector decides between Direct and Resumable uploads. The capability
// probe runs at most once per Selector; Reset forgets its result.
type Selector struct {
	cfg    SelectorConfig
	prober Prober
	logger *slog.Logger

	mu        sync.Mutex
	probed    bool
	available bool
}

// NewSelector creates a Selector. prober may be nil when ProbeTus is off.
func NewSelector(cfg SelectorConfig, prober Prober, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.TusEndpoint == "" {
		cfg.TusEndpoint = api.DefaultTusEndpoint
	}

	return &Selector{cfg: cfg, prober: prober, logger: logger}
}

// Select returns the strategy for uploading payload to path. Rules apply in
// order: directory paths go direct, blobs outside a web origin go direct,
// servers without resumable support get direct, everything else resumes.
func (s *Selector) Select(ctx context.Context, path string, payload Payload) Strategy {
	if api.IsDirPath(path) {
		return Direct
	}

	if payload.Kind() == KindBlob && !s.webOrigin() {
		return Direct
	}

	if !s.ResumableAvailable(ctx) {
		return Direct
	}

	return Resumable
}

// webOrigin reports whether the configured origin scheme is http or https.
func (s *Selector) webOrigin() bool {
	if s.cfg.Origin == "" {
		return true
	}

	u, err := url.Parse(s.cfg.Origin)
	if err != nil {
		return false
	}

	return u.Scheme == "http" || u.Scheme == "https"
}

// ResumableAvailable reports whether the server accepts tus uploads,
// probing on first use. A canceled probe is not cached.
func (s *Selector) ResumableAvailable(ctx context.Context) bool {
	if !s.cfg.TusEnabled {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.probed {
		return s.available
	}

	if !s.cfg.ProbeTus || s.prober == nil {
		return true
	}

	caps, err := s.prober.TusOptions(ctx, s.cfg.TusEndpoint)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}

		s.logger.Warn("resumable upload probe failed, using direct uploads",
			slog.String("endpoint", s.cfg.TusEndpoint),
			slog.String("error", err.Error()),
		)

		s.probed, s.available = true, false

		return false
	}

	s.probed = true
	s.available = caps.Supports(api.TusVersion)

	s.logger.Debug("resumable upload probe",
		slog.Bool("available", s.available),
		slog.Any("versions", caps.Versions),
	)

	return s.available
}

// Reset clears the cached probe result.
func (s *Selector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.probed, s.available = false, false
}
