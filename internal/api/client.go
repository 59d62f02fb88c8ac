package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const (
	authHeader          = "X-Auth"
	sharePasswordHeader = "X-SHARE-PASSWORD"

	// DefaultUserAgent is sent when the caller does not configure one.
	DefaultUserAgent = "resourcectl/0.1"
)

// TokenSource provides the bearer credential attached to authenticated
// requests. Defined at the consumer; internal/auth provides the real
// implementation. The client only ever reads the credential.
type TokenSource interface {
	Token() (string, error)
}

// Client is an HTTP client for the resource API. It handles request
// construction, credential attachment, and error classification. It never
// retries: retry policy belongs to callers (see internal/transfer).
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
	userAgent  string
	urls       *Builder
}

// NewClient creates a resource API client.
// baseURL is the server root including any base path, e.g. "https://files.example.com".
// token may be nil for servers running without authentication.
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger, userAgent string) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	baseURL = strings.TrimSuffix(baseURL, "/")

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		userAgent:  userAgent,
		urls:       NewBuilder(baseURL, token),
	}
}

// BaseURL returns the server root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// URLs returns the absolute URL builder bound to this client's server and credential.
func (c *Client) URLs() *Builder {
	return c.urls
}

// requestConfig collects per-request settings applied by RequestOptions.
type requestConfig struct {
	header        http.Header
	contentLength int64
	anonymous     bool
}

// RequestOption customizes a single request.
type RequestOption func(*requestConfig)

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return func(rc *requestConfig) {
		rc.header.Set(key, value)
	}
}

// WithContentType sets the Content-Type header.
func WithContentType(contentType string) RequestOption {
	return WithHeader("Content-Type", contentType)
}

// WithContentLength declares the exact body length, for bodies whose size
// net/http cannot infer (progress readers, section readers).
func WithContentLength(n int64) RequestOption {
	return func(rc *requestConfig) {
		rc.contentLength = n
	}
}

// WithSharePassword replaces the credential with a public share password.
// The password is URL-encoded as the share endpoints expect.
func WithSharePassword(password string) RequestOption {
	return func(rc *requestConfig) {
		rc.anonymous = true
		if password != "" {
			rc.header.Set(sharePasswordHeader, url.QueryEscape(password))
		}
	}
}

// Anonymous sends the request without any credential (login endpoint).
func Anonymous() RequestOption {
	return func(rc *requestConfig) {
		rc.anonymous = true
	}
}

// Do executes an HTTP request against the resource API. target is either a
// path relative to the base URL (as produced by ResourcePath) or an absolute
// http(s) URL such as a tus upload Location.
// On a 2xx status the caller owns the response body. Any other status is
// returned as *APIError with the body text; no response at all is
// ErrConnectionAborted; caller cancellation is ErrAborted.
func (c *Client) Do(
	ctx context.Context, method, target string, body io.Reader, opts ...RequestOption,
) (*http.Response, error) {
	rc := requestConfig{header: make(http.Header), contentLength: -1}
	for _, opt := range opts {
		opt(&rc)
	}

	req, err := c.newRequest(ctx, method, target, body, &rc)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s %s: %w", ErrAborted, method, target, ctx.Err())
		}

		c.logger.Warn("request failed without response",
			slog.String("method", method),
			slog.String("target", redactTarget(target)),
			slog.String("error", err.Error()),
		)

		return nil, fmt.Errorf("%w: %s %s: %w", ErrConnectionAborted, method, redactTarget(target), err)
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("request succeeded",
			slog.String("method", method),
			slog.String("target", redactTarget(target)),
			slog.Int("status", resp.StatusCode),
		)

		return resp, nil
	}

	errBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()

	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	c.logger.Debug("request rejected",
		slog.String("method", method),
		slog.String("target", redactTarget(target)),
		slog.Int("status", resp.StatusCode),
	)

	return nil, newAPIError(resp.StatusCode, errBody)
}

// DoJSON executes a request and decodes a JSON response body into out.
func (c *Client) DoJSON(
	ctx context.Context, method, target string, body io.Reader, out any, opts ...RequestOption,
) error {
	resp, err := c.Do(ctx, method, target, body, opts...)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decoding %s %s response: %w", method, redactTarget(target), err)
	}

	return nil
}

// DoText executes a request and returns the response body as text.
func (c *Client) DoText(
	ctx context.Context, method, target string, body io.Reader, opts ...RequestOption,
) (string, error) {
	resp, err := c.Do(ctx, method, target, body, opts...)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("api: reading %s %s response: %w", method, redactTarget(target), err)
	}

	return string(text), nil
}

// newRequest builds the http.Request, attaching headers and the credential.
func (c *Client) newRequest(
	ctx context.Context, method, target string, body io.Reader, rc *requestConfig,
) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.resolve(target), body)
	if err != nil {
		return nil, fmt.Errorf("api: creating request: %w", err)
	}

	for key, values := range rc.header {
		req.Header[key] = values
	}

	req.Header.Set("User-Agent", c.userAgent)

	if rc.contentLength >= 0 {
		req.ContentLength = rc.contentLength
		if rc.contentLength == 0 {
			req.Body = http.NoBody
		}
	}

	if !rc.anonymous && c.token != nil {
		tok, tokErr := c.token.Token()
		if tokErr != nil {
			return nil, fmt.Errorf("api: obtaining token: %w", tokErr)
		}

		req.Header.Set(authHeader, tok)
	}

	return req, nil
}

// resolve turns a relative target into an absolute URL.
func (c *Client) resolve(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}

	return c.baseURL + target
}

// redactTarget drops the query string, which may carry auth tokens.
func redactTarget(target string) string {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i]
	}

	return target
}
