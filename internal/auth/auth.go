// Package auth owns the login credential: logging in, persisting the token,
// and renewing it before the server's expiry so long transfers keep their
// authorization.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/resourcectl/internal/api"
	"github.com/tonimelisma/resourcectl/internal/tokenfile"
)

// RenewBefore is how long before expiry a credential is renewed.
const RenewBefore = 5 * time.Minute

// tokenType labels persisted credentials; the server reads them from X-Auth.
const tokenType = "X-Auth"

// ErrNotLoggedIn means no usable credential is stored for the server.
var ErrNotLoggedIn = errors.New("auth: not logged in")

// Authenticator is the subset of the API client used to obtain credentials.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (string, error)
	Renew(ctx context.Context, current string) (string, error)
}

// Login exchanges username and password for a credential and saves it at
// tokenPath, tagged with server and username.
func Login(
	ctx context.Context, client Authenticator, server, tokenPath, username, password string, logger *slog.Logger,
) (*oauth2.Token, error) {
	raw, err := client.Login(ctx, username, password)
	if err != nil {
		return nil, fmt.Errorf("auth: login failed: %w", err)
	}

	tok := newToken(raw, logger)

	meta := map[string]string{
		tokenfile.MetaServer:   server,
		tokenfile.MetaUsername: username,
	}

	if err := tokenfile.Save(tokenPath, tok, meta); err != nil {
		return nil, fmt.Errorf("auth: saving token: %w", err)
	}

	logger.Info("login successful",
		slog.String("path", tokenPath),
		slog.String("username", username),
		slog.Time("expiry", tok.Expiry),
	)

	return tok, nil
}

// Logout removes the saved token file. A missing file is not an error.
func Logout(tokenPath string, logger *slog.Logger) error {
	err := os.Remove(tokenPath)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("logout: no token file to remove", slog.String("path", tokenPath))

		return nil
	}

	if err != nil {
		return fmt.Errorf("auth: removing token file: %w", err)
	}

	logger.Info("logout: removed token file", slog.String("path", tokenPath))

	return nil
}

// ParseExpiry returns the exp claim of a JWT credential, or the zero time
// when the claim is absent. The signature is not checked; only the server
// can do that.
func ParseExpiry(token string) (time.Time, error) {
	var claims jwt.RegisteredClaims

	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return time.Time{}, fmt.Errorf("auth: parsing credential: %w", err)
	}

	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}

	return claims.ExpiresAt.Time, nil
}

// newToken wraps a raw credential. An unparsable credential gets no expiry
// and is never renewed proactively.
func newToken(raw string, logger *slog.Logger) *oauth2.Token {
	exp, err := ParseExpiry(raw)
	if err != nil {
		logger.Debug("credential expiry unknown", slog.String("error", err.Error()))
	}

	return &oauth2.Token{AccessToken: raw, TokenType: tokenType, Expiry: exp}
}

// TokenSource supplies the stored credential to api.Client, renewing it
// RenewBefore its expiry and persisting every renewed credential.
type TokenSource struct {
	src    oauth2.TokenSource
	path   string
	meta   map[string]string
	logger *slog.Logger

	mu   sync.Mutex
	last string
}

// NewTokenSource loads the credential saved for server at tokenPath.
// ctx bounds renew requests and must outlive the TokenSource.
func NewTokenSource(
	ctx context.Context, client Authenticator, server, tokenPath string, logger *slog.Logger,
) (*TokenSource, error) {
	tok, meta, err := tokenfile.LoadFor(tokenPath, server)
	if err != nil {
		return nil, err
	}

	if tok == nil {
		return nil, ErrNotLoggedIn
	}

	logger.Debug("loaded saved token",
		slog.String("path", tokenPath),
		slog.Time("expiry", tok.Expiry),
	)

	r := &renewer{ctx: ctx, client: client, current: tok.AccessToken, logger: logger}

	return &TokenSource{
		src:    oauth2.ReuseTokenSourceWithExpiry(tok, r, RenewBefore),
		path:   tokenPath,
		meta:   meta,
		logger: logger,
		last:   tok.AccessToken,
	}, nil
}

// Token returns the current credential, renewing it first if it is about to
// expire.
func (ts *TokenSource) Token() (string, error) {
	t, err := ts.src.Token()
	if err != nil {
		ts.logger.Warn("token acquisition failed", slog.String("error", err.Error()))

		return "", err
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	if t.AccessToken != ts.last {
		ts.last = t.AccessToken

		if saveErr := tokenfile.Save(ts.path, t, ts.meta); saveErr != nil {
			ts.logger.Warn("failed to persist renewed token",
				slog.String("path", ts.path),
				slog.String("error", saveErr.Error()),
			)
		} else {
			ts.logger.Info("persisted renewed token",
				slog.String("path", ts.path),
				slog.Time("expiry", t.Expiry),
			)
		}
	}

	return t.AccessToken, nil
}

// renewer is the oauth2.TokenSource behind the reuse cache. It is only
// called when the cached credential is within RenewBefore of its expiry.
type renewer struct {
	ctx    context.Context
	client Authenticator
	logger *slog.Logger

	mu      sync.Mutex
	current string
}

func (r *renewer) Token() (*oauth2.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Info("renewing credential")

	raw, err := r.client.Renew(r.ctx, r.current)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) || errors.Is(err, api.ErrForbidden) {
			return nil, fmt.Errorf("%w: credential expired: %w", ErrNotLoggedIn, err)
		}

		return nil, fmt.Errorf("auth: renewing credential: %w", err)
	}

	r.current = raw

	return newToken(raw, r.logger), nil
}
