package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// Login exchanges username and password for a credential. The request is
// sent without any stored credential. The response body is the token text.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	c.logger.Info("logging in", slog.String("username", username))

	body, err := json.Marshal(struct {
		Username  string `json:"username"`
		Password  string `json:"password"`
		Recaptcha string `json:"recaptcha"`
	}{Username: username, Password: password})
	if err != nil {
		return "", fmt.Errorf("api: encoding login request: %w", err)
	}

	token, err := c.DoText(ctx, http.MethodPost, LoginEndpoint, bytes.NewReader(body),
		Anonymous(), WithContentType("application/json"))
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(token), nil
}

// Renew trades a still-valid credential for a fresh one. current is sent
// explicitly so renewal does not recurse through the client's TokenSource.
func (c *Client) Renew(ctx context.Context, current string) (string, error) {
	c.logger.Debug("renewing credential")

	token, err := c.DoText(ctx, http.MethodPost, RenewEndpoint, nil,
		Anonymous(), WithHeader(authHeader, current), WithContentLength(0))
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(token), nil
}
