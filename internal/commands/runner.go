// Package commands runs server-side commands over the command websocket and
// streams their output lines back to the caller.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/tonimelisma/resourcectl/internal/api"
)

// notAllowedReply is the server's answer to a command the user may not run.
const notAllowedReply = "Command not allowed."

// ErrNotAllowed means the server refused to execute the command.
var ErrNotAllowed = errors.New("commands: command not allowed")

// Runner executes commands in a server directory.
type Runner struct {
	baseURL    string
	httpClient *http.Client
	token      api.TokenSource
	logger     *slog.Logger
}

// NewRunner creates a Runner for the server at baseURL. token may be nil for
// servers running without authentication.
func NewRunner(baseURL string, httpClient *http.Client, token api.TokenSource, logger *slog.Logger) *Runner {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		token:      token,
		logger:     logger,
	}
}

// Run sends command to be executed in dir and calls out for every output
// line until the server closes the connection. The server ends a finished
// command either with a normal close frame or by dropping the connection.
// A server-side failure closes the socket with a non-normal status, which is
// returned as an error.
func (r *Runner) Run(ctx context.Context, dir, command string, out func(line string)) error {
	command = strings.TrimSpace(command)
	if command == "" {
		return errors.New("commands: empty command")
	}

	header := make(http.Header)

	if r.token != nil {
		tok, err := r.token.Token()
		if err != nil {
			return fmt.Errorf("commands: obtaining token: %w", err)
		}

		header.Set("X-Auth", tok)
	}

	target := r.baseURL + api.ResourcePath(api.CommandEndpoint, dir, nil)

	r.logger.Info("running command", slog.String("dir", dir), slog.String("command", command))

	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPClient: r.httpClient,
		HTTPHeader: header,
	})
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", api.ErrAborted, ctx.Err())
		}

		return fmt.Errorf("commands: connecting: %w", err)
	}
	defer conn.CloseNow()

	if err := conn.Write(ctx, websocket.MessageText, []byte(command)); err != nil {
		return fmt.Errorf("commands: sending command: %w", err)
	}

	lines := 0

	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			return r.finish(ctx, err, lines)
		}

		line := strings.TrimRight(string(msg), "\n")

		if lines == 0 && line == notAllowedReply {
			return fmt.Errorf("%w: %s", ErrNotAllowed, command)
		}

		lines++

		out(line)
	}
}

// finish classifies the error that ended the read loop.
func (r *Runner) finish(ctx context.Context, err error, lines int) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", api.ErrAborted, ctx.Err())
	}

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		r.logger.Debug("command finished", slog.Int("lines", lines))

		return nil
	case -1:
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			r.logger.Debug("command finished, connection dropped", slog.Int("lines", lines))

			return nil
		}

		return fmt.Errorf("%w: reading command output: %w", api.ErrConnectionAborted, err)
	default:
		return fmt.Errorf("commands: command failed: %w", err)
	}
}
