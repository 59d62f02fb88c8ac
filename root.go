package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/resourcectl/internal/api"
	"github.com/tonimelisma/resourcectl/internal/auth"
	"github.com/tonimelisma/resourcectl/internal/config"
	"github.com/tonimelisma/resourcectl/internal/transfer"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagServer     string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// CLIFlags is the parsed form of the persistent flags.
type CLIFlags struct {
	JSON    bool
	Verbose bool
	Quiet   bool
}

// CLIContext carries everything a subcommand needs. It is built once in
// PersistentPreRunE and stored on the command context.
type CLIContext struct {
	Cfg    *config.Resolved
	Flags  CLIFlags
	Logger *slog.Logger
	Out    io.Writer
	Err    io.Writer

	httpClient *http.Client
}

type cliContextKey struct{}

func withCLIContext(ctx context.Context, cc *CLIContext) context.Context {
	return context.WithValue(ctx, cliContextKey{}, cc)
}

// mustCLIContext returns the CLIContext stored by the root pre-run. Every
// subcommand runs after it, so a missing value is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("resourcectl: CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds the root command with all subcommands registered.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resourcectl",
		Short: "File browser resource API client",
		Long: `Upload, download, and manage files on a file browser server.

Uploads pick a strategy per file: resumable (tus) chunked uploads when the
server supports them, a single direct request otherwise. Interrupted
resumable uploads continue where they stopped when the same command is
run again.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagServer, "server", "", "server URL (overrides config and environment)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newStatCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newMkdirCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newMvCmd())
	cmd.AddCommand(newCpCmd())
	cmd.AddCommand(newChecksumCmd())
	cmd.AddCommand(newShareCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newExecCmd())
	cmd.AddCommand(newWatchCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the four-layer
// override chain and stores a CLIContext on the command.
func loadConfig(cmd *cobra.Command) error {
	flags := CLIFlags{JSON: flagJSON, Verbose: flagVerbose, Quiet: flagQuiet}
	boot := buildLogger(nil, flags, cmd.ErrOrStderr())

	cli := config.CLIOverrides{ConfigPath: flagConfigPath, Server: flagServer}

	resolved, err := config.Resolve(config.ReadEnvOverrides(boot), cli, boot)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cc := &CLIContext{
		Cfg:        resolved,
		Flags:      flags,
		Logger:     buildLogger(resolved, flags, cmd.ErrOrStderr()),
		Out:        cmd.OutOrStdout(),
		Err:        cmd.ErrOrStderr(),
		httpClient: newHTTPClient(resolved),
	}

	cmd.SetContext(withCLIContext(cmd.Context(), cc))

	return nil
}

// buildLogger creates the logger. The config file level is the baseline;
// --verbose and --quiet override it. Without a config (bootstrap) only
// warnings are shown.
func buildLogger(cfg *config.Resolved, flags CLIFlags, w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	format := "auto"

	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}

		format = cfg.Logging.LogFormat
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !isTerminal(w)) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// newHTTPClient bounds connection setup by connect_timeout. There is no
// overall request timeout: uploads of large files run as long as they make
// progress.
func newHTTPClient(cfg *config.Resolved) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext
	transport.TLSHandshakeTimeout = cfg.ConnectTimeout

	return &http.Client{Transport: transport}
}

// apiClient returns an authenticated client. A missing login is not an
// error: servers may run without authentication, and one that does not will
// answer 401, which exitOnError turns into a login hint.
func (cc *CLIContext) apiClient(ctx context.Context) (*api.Client, error) {
	ts, err := cc.tokenSource(ctx)
	if err != nil {
		return nil, err
	}

	return api.NewClient(cc.Cfg.Server.URL, cc.httpClient, ts, cc.Logger, cc.Cfg.Network.UserAgent), nil
}

// tokenSource returns the saved login for the configured server, or nil when
// there is none.
func (cc *CLIContext) tokenSource(ctx context.Context) (api.TokenSource, error) {
	ts, err := auth.NewTokenSource(ctx, cc.bareClient(), cc.Cfg.Server.URL, cc.Cfg.Auth.TokenFile, cc.Logger)
	if errors.Is(err, auth.ErrNotLoggedIn) {
		cc.Logger.Debug("no saved login, continuing without credential")

		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return ts, nil
}

// bareClient returns a client without credential, for login and renew.
func (cc *CLIContext) bareClient() *api.Client {
	return api.NewClient(cc.Cfg.Server.URL, cc.httpClient, nil, cc.Logger, cc.Cfg.Network.UserAgent)
}

// sessionStorePath is the upload session database location.
func sessionStorePath() string {
	return filepath.Join(config.DefaultDataDir(), transfer.SessionFile)
}

// uploadManager wires a transfer.Manager to the config. The returned close
// function releases the session store.
func (cc *CLIContext) uploadManager(ctx context.Context, client *api.Client) (*transfer.Manager, func(), error) {
	store, err := transfer.OpenSessionStore(ctx, sessionStorePath(), cc.Logger)
	if err != nil {
		return nil, nil, err
	}

	srv := cc.Cfg.Server

	selector := transfer.NewSelector(transfer.SelectorConfig{
		Origin:      srv.Origin,
		TusEndpoint: srv.TusEndpoint,
		TusEnabled:  srv.TusEnabled,
		ProbeTus:    srv.ProbeTus,
	}, client, cc.Logger)

	retries := cc.Cfg.Transfers.RetryCount
	if retries == 0 {
		retries = -1 // configured 0 means no retries; Options treats 0 as default
	}

	mgr := transfer.NewManager(client, selector, transfer.Options{
		Server:         srv.URL,
		TusEndpoint:    srv.TusEndpoint,
		ChunkSize:      cc.Cfg.ChunkBytes,
		RetryCount:     retries,
		VerifyChecksum: cc.Cfg.Transfers.VerifyChecksum,
		Store:          store,
		Logger:         cc.Logger,
	})

	return mgr, func() {
		if err := store.Close(); err != nil {
			cc.Logger.Warn("closing session store", slog.String("error", err.Error()))
		}
	}, nil
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	printError(err)
	os.Exit(exitFailure)
}

func printError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	switch {
	case errors.Is(err, api.ErrUnauthorized), errors.Is(err, auth.ErrNotLoggedIn):
		fmt.Fprintln(os.Stderr, "Hint: run 'resourcectl login' first.")
	case transfer.IsConflict(err):
		fmt.Fprintln(os.Stderr, "Hint: use --overwrite to replace the existing destination.")
	}
}
