package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/resourcectl/internal/auth"
	"github.com/tonimelisma/resourcectl/internal/config"
	"github.com/tonimelisma/resourcectl/internal/tokenfile"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with username and password",
		Long: `Exchange a username and password for a credential and save it.

The password is read from --password, or from the first line of stdin when
--password-stdin is set. On first login a config file pointing at the
server is created.`,
		RunE: runLogin,
	}

	cmd.Flags().StringP("username", "u", "", "account username")
	cmd.Flags().String("password", "", "account password")
	cmd.Flags().Bool("password-stdin", false, "read the password from stdin")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove saved credential",
		RunE:  runLogout,
	}
}

// loginOutput is the JSON schema for `login --json`.
type loginOutput struct {
	Server   string `json:"server"`
	Username string `json:"username"`
	Expiry   string `json:"expiry,omitempty"`
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")
	fromStdin, _ := cmd.Flags().GetBool("password-stdin")

	if username == "" {
		return fmt.Errorf("--username is required")
	}

	if fromStdin {
		p, err := readPassword(cmd.InOrStdin())
		if err != nil {
			return err
		}

		password = p
	}

	server := cc.Cfg.Server.URL
	cc.Logger.Info("login started", slog.String("server", server), slog.String("username", username))

	tok, err := auth.Login(ctx, cc.bareClient(), server, cc.Cfg.Auth.TokenFile, username, password, cc.Logger)
	if err != nil {
		return err
	}

	if err := ensureConfigFile(cc); err != nil {
		return err
	}

	if cc.Flags.JSON {
		out := loginOutput{Server: server, Username: username}
		if !tok.Expiry.IsZero() {
			out.Expiry = tok.Expiry.UTC().Format("2006-01-02T15:04:05Z")
		}

		return printJSON(cc.Out, out)
	}

	cc.Statusf("Logged in to %s as %s.\n", server, username)

	return nil
}

// readPassword reads the first line of r.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password from stdin: %w", err)
	}

	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("no password on stdin")
	}

	return line, nil
}

// ensureConfigFile creates a config file for the logged-in server when none
// exists yet. An existing file is left alone.
func ensureConfigFile(cc *CLIContext) error {
	_, err := os.Stat(cc.Cfg.ConfigPath)
	if err == nil {
		return nil
	}

	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking config file: %w", err)
	}

	if err := config.CreateConfig(cc.Cfg.ConfigPath, cc.Cfg.Server.URL, cc.Logger); err != nil {
		return err
	}

	cc.Statusf("Created config file %s\n", cc.Cfg.ConfigPath)

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	path := cc.Cfg.Auth.TokenFile

	meta, err := tokenfile.ReadMeta(path)
	if err != nil {
		cc.Logger.Debug("reading token metadata", slog.String("error", err.Error()))
	}

	if err := auth.Logout(path, cc.Logger); err != nil {
		return err
	}

	if user := meta[tokenfile.MetaUsername]; user != "" {
		cc.Statusf("Logged out %s.\n", user)

		return nil
	}

	cc.Statusf("Logged out.\n")

	return nil
}
