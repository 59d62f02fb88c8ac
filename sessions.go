package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/resourcectl/internal/api"
	"github.com/tonimelisma/resourcectl/internal/transfer"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage saved resumable upload sessions",
		Long: `Resumable uploads save their session so an interrupted upload of the
same file to the same path continues where it stopped. Sessions are removed
when the upload completes.`,
	}

	cmd.AddCommand(newSessionsLsCmd())
	cmd.AddCommand(newSessionsCleanCmd())
	cmd.AddCommand(newSessionsDropCmd())

	return cmd
}

func newSessionsLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List saved upload sessions",
		Args:  cobra.NoArgs,
		RunE:  runSessionsLs,
	}

	cmd.Flags().Bool("check", false, "ask the server how much of each session is stored")

	return cmd
}

func newSessionsCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Forget sessions not used recently",
		Args:  cobra.NoArgs,
		RunE:  runSessionsClean,
	}

	cmd.Flags().Duration("older-than", transfer.StaleSessionAge, "forget sessions idle for longer than this")

	return cmd
}

func newSessionsDropCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drop <remote-path>...",
		Short: "Forget the sessions of the given paths and discard their server data",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSessionsDrop,
	}

	cmd.Flags().Bool("keep-remote", false, "only forget locally; leave the server upload in place")

	return cmd
}

// sessionJSON is the JSON schema for one saved session. The session URL is
// omitted: it may grant upload access on its own.
type sessionJSON struct {
	Server    string `json:"server"`
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	Offset    *int64 `json:"offset,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

func openStore(ctx context.Context, cc *CLIContext) (*transfer.SessionStore, error) {
	return transfer.OpenSessionStore(ctx, sessionStorePath(), cc.Logger)
}

func runSessionsLs(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	check, _ := cmd.Flags().GetBool("check")

	store, err := openStore(ctx, cc)
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.List(ctx)
	if err != nil {
		return err
	}

	var client *api.Client
	if check {
		if client, err = cc.apiClient(ctx); err != nil {
			return err
		}
	}

	out := make([]sessionJSON, len(recs))
	for i := range recs {
		out[i] = sessionJSON{
			Server:    recs[i].Server,
			Path:      recs[i].Path,
			Size:      recs[i].Size,
			UpdatedAt: recs[i].UpdatedAt.UTC().Format(time.RFC3339),
		}

		if client != nil && recs[i].Server == cc.Cfg.Server.URL {
			out[i].Offset = sessionOffset(ctx, cc, client, &recs[i])
		}
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, out)
	}

	if len(out) == 0 {
		cc.Statusf("No saved upload sessions.\n")

		return nil
	}

	rows := make([][]string, len(recs))
	for i := range recs {
		stored := "-"
		if out[i].Offset != nil {
			stored = formatSize(*out[i].Offset)
		}

		rows[i] = []string{recs[i].Path, formatSize(recs[i].Size), stored, formatAge(recs[i].UpdatedAt), recs[i].Server}
	}

	printTable(cc.Out, []string{"PATH", "SIZE", "STORED", "UPDATED", "SERVER"}, rows)

	return nil
}

// sessionOffset asks the server for the stored offset of rec. A session the
// server no longer knows reports nil.
func sessionOffset(ctx context.Context, cc *CLIContext, client *api.Client, rec *transfer.SessionRecord) *int64 {
	off, err := client.UploadOffset(ctx, &api.UploadSession{URL: rec.SessionURL, Size: rec.Size})
	if err != nil {
		cc.Logger.Debug("session offset unavailable",
			slog.String("path", rec.Path),
			slog.String("error", err.Error()),
		)

		return nil
	}

	return &off
}

func runSessionsClean(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	age, _ := cmd.Flags().GetDuration("older-than")

	if age <= 0 {
		return fmt.Errorf("--older-than must be positive, got %s", age)
	}

	store, err := openStore(ctx, cc)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.CleanStale(ctx, age)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, map[string]int{"removed": n})
	}

	cc.Statusf("Removed %d stale session(s).\n", n)

	return nil
}

func runSessionsDrop(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	keepRemote, _ := cmd.Flags().GetBool("keep-remote")

	store, err := openStore(ctx, cc)
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.List(ctx)
	if err != nil {
		return err
	}

	var client *api.Client
	if !keepRemote {
		if client, err = cc.apiClient(ctx); err != nil {
			return err
		}
	}

	wanted := make(map[string]bool, len(args))
	for _, p := range args {
		wanted[p] = true
	}

	dropped := 0

	for i := range recs {
		rec := &recs[i]
		if rec.Server != cc.Cfg.Server.URL || !wanted[rec.Path] {
			continue
		}

		if client != nil {
			if err := client.TerminateUpload(ctx, &api.UploadSession{URL: rec.SessionURL, Size: rec.Size}); err != nil {
				cc.Logger.Warn("terminating server upload failed",
					slog.String("path", rec.Path),
					slog.String("error", err.Error()),
				)
			}
		}

		if err := store.Delete(ctx, rec.Server, rec.Path, rec.Fingerprint); err != nil {
			return err
		}

		dropped++
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, map[string]int{"dropped": dropped})
	}

	cc.Statusf("Dropped %d session(s).\n", dropped)

	return nil
}
