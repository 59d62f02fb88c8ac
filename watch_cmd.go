package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/resourcectl/internal/config"
	"github.com/tonimelisma/resourcectl/internal/watch"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <local-dir> <remote-dir>",
		Short: "Upload local changes as they happen",
		Long: `Watch a local folder and upload new and changed files into a remote
folder, replacing the remote copies. A file is uploaded once it has not
changed for the debounce interval. Local deletions are not mirrored.

Only one watcher may run per local folder. Stop with Ctrl-C.`,
		Args: cobra.ExactArgs(2),
		RunE: runWatch,
	}

	cmd.Flags().Duration("debounce", watch.DefaultDebounce, "quiet time before a changed file is uploaded")
	cmd.Flags().Bool("initial", false, "upload every existing file on start")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	root, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolving %s: %w", args[0], err)
	}

	debounce, _ := cmd.Flags().GetDuration("debounce")
	initial, _ := cmd.Flags().GetBool("initial")

	if debounce < 0 {
		return fmt.Errorf("--debounce must not be negative, got %s", debounce)
	}

	lock, err := lockWatch(config.DefaultDataDir(), root)
	if err != nil {
		return err
	}
	defer lock.release()

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	client, err := cc.apiClient(ctx)
	if err != nil {
		return err
	}

	mgr, closeStore, err := cc.uploadManager(ctx, client)
	if err != nil {
		return err
	}
	defer closeStore()

	w := watch.New(root, args[1], mgr, watch.Options{
		Debounce: debounce,
		Parallel: cc.Cfg.Transfers.ParallelUploads,
		Initial:  initial,
		Logger:   cc.Logger,
	})

	cc.Statusf("Watching %s -> %s (debounce %s). Press Ctrl-C to stop.\n",
		root, args[1], debounce.Round(time.Millisecond))

	if err := w.Run(ctx); err != nil {
		return err
	}

	cc.Statusf("Stopped watching %s.\n", root)

	return nil
}
