package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/resourcectl/internal/commands"
)

func newExecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec [--dir <remote-dir>] -- <command> [args...]",
		Short: "Run a server-side command in a remote folder",
		Long: `Run a command on the server in a remote folder and print its output.

The server decides which commands a user may run; a refused command is
reported as an error. Interrupting with Ctrl-C closes the connection.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runExec,
	}

	cmd.Flags().String("dir", "/", "remote folder to run in")

	return cmd
}

func runExec(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := shutdownContext(cmd.Context(), cc.Logger)
	dir, _ := cmd.Flags().GetString("dir")

	if !strings.HasSuffix(dir, "/") {
		dir += "/"
	}

	ts, err := cc.tokenSource(ctx)
	if err != nil {
		return err
	}

	runner := commands.NewRunner(cc.Cfg.Server.URL, cc.httpClient, ts, cc.Logger)

	return runner.Run(ctx, dir, strings.Join(args, " "), func(line string) {
		fmt.Fprintln(cc.Out, line)
	})
}
