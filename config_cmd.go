package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/resourcectl/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigSetCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		RunE:  runConfigShow,
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <section.key> <value>",
		Short: "Set a value in the config file",
		Long: `Set a single key in the config file, e.g.

  resourcectl config set transfers.chunk_size 32MiB

The file is created when missing. A value that fails validation is
reported and the file is left unchanged.`,
		Args: cobra.ExactArgs(2),
		RunE: runConfigSet,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Flags.JSON {
		return printJSON(cc.Out, cc.Cfg)
	}

	return config.RenderEffective(cc.Cfg, cc.Out)
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	path := cc.Cfg.ConfigPath

	section, key, ok := splitConfigKey(args[0])
	if !ok {
		return fmt.Errorf("key must be section.key, got %q", args[0])
	}

	if err := ensureConfigFile(cc); err != nil {
		return err
	}

	original, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := config.SetKey(path, section, key, args[1], cc.Logger); err != nil {
		return err
	}

	if _, err := config.Load(path, cc.Logger); err != nil {
		if restoreErr := os.WriteFile(path, original, 0o644); restoreErr != nil {
			cc.Logger.Warn("restoring config file", slog.String("error", restoreErr.Error()))
		}

		return fmt.Errorf("rejected %s.%s = %q: %w", section, key, args[1], err)
	}

	cc.Statusf("Set %s.%s in %s\n", section, key, path)

	return nil
}

func splitConfigKey(s string) (section, key string, ok bool) {
	section, key, ok = strings.Cut(s, ".")
	if !ok || section == "" || key == "" {
		return "", "", false
	}

	return section, key, true
}
