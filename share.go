package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// defaultPreviewSize is the preview edge length the web UI requests.
const defaultPreviewSize = 256

func newShareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "share",
		Short: "Query public shares",
		Long: `Query public shares by path, e.g. /<hash>/sub/file.txt.

Password-protected shares take --password. Share commands never send the
saved login.`,
	}

	cmd.PersistentFlags().String("password", "", "share password")

	cmd.AddCommand(newShareLsCmd())
	cmd.AddCommand(newSharePresignCmd())
	cmd.AddCommand(newSharePreviewCmd())
	cmd.AddCommand(newShareURLCmd())

	return cmd
}

func newShareLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <share-path>",
		Short: "List a public share",
		Args:  cobra.ExactArgs(1),
		RunE:  runShareLs,
	}
}

func newSharePresignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presign <share-path>",
		Short: "Print a presigned download URL",
		Args:  cobra.ExactArgs(1),
		RunE:  runSharePresign,
	}
}

func newSharePreviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview <share-path>",
		Short: "Print a preview image URL",
		Args:  cobra.ExactArgs(1),
		RunE:  runSharePreview,
	}

	cmd.Flags().Int("size", defaultPreviewSize, "preview size in pixels")

	return cmd
}

func newShareURLCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "url <share-path>",
		Short: "Print the public download link",
		Args:  cobra.ExactArgs(1),
		RunE:  runShareURL,
	}

	cmd.Flags().Bool("archive", false, "download folders as an archive instead of a single file")

	return cmd
}

func runShareLs(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	password, _ := cmd.Flags().GetString("password")

	item, err := cc.bareClient().FetchShare(cmd.Context(), args[0], password)
	if err != nil {
		return fmt.Errorf("fetching share %q: %w", args[0], err)
	}

	items := item.Items
	if !item.IsDir {
		items = append(items[:0:0], *item)
	}

	if cc.Flags.JSON {
		return printItemsJSON(cc.Out, items)
	}

	printItemsTable(cc.Out, items)

	return nil
}

// shareURLOutput is the JSON schema for the URL-printing share commands.
type shareURLOutput struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

func printShareURL(cc *CLIContext, path, url string) error {
	if cc.Flags.JSON {
		return printJSON(cc.Out, shareURLOutput{Path: path, URL: url})
	}

	fmt.Fprintln(cc.Out, url)

	return nil
}

func runSharePresign(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	password, _ := cmd.Flags().GetString("password")

	url, err := cc.bareClient().Presign(cmd.Context(), args[0], password)
	if err != nil {
		return fmt.Errorf("presigning %q: %w", args[0], err)
	}

	return printShareURL(cc, args[0], url)
}

func runSharePreview(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	password, _ := cmd.Flags().GetString("password")
	size, _ := cmd.Flags().GetInt("size")

	if size <= 0 {
		return fmt.Errorf("--size must be positive, got %d", size)
	}

	url, err := cc.bareClient().Preview(cmd.Context(), args[0], password, size)
	if err != nil {
		return fmt.Errorf("previewing %q: %w", args[0], err)
	}

	return printShareURL(cc, args[0], url)
}

func runShareURL(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	password, _ := cmd.Flags().GetString("password")
	archive, _ := cmd.Flags().GetBool("archive")

	client := cc.bareClient()

	item, err := client.FetchShare(cmd.Context(), args[0], password)
	if err != nil {
		return fmt.Errorf("fetching share %q: %w", args[0], err)
	}

	url, err := client.DownloadURL(item, !archive)
	if err != nil {
		return err
	}

	return printShareURL(cc, args[0], url)
}
