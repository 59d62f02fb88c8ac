package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/resourcectl/internal/api"
	"github.com/tonimelisma/resourcectl/internal/batch"
	"github.com/tonimelisma/resourcectl/internal/transfer"
)

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List files and folders",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLs,
	}

	cmd.Flags().String("source", "", "storage source name")

	return cmd
}

func newStatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stat <path>",
		Short: "Display file or folder metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}

	cmd.Flags().Bool("info", false, "print the server's metadata document as JSON")

	return cmd
}

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <remote-path> [local-path]",
		Short: "Download a file",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runGet,
	}

	cmd.Flags().String("verify", "", "compare the download against the server checksum (md5, sha1, sha256, sha512)")
	cmd.Flags().Bool("url", false, "print an authenticated download link instead of downloading")
	cmd.Flags().Bool("inline", false, "with --url, ask the server to serve the file inline")

	return cmd
}

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <local-file>... <remote-path>",
		Short: "Upload files",
		Long: `Upload one or more local files.

With a single file, remote-path is the destination file unless it ends in
"/". With several files, remote-path is the destination folder. Large files
use resumable uploads when the server supports them; re-running an
interrupted command continues where it stopped.

An existing destination is a conflict. On a terminal you are asked whether
to overwrite it; otherwise pass --overwrite.`,
		Args: cobra.MinimumNArgs(2),
		RunE: runPut,
	}

	cmd.Flags().Bool("overwrite", false, "replace existing destination files")

	return cmd
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>...",
		Short: "Create folders",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runMkdir,
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>...",
		Short: "Delete files or folders",
		Long: `Delete files or folders. Folders are deleted with their contents.

Every path is attempted even if some fail; the command exits with status 2
when only part of the batch succeeded.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRm,
	}
}

func newMvCmd() *cobra.Command {
	return newTransferBatchCmd("mv", "Move or rename files and folders", batch.Move)
}

func newCpCmd() *cobra.Command {
	return newTransferBatchCmd("cp", "Copy files and folders", batch.Copy)
}

func newTransferBatchCmd(use, short string, kind batch.Kind) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <source>... <destination>",
		Short: short,
		Long: short + `.

With a single source, destination is the new path unless it ends in "/".
With several sources, destination is a folder and each source keeps its
name. Every source is attempted even if some fail.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransferBatch(cmd, args, kind)
		},
	}

	cmd.Flags().Bool("overwrite", false, "replace an existing destination")
	cmd.Flags().Bool("rename", false, "let the server pick a free name on collision")

	return cmd
}

func newChecksumCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checksum <path>",
		Short: "Ask the server for a file checksum",
		Args:  cobra.ExactArgs(1),
		RunE:  runChecksum,
	}

	cmd.Flags().String("algo", "sha256", "algorithm: "+strings.Join(api.ChecksumAlgorithms, ", "))

	return cmd
}

// lsJSONItem is the JSON output schema for a single item in ls output.
type lsJSONItem struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	IsDir      bool   `json:"is_dir"`
	ModifiedAt string `json:"modified_at"`
	Type       string `json:"type,omitempty"`
}

func runLs(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	remotePath := "/"
	if len(args) > 0 {
		remotePath = args[0]
	}

	source, _ := cmd.Flags().GetString("source")

	client, err := cc.apiClient(ctx)
	if err != nil {
		return err
	}

	cc.Logger.Debug("ls", slog.String("path", remotePath), slog.String("source", source))

	item, err := client.Fetch(ctx, remotePath, source)
	if err != nil {
		return fmt.Errorf("listing %q: %w", remotePath, err)
	}

	items := item.Items
	if !item.IsDir {
		items = []api.Item{*item}
	}

	if cc.Flags.JSON {
		return printItemsJSON(cc.Out, items)
	}

	printItemsTable(cc.Out, items)

	return nil
}

func printItemsJSON(w io.Writer, items []api.Item) error {
	out := make([]lsJSONItem, 0, len(items))
	for i := range items {
		out = append(out, lsJSONItem{
			Name:       items[i].Name,
			Path:       items[i].Path,
			Size:       items[i].Size,
			IsDir:      items[i].IsDir,
			ModifiedAt: items[i].Modified.UTC().Format("2006-01-02T15:04:05Z"),
			Type:       items[i].Type,
		})
	}

	return printJSON(w, out)
}

func printItemsTable(w io.Writer, items []api.Item) {
	// Folders first, then alphabetical.
	slices.SortFunc(items, func(a, b api.Item) int {
		if a.IsDir != b.IsDir {
			if a.IsDir {
				return -1
			}

			return 1
		}

		return strings.Compare(a.Name, b.Name)
	})

	headers := []string{"NAME", "SIZE", "MODIFIED"}
	rows := make([][]string, 0, len(items))

	for i := range items {
		name, size := items[i].Name, formatSize(items[i].Size)
		if items[i].IsDir {
			name += "/"
			size = "-"
		}

		rows = append(rows, []string{name, size, formatTime(items[i].Modified)})
	}

	printTable(w, headers, rows)
}

// statJSONOutput is the JSON output schema for the stat command.
type statJSONOutput struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	IsDir      bool   `json:"is_dir"`
	IsSymlink  bool   `json:"is_symlink"`
	ModifiedAt string `json:"modified_at"`
	Type       string `json:"type,omitempty"`
	Extension  string `json:"extension,omitempty"`
	NumDirs    int    `json:"num_dirs,omitempty"`
	NumFiles   int    `json:"num_files,omitempty"`
}

func runStat(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	client, err := cc.apiClient(ctx)
	if err != nil {
		return err
	}

	if info, _ := cmd.Flags().GetBool("info"); info {
		doc, err := client.Info(ctx, args[0])
		if err != nil {
			return fmt.Errorf("fetching info for %q: %w", args[0], err)
		}

		return printJSON(cc.Out, doc)
	}

	item, err := client.Fetch(ctx, args[0], "")
	if err != nil {
		return fmt.Errorf("resolving %q: %w", args[0], err)
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, statJSONOutput{
			Name:       item.Name,
			Path:       item.Path,
			Size:       item.Size,
			IsDir:      item.IsDir,
			IsSymlink:  item.IsSymlink,
			ModifiedAt: item.Modified.UTC().Format("2006-01-02T15:04:05Z"),
			Type:       item.Type,
			Extension:  item.Extension,
			NumDirs:    item.NumDirs,
			NumFiles:   item.NumFiles,
		})
	}

	printStatText(cc.Out, item)

	return nil
}

func printStatText(w io.Writer, item *api.Item) {
	itemType := "file"
	if item.IsDir {
		itemType = "folder"
	}

	fmt.Fprintf(w, "Name:     %s\n", item.Name)
	fmt.Fprintf(w, "Path:     %s\n", item.Path)
	fmt.Fprintf(w, "Type:     %s\n", itemType)
	fmt.Fprintf(w, "Size:     %s (%d bytes)\n", formatSize(item.Size), item.Size)
	fmt.Fprintf(w, "Modified: %s\n", item.Modified.UTC().Format("2006-01-02 15:04:05 UTC"))

	if item.Type != "" && !item.IsDir {
		fmt.Fprintf(w, "Kind:     %s\n", item.Type)
	}

	if item.IsDir {
		fmt.Fprintf(w, "Contents: %d folders, %d files\n", item.NumDirs, item.NumFiles)
	}
}

func runGet(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	remotePath := args[0]

	algo, _ := cmd.Flags().GetString("verify")
	if algo != "" && !api.ValidChecksumAlgorithm(algo) {
		return fmt.Errorf("--verify: unsupported algorithm %q", algo)
	}

	localPath := path.Base(strings.TrimSuffix(remotePath, "/"))
	if len(args) > 1 {
		localPath = args[1]
	}

	if info, err := os.Stat(localPath); err == nil && info.IsDir() {
		localPath = filepath.Join(localPath, path.Base(remotePath))
	}

	client, err := cc.apiClient(ctx)
	if err != nil {
		return err
	}

	if asURL, _ := cmd.Flags().GetBool("url"); asURL {
		inline, _ := cmd.Flags().GetBool("inline")

		link, err := client.RawURL(remotePath, inline)
		if err != nil {
			return err
		}

		fmt.Fprintln(cc.Out, link)

		return nil
	}

	partialPath := localPath + ".partial"

	n, err := downloadTo(ctx, client, remotePath, partialPath)
	if err != nil {
		os.Remove(partialPath)

		return fmt.Errorf("downloading %q: %w", remotePath, err)
	}

	if algo != "" {
		if err := verifyDownload(ctx, client, remotePath, partialPath, algo); err != nil {
			os.Remove(partialPath)

			return err
		}
	}

	// Atomic rename: .partial -> target.
	if err := os.Rename(partialPath, localPath); err != nil {
		return fmt.Errorf("renaming download to %q: %w", localPath, err)
	}

	cc.Logger.Debug("download complete", slog.String("local_path", localPath), slog.Int64("bytes", n))
	cc.Statusf("Downloaded %s (%s)\n", localPath, formatSize(n))

	return nil
}

func downloadTo(ctx context.Context, client *api.Client, remotePath, localPath string) (int64, error) {
	f, err := os.Create(localPath)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", localPath, err)
	}

	n, err := client.Download(ctx, remotePath, f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("closing %s: %w", localPath, closeErr)
	}

	return n, err
}

// verifyDownload compares the local digest of localPath with the server's.
func verifyDownload(ctx context.Context, client *api.Client, remotePath, localPath, algo string) error {
	p, err := transfer.OpenFile(localPath)
	if err != nil {
		return err
	}
	defer p.Close()

	local, err := transfer.Digest(p, algo)
	if err != nil {
		return err
	}

	remote, err := client.Checksum(ctx, remotePath, algo)
	if err != nil {
		return fmt.Errorf("fetching %s checksum of %q: %w", algo, remotePath, err)
	}

	if !strings.EqualFold(local, remote) {
		return fmt.Errorf("%s mismatch after download of %q (deleted, try again)", algo, remotePath)
	}

	return nil
}

// putTarget pairs a local file with its destination path.
type putTarget struct {
	Local  string
	Remote string
}

// putTargets maps the put arguments to destinations.
func putTargets(args []string) ([]putTarget, error) {
	locals, dest := args[:len(args)-1], args[len(args)-1]

	if len(locals) > 1 && !strings.HasSuffix(dest, "/") {
		dest += "/"
	}

	targets := make([]putTarget, 0, len(locals))
	seen := make(map[string]bool, len(locals))

	for _, local := range locals {
		remote := dest
		if strings.HasSuffix(dest, "/") {
			remote = dest + filepath.Base(local)
		}

		if seen[remote] {
			return nil, fmt.Errorf("two files upload to %s", remote)
		}

		seen[remote] = true
		targets = append(targets, putTarget{Local: local, Remote: remote})
	}

	return targets, nil
}

// putJSONItem is the JSON output schema for one uploaded file.
type putJSONItem struct {
	Local    string `json:"local"`
	Remote   string `json:"remote"`
	Size     int64  `json:"size"`
	Strategy string `json:"strategy,omitempty"`
	Checksum string `json:"checksum,omitempty"`
	Error    string `json:"error,omitempty"`

	err error
}

func runPut(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := shutdownContext(cmd.Context(), cc.Logger)

	overwrite, _ := cmd.Flags().GetBool("overwrite")

	targets, err := putTargets(args)
	if err != nil {
		return err
	}

	client, err := cc.apiClient(ctx)
	if err != nil {
		return err
	}

	mgr, closeStore, err := cc.uploadManager(ctx, client)
	if err != nil {
		return err
	}
	defer closeStore()

	up := &putRunner{
		cc:        cc,
		mgr:       mgr,
		overwrite: overwrite,
		progress:  newProgressLine(cc),
		confirm:   newConfirmer(cmd.InOrStdin(), cc.Err, isTerminal(cc.Err)),
	}

	results := make([]putJSONItem, len(targets))

	var g errgroup.Group
	g.SetLimit(cc.Cfg.Transfers.ParallelUploads)

	for i, t := range targets {
		g.Go(func() error {
			results[i] = up.put(ctx, t)
			return nil
		})
	}

	_ = g.Wait()

	if cc.Flags.JSON {
		if err := printJSON(cc.Out, results); err != nil {
			return err
		}
	}

	return putError(results)
}

// putError folds failed uploads into a *batch.Error so a partial failure
// gets the partial exit status.
func putError(results []putJSONItem) error {
	outcomes := make([]batch.Outcome, len(results))

	var failed []int

	for i, r := range results {
		outcomes[i] = batch.Outcome{Index: i, Item: batch.Item{From: r.Local, To: r.Remote}}

		if r.err != nil {
			outcomes[i].Err = r.err
			failed = append(failed, i)
		}
	}

	if len(failed) == 0 {
		return nil
	}

	if len(results) == 1 {
		return fmt.Errorf("uploading %s: %w", results[0].Remote, outcomes[0].Err)
	}

	return &batch.Error{Outcomes: outcomes, Failed: failed}
}

// putRunner uploads one target at a time on behalf of runPut.
type putRunner struct {
	cc        *CLIContext
	mgr       *transfer.Manager
	overwrite bool
	progress  *progressLine
	confirm   *confirmer
}

func (p *putRunner) put(ctx context.Context, t putTarget) putJSONItem {
	out := putJSONItem{Local: t.Local, Remote: t.Remote}

	payload, err := transfer.OpenFile(t.Local)
	if err != nil {
		out.err, out.Error = err, err.Error()
		return out
	}
	defer payload.Close()

	out.Size = payload.Size()

	u := p.mgr.Start(ctx, transfer.Descriptor{
		Path:      t.Remote,
		Payload:   payload,
		Overwrite: p.overwrite,
		Progress:  p.progress.forPath(t.Remote),
	})

	res, err := u.Wait()
	if err != nil && u.State() == transfer.Conflicted && p.confirm.ask(fmt.Sprintf("%s exists. Overwrite?", t.Remote)) {
		if rerr := u.Resubmit(true); rerr != nil {
			out.err, out.Error = rerr, rerr.Error()
			return out
		}

		res, err = u.Wait()
	}

	if err != nil {
		p.cc.Logger.Debug("upload failed",
			slog.String("remote", t.Remote),
			slog.String("state", u.State().String()),
			slog.String("error", err.Error()),
		)

		out.err, out.Error = err, err.Error()

		if !p.cc.Flags.JSON {
			p.cc.Statusf("Failed %s: %v\n", t.Remote, err)
		}

		return out
	}

	out.Strategy = res.Strategy.String()
	out.Checksum = res.Checksum

	if !p.cc.Flags.JSON {
		p.cc.Statusf("Uploaded %s (%s, %s)\n", t.Remote, formatSize(res.Size), res.Strategy)
	}

	return out
}

// confirmer serializes yes/no prompts of concurrent uploads. Without a
// terminal every question is answered no.
type confirmer struct {
	mu          sync.Mutex
	in          *bufio.Reader
	out         io.Writer
	interactive bool
}

func newConfirmer(in io.Reader, out io.Writer, interactive bool) *confirmer {
	return &confirmer{in: bufio.NewReader(in), out: out, interactive: interactive}
}

func (c *confirmer) ask(question string) bool {
	if !c.interactive {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "\r\033[K%s [y/N] ", question)

	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// mkdirJSONOutput is the JSON output schema for the mkdir command.
type mkdirJSONOutput struct {
	Created []string `json:"created"`
}

func runMkdir(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	client, err := cc.apiClient(ctx)
	if err != nil {
		return err
	}

	created := make([]string, 0, len(args))

	for _, p := range args {
		if strings.Trim(p, "/") == "" {
			return fmt.Errorf("cannot create root folder")
		}

		// An existing folder is fine; the server answers 409.
		if err := client.Mkdir(ctx, p, false); err != nil && !api.IsConflict(err) {
			return fmt.Errorf("creating folder %q: %w", p, err)
		}

		cc.Logger.Debug("mkdir complete", slog.String("path", p))
		created = append(created, p)

		if !cc.Flags.JSON {
			cc.Statusf("Created %s\n", p)
		}
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, mkdirJSONOutput{Created: created})
	}

	return nil
}

// batchJSONItem is the JSON output schema for one item of rm, mv, and cp.
type batchJSONItem struct {
	From     string `json:"from"`
	To       string `json:"to,omitempty"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

func runRm(cmd *cobra.Command, args []string) error {
	items := make([]batch.Item, 0, len(args))
	for _, p := range args {
		if strings.Trim(p, "/") == "" {
			return fmt.Errorf("refusing to delete the root folder")
		}

		items = append(items, batch.Item{From: p})
	}

	return runBatch(cmd, items, batch.Options{Kind: batch.Delete})
}

func runTransferBatch(cmd *cobra.Command, args []string, kind batch.Kind) error {
	overwrite, _ := cmd.Flags().GetBool("overwrite")
	rename, _ := cmd.Flags().GetBool("rename")

	if overwrite && rename {
		return fmt.Errorf("--overwrite and --rename are mutually exclusive")
	}

	return runBatch(cmd, batchItems(args), batch.Options{Kind: kind, Overwrite: overwrite, Rename: rename})
}

// batchItems maps source... destination arguments to batch items.
func batchItems(args []string) []batch.Item {
	sources, dest := args[:len(args)-1], args[len(args)-1]

	if len(sources) > 1 && !strings.HasSuffix(dest, "/") {
		dest += "/"
	}

	items := make([]batch.Item, 0, len(sources))

	for _, src := range sources {
		to := dest
		if strings.HasSuffix(dest, "/") {
			to = dest + path.Base(strings.TrimSuffix(src, "/"))
		}

		items = append(items, batch.Item{From: src, To: to})
	}

	return items
}

func runBatch(cmd *cobra.Command, items []batch.Item, opts batch.Options) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	client, err := cc.apiClient(ctx)
	if err != nil {
		return err
	}

	opts.Parallel = cc.Cfg.Transfers.ParallelBatch

	outcomes, runErr := batch.NewCoordinator(client, cc.Logger).Run(ctx, items, opts)

	if cc.Flags.JSON {
		out := make([]batchJSONItem, len(outcomes))
		for i, o := range outcomes {
			out[i] = batchJSONItem{From: o.Item.From, To: o.Item.To, Response: o.Response}
			if o.Err != nil {
				out[i].Error = o.Err.Error()
			}
		}

		if err := printJSON(cc.Out, out); err != nil {
			return err
		}

		return runErr
	}

	for _, o := range outcomes {
		if o.Err != nil {
			continue
		}

		switch opts.Kind {
		case batch.Delete:
			cc.Statusf("Deleted %s\n", o.Item.From)
		case batch.Copy:
			cc.Statusf("Copied %s -> %s\n", o.Item.From, o.Item.To)
		default:
			cc.Statusf("Moved %s -> %s\n", o.Item.From, o.Item.To)
		}
	}

	if len(outcomes) == 1 && runErr != nil {
		return outcomes[0].Err
	}

	return runErr
}

// checksumJSONOutput is the JSON output schema for the checksum command.
type checksumJSONOutput struct {
	Path      string `json:"path"`
	Algorithm string `json:"algorithm"`
	Checksum  string `json:"checksum"`
}

func runChecksum(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	algo, _ := cmd.Flags().GetString("algo")
	if !api.ValidChecksumAlgorithm(algo) {
		return fmt.Errorf("--algo: unsupported algorithm %q (want one of %s)",
			algo, strings.Join(api.ChecksumAlgorithms, ", "))
	}

	client, err := cc.apiClient(ctx)
	if err != nil {
		return err
	}

	sum, err := client.Checksum(ctx, args[0], algo)
	if err != nil {
		return fmt.Errorf("checksum of %q: %w", args[0], err)
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, checksumJSONOutput{Path: args[0], Algorithm: algo, Checksum: sum})
	}

	fmt.Fprintf(cc.Out, "%s  %s\n", sum, args[0])

	return nil
}
