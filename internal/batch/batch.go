// Package batch runs multi-item move, copy, and delete operations against
// the resource API. Items are dispatched concurrently; every item gets its
// own outcome, and one failure never cancels its siblings.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"
)

// DefaultParallelism bounds concurrent requests when Options.Parallel is unset.
const DefaultParallelism = 8

// Kind selects the batch operation.
type Kind int

const (
	Move Kind = iota
	Copy
	Delete
)

func (k Kind) String() string {
	switch k {
	case Move:
		return "move"
	case Copy:
		return "copy"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Item is one source/destination pair. To is ignored for Delete.
type Item struct {
	From string
	To   string
}

// Options apply to every item of a batch.
type Options struct {
	Kind      Kind
	Overwrite bool
	Rename    bool // let the server pick a free destination name on collision
	Parallel  int  // concurrent requests; 0 = DefaultParallelism
}

// Outcome is the result of one item. Index is the item's input position.
type Outcome struct {
	Index    int
	Item     Item
	Response string // server response text (move/copy)
	Err      error
}

// Error reports every failed item of a batch. It unwraps to each item's
// error, so errors.Is(err, api.ErrConflict) matches if any item conflicted.
type Error struct {
	Outcomes []Outcome
	Failed   []int // indexes into Outcomes, ascending
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, i := range e.Failed {
		o := e.Outcomes[i]
		parts = append(parts, fmt.Sprintf("#%d %s: %v", o.Index, o.Item.From, o.Err))
	}

	return fmt.Sprintf("batch: %d of %d items failed: %s", len(e.Failed), len(e.Outcomes), strings.Join(parts, "; "))
}

// Unwrap returns the error of each failed item.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, i := range e.Failed {
		errs = append(errs, e.Outcomes[i].Err)
	}

	return errs
}

// API is the resource API surface batches use. Satisfied by *api.Client.
type API interface {
	MoveCopy(ctx context.Context, from, to string, isCopy, overwrite, rename bool) (string, error)
	Remove(ctx context.Context, path string) error
}

// Coordinator fans batch items out to the API.
type Coordinator struct {
	client API
	logger *slog.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(client API, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{client: client, logger: logger}
}

// Run dispatches every item and waits for all of them. The returned slice
// always has one outcome per item, in input order. When any item failed the
// error is a *Error naming each failure; the outcomes are still returned.
func (c *Coordinator) Run(ctx context.Context, items []Item, opts Options) ([]Outcome, error) {
	outcomes := make([]Outcome, len(items))
	if len(items) == 0 {
		return outcomes, nil
	}

	parallel := opts.Parallel
	if parallel <= 0 {
		parallel = DefaultParallelism
	}

	c.logger.Info("batch started",
		slog.String("kind", opts.Kind.String()),
		slog.Int("items", len(items)),
		slog.Bool("overwrite", opts.Overwrite),
		slog.Bool("rename", opts.Rename),
	)

	// A plain Group: no derived context, so one failure never cancels the rest.
	var g errgroup.Group
	g.SetLimit(parallel)

	for i, item := range items {
		g.Go(func() error {
			resp, err := c.runOne(ctx, item, opts)
			outcomes[i] = Outcome{Index: i, Item: item, Response: resp, Err: err}

			return nil
		})
	}

	_ = g.Wait()

	var failed []int

	for i := range outcomes {
		if outcomes[i].Err != nil {
			failed = append(failed, i)

			c.logger.Warn("batch item failed",
				slog.Int("index", i),
				slog.String("from", outcomes[i].Item.From),
				slog.String("error", outcomes[i].Err.Error()),
			)
		}
	}

	if len(failed) > 0 {
		return outcomes, &Error{Outcomes: outcomes, Failed: failed}
	}

	c.logger.Info("batch complete", slog.Int("items", len(items)))

	return outcomes, nil
}

func (c *Coordinator) runOne(ctx context.Context, item Item, opts Options) (string, error) {
	switch opts.Kind {
	case Move, Copy:
		if item.To == "" {
			return "", fmt.Errorf("batch: %s of %s has no destination", opts.Kind, item.From)
		}

		return c.client.MoveCopy(ctx, item.From, item.To, opts.Kind == Copy, opts.Overwrite, opts.Rename)
	case Delete:
		return "", c.client.Remove(ctx, item.From)
	default:
		return "", fmt.Errorf("batch: unknown operation %s", opts.Kind)
	}
}

// FailedItems returns the items of a batch error, or nil when err is not a
// batch error.
func FailedItems(err error) []Outcome {
	var be *Error
	if !errors.As(err, &be) {
		return nil
	}

	out := make([]Outcome, 0, len(be.Failed))
	for _, i := range be.Failed {
		out = append(out, be.Outcomes[i])
	}

	return out
}
