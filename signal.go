package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// exitInterrupted is the conventional status after a forced SIGINT exit.
const exitInterrupted = 130

// errInterrupted is the cancel cause of a context stopped by a signal.
var errInterrupted = errors.New("interrupted")

// shutdownContext returns a context canceled by the first SIGINT or SIGTERM,
// with a cause wrapping errInterrupted. A second signal exits the process.
// Canceling aborts in-flight uploads; their resumable sessions stay saved,
// so a rerun continues them.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancelCause(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		handleShutdownSignals(parent, ctx, cancel, sigCh, logger, os.Exit)
	}()

	return ctx
}

// handleShutdownSignals cancels ctx on the first signal from sigCh and calls
// exit on the second. It returns when ctx ends without a signal, or when
// parent ends after the first one.
func handleShutdownSignals(
	parent, ctx context.Context, cancel context.CancelCauseFunc,
	sigCh <-chan os.Signal, logger *slog.Logger, exit func(int),
) {
	select {
	case sig := <-sigCh:
		logger.Info("received signal, canceling transfers", slog.String("signal", sig.String()))
		cancel(fmt.Errorf("%w by %s", errInterrupted, sig))
	case <-ctx.Done():
		return
	}

	select {
	case sig := <-sigCh:
		logger.Warn("received second signal, forcing exit", slog.String("signal", sig.String()))
		exit(exitInterrupted)
	case <-parent.Done():
	}
}
