package main

import (
	"errors"
	"os"

	"github.com/tonimelisma/resourcectl/internal/batch"
)

// Exit codes.
const (
	exitFailure = 1
	exitPartial = 2 // some items of a multi-item command failed
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var be *batch.Error
		if errors.As(err, &be) && len(be.Failed) < len(be.Outcomes) {
			printError(err)
			os.Exit(exitPartial)
		}

		exitOnError(err)
	}
}
