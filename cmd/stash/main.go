// Package main provides the stash binary: a command line front end over the
// plain and encrypting file repositories, the text cipher, the key manager,
// the housekeeping janitor and the persisted metrics.
//
// Every invocation:
//  1. Loads defaults and applies STASH_* environment variables.
//  2. Validates configuration.
//  3. Builds the storage container (database, key store, strategies,
//     repositories, metrics, janitor).
//  4. Runs one command, then flushes metrics and releases resources.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"github.com/haukened/stash/internal/domain"
)

// exitCode maps an error to a process exit status. Key store failures are
// configuration errors and exit with 2.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, domain.ErrKeyStore), errors.Is(err, errConfig):
		return 2
	case errors.Is(err, domain.ErrNotFound):
		return 3
	case errors.Is(err, domain.ErrAuthentication), errors.Is(err, domain.ErrMalformed):
		return 4
	}
	return 1
}

func reportError(w io.Writer, err error) {
	fmt.Fprintln(w, color.RedString("error:"), err)
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		reportError(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}
