// Package main provides the clientfactory command line client. It loads an
// operation catalog (a YAML catalog or an OpenAPI 3 document) and calls,
// iterates or batches its operations against the configured API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/clientfactory/internal/errs"
)

// Version information (populated at build time)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// Exit codes.
const (
	exitError         = 1
	exitValidation    = 2
	exitConfiguration = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand(newApp(os.Stdout)).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errs.IsRollback(err):
		return exitError
	case errs.IsValidation(err):
		return exitValidation
	case errs.IsConfiguration(err), errors.Is(err, errUsage):
		return exitConfiguration
	}
	return exitError
}
