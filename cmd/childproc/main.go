// childproc launches a child process, relays its standard streams and exits
// with the child's exit code.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/taskcluster/childproc/cmds/root"
	"github.com/taskcluster/childproc/cmds/run"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.Command.ExecuteContext(ctx)
	stop()

	var exitErr *run.ExitError
	switch {
	case err == nil:
		os.Exit(0)
	case errors.As(err, &exitErr):
		os.Exit(int(exitErr.Code))
	default:
		root.Logger.WithError(err).Error("childproc failed")
		os.Exit(1)
	}
}
