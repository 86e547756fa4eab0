package util

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/sidkik/amp/pkg/errors"
)

// Variables mocked for unit testing.
var (
	exit   = os.Exit
	stderr = os.Stderr
)

// HandleFatalError prints the error and exits. User-facing errors are printed
// as is, while other errors get the full context chain.
func HandleFatalError(err error) {
	if msg, ok := errors.GetFriendlyMessage(err); ok {
		fmt.Fprintln(stderr, msg)
	} else {
		fmt.Fprintf(stderr, "Error: %s\n", err)
	}
	log.WithError(err).Debug("Fatal error")
	exit(1)
}

// HandlePanic logs the stack trace of a panic, and exits. It should be
// deferred at the top of each goroutine.
func HandlePanic() {
	if r := recover(); r != nil {
		log.WithField("stack", string(debug.Stack())).Errorf("Panic: %v", r)
		exit(1)
	}
}

// SignalContext returns a context that's cancelled when the process receives
// SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
