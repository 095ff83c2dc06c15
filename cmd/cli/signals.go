package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT}

// notifyShutdown cancels the returned context on the first shutdown signal.
// Teardown happens on whichever goroutine waits on the context.
func notifyShutdown(parent context.Context) (context.Context, context.CancelFunc) {
	signal.Ignore(syscall.SIGPIPE)
	return signal.NotifyContext(parent, shutdownSignals...)
}
