package database

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// WithShutdownSignal returns a child of parent that is canceled on SIGTERM or
// SIGINT. onSignal, if not nil, is called with the received signal before
// cancellation so the caller can log that the current batch is being drained.
// The returned stop function releases the signal registration and must be
// called once the run is over.
func WithShutdownSignal(parent context.Context, onSignal func(os.Signal)) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		select {
		case sig := <-sigChan:
			if onSignal != nil {
				onSignal(sig)
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	stop := func() {
		signal.Stop(sigChan)
		cancel()
	}
	return ctx, stop
}
