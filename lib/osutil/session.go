// Package osutil carries the small process-level helpers binaries use.
package osutil

import (
	"context"
	"os/signal"
	"syscall"
)

// SignalContext returns a context that ends on SIGINT or SIGTERM, so a
// Ctrl+C tears a running scrape down through the usual cancellation
// path.
func SignalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx
}
