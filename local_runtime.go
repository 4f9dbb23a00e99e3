package flowq

import (
	"context"

	"github.com/petrijr/flowq/internal/config"
)

// NewLocalRuntime builds a single-node Runtime with every piece in process:
// in-memory queue backend, in-memory watcher transport, in-memory locks and
// simulation store. Nothing survives a restart; Start rebuilds recurring
// and delayed jobs from deps.
//
// Typical usage:
//
//	rt, err := flowq.NewLocalRuntime(ctx, deps)
//	...
//	_ = rt.Start(ctx)
//	http.ListenAndServe(":8080", rt.Handler())
//	...
//	rt.Stop(shutdownCtx)
func NewLocalRuntime(ctx context.Context, deps Deps, opts ...Option) (*Runtime, error) {
	settings := config.Default()
	settings.QueueMode = config.QueueModeMemory
	settings.LockMode = config.LockMemory
	settings.SimulationStore = config.StoreMemory
	return New(ctx, settings, deps, opts...)
}
