// Package simulation manages "test this trigger" sessions. A session is a
// WebhookSimulation row plus a trigger subscription enabled in simulate
// mode; each flow has at most one.
package simulation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/flowq/internal/lock"
	"github.com/petrijr/flowq/internal/persistence"
	"github.com/petrijr/flowq/pkg/api"
)

// DefaultLockTimeout bounds the wait for the per-flow lock.
const DefaultLockTimeout = 5 * time.Second

// LockKey is the name of the per-flow lock.
func LockKey(flowID string) string {
	return "webhook-simulation:" + flowID
}

// Config wires a Coordinator.
type Config struct {
	Store       persistence.SimulationStore
	Locker      lock.Locker
	Versions    api.FlowVersionStore
	Hooks       api.TriggerHooks
	LockTimeout time.Duration
	Logger      *slog.Logger
	Now         func() time.Time
}

// Coordinator serializes session transitions per flow.
type Coordinator struct {
	store       persistence.SimulationStore
	locker      lock.Locker
	versions    api.FlowVersionStore
	hooks       api.TriggerHooks
	lockTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

func NewCoordinator(cfg Config) *Coordinator {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		store:       cfg.Store,
		locker:      cfg.Locker,
		versions:    cfg.Versions,
		hooks:       cfg.Hooks,
		lockTimeout: cfg.LockTimeout,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
}

func (c *Coordinator) release(l lock.Lock) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Release(ctx); err != nil {
		c.logger.Warn("simulation_lock_release_failed", slog.String("key", l.Key()), slog.Any("error", err))
	}
}

// Create starts a session for flowID, replacing any existing one. The old
// trigger subscription is disabled before the new one is enabled, both
// under the flow's lock.
func (c *Coordinator) Create(ctx context.Context, flowID, projectID string) (*api.WebhookSimulation, error) {
	l, err := c.locker.Acquire(ctx, LockKey(flowID), c.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer c.release(l)

	err = c.Delete(ctx, DeleteParams{
		FlowID:         flowID,
		ProjectID:      projectID,
		Lock:           l,
		IgnoreNotFound: true,
	})
	if err != nil {
		return nil, err
	}

	fv, err := c.versions.GetLatest(ctx, flowID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	sim := &api.WebhookSimulation{
		ID:            uuid.NewString(),
		FlowID:        flowID,
		FlowVersionID: fv.ID,
		ProjectID:     projectID,
		Created:       now,
		Updated:       now,
	}
	if err := c.store.Save(ctx, sim); err != nil {
		return nil, err
	}

	_, err = c.hooks.Enable(ctx, api.TriggerHookRequest{ProjectID: projectID, FlowVersion: fv, Simulate: true})
	if err != nil {
		if derr := c.store.Delete(ctx, sim.ID); derr != nil {
			c.logger.Error("simulation_rollback_failed",
				slog.String("flow_id", flowID),
				slog.String("simulation_id", sim.ID),
				slog.Any("error", derr),
			)
		}
		return nil, err
	}

	c.logger.Info("simulation_created",
		slog.String("flow_id", flowID),
		slog.String("simulation_id", sim.ID),
		slog.String("flow_version_id", fv.ID),
	)
	return sim, nil
}

// Get returns the active session, or an error matching api.ErrEntityNotFound.
func (c *Coordinator) Get(ctx context.Context, flowID, projectID string) (*api.WebhookSimulation, error) {
	return c.store.GetByFlow(ctx, flowID, projectID)
}

// DeleteParams selects the session to end.
type DeleteParams struct {
	FlowID    string
	ProjectID string
	// FlowVersionID selects the version whose trigger is disabled. Empty
	// means the version recorded on the session, or the flow's latest.
	FlowVersionID string
	// Lock is the flow's lock when the caller already holds it.
	Lock lock.Lock
	// IgnoreNotFound turns a missing session into a no-op.
	IgnoreNotFound bool
}

// Delete disables the session's trigger subscription and removes the row.
func (c *Coordinator) Delete(ctx context.Context, p DeleteParams) error {
	if p.Lock == nil {
		l, err := c.locker.Acquire(ctx, LockKey(p.FlowID), c.lockTimeout)
		if err != nil {
			return err
		}
		defer c.release(l)
	}

	sim, err := c.store.GetByFlow(ctx, p.FlowID, p.ProjectID)
	if err != nil {
		if p.IgnoreNotFound && errors.Is(err, api.ErrEntityNotFound) {
			return nil
		}
		return err
	}

	fv, err := c.resolveVersion(ctx, p, sim)
	if err != nil {
		return err
	}

	err = c.hooks.Disable(ctx, api.TriggerHookRequest{ProjectID: p.ProjectID, FlowVersion: fv, Simulate: true})
	if err != nil {
		return err
	}

	if err := c.store.Delete(ctx, sim.ID); err != nil {
		if p.IgnoreNotFound && errors.Is(err, api.ErrEntityNotFound) {
			return nil
		}
		return err
	}

	c.logger.Info("simulation_deleted",
		slog.String("flow_id", p.FlowID),
		slog.String("simulation_id", sim.ID),
		slog.String("flow_version_id", fv.ID),
	)
	return nil
}

func (c *Coordinator) resolveVersion(ctx context.Context, p DeleteParams, sim *api.WebhookSimulation) (*api.FlowVersion, error) {
	switch {
	case p.FlowVersionID != "":
		return c.versions.GetOrThrow(ctx, p.FlowVersionID)
	case sim.FlowVersionID != "":
		return c.versions.GetOrThrow(ctx, sim.FlowVersionID)
	default:
		return c.versions.GetLatest(ctx, p.FlowID)
	}
}
