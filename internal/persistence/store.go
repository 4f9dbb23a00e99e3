package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/petrijr/flowq/pkg/api"
)

var (
	// ErrSimulationNotFound is returned when no simulation exists for a flow
	// or id. It matches api.ErrEntityNotFound.
	ErrSimulationNotFound = fmt.Errorf("webhook simulation: %w", api.ErrEntityNotFound)

	// ErrSimulationExists is returned by Save when the flow already has a
	// simulation with a different id.
	ErrSimulationExists = errors.New("webhook simulation already exists for flow")
)

// SimulationStore persists webhook simulation sessions. At most one row
// exists per flow.
type SimulationStore interface {
	// Save inserts sim, or updates it when a row with the same id exists.
	Save(ctx context.Context, sim *api.WebhookSimulation) error
	GetByFlow(ctx context.Context, flowID, projectID string) (*api.WebhookSimulation, error)
	// Delete removes the row with id. Missing rows yield ErrSimulationNotFound.
	Delete(ctx context.Context, id string) error
}
