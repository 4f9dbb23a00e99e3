package persistence

import (
	"context"
	"sync"

	"github.com/petrijr/flowq/pkg/api"
)

// InMemorySimulationStore is a goroutine-safe SimulationStore backed by a
// map keyed by flow id.
type InMemorySimulationStore struct {
	mu     sync.RWMutex
	byFlow map[string]api.WebhookSimulation
}

// NewInMemorySimulationStore creates an empty store.
func NewInMemorySimulationStore() *InMemorySimulationStore {
	return &InMemorySimulationStore{byFlow: make(map[string]api.WebhookSimulation)}
}

var _ SimulationStore = (*InMemorySimulationStore)(nil)

func (s *InMemorySimulationStore) Save(ctx context.Context, sim *api.WebhookSimulation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byFlow[sim.FlowID]; ok && existing.ID != sim.ID {
		return ErrSimulationExists
	}
	for flowID, existing := range s.byFlow {
		if existing.ID == sim.ID && flowID != sim.FlowID {
			delete(s.byFlow, flowID)
		}
	}
	s.byFlow[sim.FlowID] = *sim
	return nil
}

func (s *InMemorySimulationStore) GetByFlow(ctx context.Context, flowID, projectID string) (*api.WebhookSimulation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sim, ok := s.byFlow[flowID]
	if !ok || sim.ProjectID != projectID {
		return nil, ErrSimulationNotFound
	}
	return &sim, nil
}

func (s *InMemorySimulationStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for flowID, sim := range s.byFlow {
		if sim.ID == id {
			delete(s.byFlow, flowID)
			return nil
		}
	}
	return ErrSimulationNotFound
}

// Count returns the number of stored simulations.
func (s *InMemorySimulationStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byFlow)
}
