// Package memflow provides in-memory implementations of the collaborators
// the queue core consumes: flow and version lookup, trigger hooks, run
// creation and a toy flow engine. The local runtime and the tests use them.
package memflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/petrijr/flowq/pkg/api"
)

// Store holds flows, versions and runs.
type Store struct {
	mu       sync.RWMutex
	flows    map[string]api.Flow
	versions map[string]api.FlowVersion
	latest   map[string]string
	runs     map[string]api.FlowRun
	order    []string
}

func NewStore() *Store {
	return &Store{
		flows:    make(map[string]api.Flow),
		versions: make(map[string]api.FlowVersion),
		latest:   make(map[string]string),
		runs:     make(map[string]api.FlowRun),
	}
}

var (
	_ api.FlowStore        = (*Store)(nil)
	_ api.FlowVersionStore = (*Store)(nil)
	_ api.PausedRunLister  = (*Store)(nil)
)

// PutFlow inserts or replaces a flow.
func (s *Store) PutFlow(f api.Flow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[f.ID] = f
}

// PutVersion inserts a version and makes it the flow's latest (draft).
func (s *Store) PutVersion(v api.FlowVersion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[v.ID] = v
	s.latest[v.FlowID] = v.ID
}

// PutRun inserts or replaces a run.
func (s *Store) PutRun(r api.FlowRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[r.ID]; !ok {
		s.order = append(s.order, r.ID)
	}
	s.runs[r.ID] = r
}

// Run returns a copy of a run.
func (s *Store) Run(id string) (api.FlowRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	return r, ok
}

// Runs returns all runs in creation order.
func (s *Store) Runs() []api.FlowRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]api.FlowRun, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.runs[id])
	}
	return out
}

func (s *Store) GetByID(ctx context.Context, flowID string) (*api.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[flowID]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (s *Store) GetAllEnabled(ctx context.Context) ([]*api.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*api.Flow
	for _, f := range s.flows {
		if f.Status == api.FlowEnabled {
			f := f
			out = append(out, &f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetOrThrow(ctx context.Context, versionID string) (*api.FlowVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[versionID]
	if !ok {
		return nil, fmt.Errorf("flow version %s: %w", versionID, api.ErrEntityNotFound)
	}
	return &v, nil
}

func (s *Store) GetLatest(ctx context.Context, flowID string) (*api.FlowVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.latest[flowID]
	if !ok {
		return nil, fmt.Errorf("latest version of flow %s: %w", flowID, api.ErrEntityNotFound)
	}
	v := s.versions[id]
	return &v, nil
}

func (s *Store) ListPaused(ctx context.Context) ([]*api.FlowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*api.FlowRun
	for _, id := range s.order {
		r := s.runs[id]
		if r.Status == api.RunPaused {
			out = append(out, &r)
		}
	}
	return out, nil
}
