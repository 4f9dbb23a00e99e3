package memflow

import (
	"context"
	"sync"

	"github.com/petrijr/flowq/pkg/api"
)

// HookOp names a trigger hook call.
type HookOp string

const (
	HookEnable  HookOp = "enable"
	HookDisable HookOp = "disable"
	HookRenew   HookOp = "renew"
)

// HookCall records one trigger hook invocation.
type HookCall struct {
	Op            HookOp
	FlowVersionID string
	ProjectID     string
	Simulate      bool
}

// Hooks is a recording api.TriggerHooks. Schedules maps a trigger type to
// the result Enable returns for it.
type Hooks struct {
	mu        sync.Mutex
	calls     []HookCall
	Schedules map[string]api.TriggerEnableResult
	// Fail makes every hook call for the given flow version id fail.
	Fail map[string]error
}

func NewHooks() *Hooks {
	return &Hooks{
		Schedules: make(map[string]api.TriggerEnableResult),
		Fail:      make(map[string]error),
	}
}

var _ api.TriggerHooks = (*Hooks)(nil)

func (h *Hooks) record(op HookOp, req api.TriggerHookRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, HookCall{
		Op:            op,
		FlowVersionID: req.FlowVersion.ID,
		ProjectID:     req.ProjectID,
		Simulate:      req.Simulate,
	})
	return h.Fail[req.FlowVersion.ID]
}

func (h *Hooks) Enable(ctx context.Context, req api.TriggerHookRequest) (*api.TriggerEnableResult, error) {
	if err := h.record(HookEnable, req); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	res, ok := h.Schedules[req.FlowVersion.TriggerType]
	if !ok {
		return &api.TriggerEnableResult{}, nil
	}
	return &res, nil
}

func (h *Hooks) Disable(ctx context.Context, req api.TriggerHookRequest) error {
	return h.record(HookDisable, req)
}

func (h *Hooks) Renew(ctx context.Context, req api.TriggerHookRequest) error {
	return h.record(HookRenew, req)
}

// Calls returns a copy of the recorded calls.
func (h *Hooks) Calls() []HookCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]HookCall(nil), h.calls...)
}
