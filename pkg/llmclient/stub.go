package llmclient

import "context"

// Stub is a deterministic Client for tests: it always picks the first
// available action, optionally overridden per-call via Responses.
type Stub struct {
	// Responses, if non-empty, are consumed in order; once exhausted Stub
	// falls back to picking the first available action.
	Responses []Action
	calls     int
}

var _ Client = (*Stub)(nil)

func (s *Stub) Generate(_ context.Context, roleCtx RoleContext) (Action, string, error) {
	defer func() { s.calls++ }()

	if s.calls < len(s.Responses) {
		return s.Responses[s.calls], "stubbed response", nil
	}
	if len(roleCtx.AvailableActions) == 0 {
		return Action{}, "", nil
	}
	return roleCtx.AvailableActions[0], "picked first available action", nil
}

// Calls returns the number of times Generate has been invoked.
func (s *Stub) Calls() int {
	return s.calls
}
