// Package llmclient defines the contract synthetic-execution workers use to
// drive an LLM-backed agent, plus an anthropic-sdk-go-backed implementation.
// The LLM's own HTTP transport is out of scope; this package only shapes the
// request/response contract.
package llmclient

import "context"

// Config carries the per-participant LLM configuration stored on
// participant.llm_config.
type Config struct {
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
	SystemPrompt string
}

// RoleContext is the per-turn payload handed to the LLM: current plugin
// state, the actor's role, the actions it may take, and a bounded window of
// prior action history.
type RoleContext struct {
	State            map[string]interface{}
	Role             string
	AvailableActions []Action
	ActionHistory    []ActionRecord
}

// Action is one candidate move offered by the story plugin.
type Action struct {
	Type   string
	Params map[string]interface{}
}

// ActionRecord is one executed action, kept in RoleContext.ActionHistory.
type ActionRecord struct {
	Index     int
	Type      string
	Params    map[string]interface{}
	Success   bool
	Error     string
	Reasoning string
}

// Client is the contract the synthetic execution worker drives. One Client
// is constructed per participant from its Config.
type Client interface {
	// Generate asks the model to pick the next action given ctx, returning
	// the action it selected along with the model's stated reasoning.
	Generate(ctx context.Context, roleCtx RoleContext) (Action, string, error)
}

// NewClient constructs the Client for cfg.Provider. Only "anthropic" is
// wired; unknown providers return an error rather than silently degrading.
func NewClient(cfg Config, apiKey string) (Client, error) {
	switch cfg.Provider {
	case "anthropic", "":
		return newAnthropicClient(cfg, apiKey), nil
	default:
		return nil, &UnsupportedProviderError{Provider: cfg.Provider}
	}
}

// UnsupportedProviderError is returned by NewClient for an unrecognized
// cfg.Provider.
type UnsupportedProviderError struct {
	Provider string
}

func (e *UnsupportedProviderError) Error() string {
	return "llmclient: unsupported provider " + e.Provider
}
