package llmclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultModel = "claude-sonnet-4-20250514"

// anthropicClient drives one participant's synthetic actions through the
// Anthropic Messages API. Each turn is a single non-streaming request: the
// worker's action loop, not token-level UX, is what needs low latency here.
type anthropicClient struct {
	client anthropic.Client
	cfg    Config
}

func newAnthropicClient(cfg Config, apiKey string) *anthropicClient {
	return &anthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		cfg:    cfg,
	}
}

// generatedTurn is the JSON shape the system prompt instructs the model to
// reply with, parsed back out of the response's text block.
type generatedTurn struct {
	ActionType string                 `json:"actionType"`
	Params     map[string]interface{} `json:"params"`
	Reasoning  string                 `json:"reasoning"`
}

func (a *anthropicClient) Generate(ctx context.Context, roleCtx RoleContext) (Action, string, error) {
	model := a.cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := a.cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	promptJSON, err := json.Marshal(roleCtx)
	if err != nil {
		return Action{}, "", fmt.Errorf("llmclient: marshal role context: %w", err)
	}

	system := a.cfg.SystemPrompt
	if system == "" {
		system = "You are playing the role of " + roleCtx.Role + " in a collaborative-authoring study. " +
			"Reply with exactly one JSON object: {\"actionType\": string, \"params\": object, \"reasoning\": string}, " +
			"choosing actionType from the availableActions provided."
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		System: []anthropic.TextBlockParam{
			{Type: "text", Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(string(promptJSON))),
		},
	}
	if a.cfg.Temperature > 0 {
		params.Temperature = anthropic.Float(a.cfg.Temperature)
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return Action{}, "", fmt.Errorf("llmclient: anthropic request: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if tb := block.AsText(); tb.Text != "" {
			text = tb.Text
			break
		}
	}
	if text == "" {
		return Action{}, "", fmt.Errorf("llmclient: anthropic response had no text block")
	}

	var turn generatedTurn
	if err := json.Unmarshal([]byte(text), &turn); err != nil {
		return Action{}, "", fmt.Errorf("llmclient: parse model turn: %w", err)
	}

	return Action{Type: turn.ActionType, Params: turn.Params}, turn.Reasoning, nil
}
