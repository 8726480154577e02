package storyplugin

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/studyengine/pkg/llmclient"
)

// Passage is one node of an in-memory branching story graph, modeled after
// a Twine story's passage/link structure.
type Passage struct {
	ID      string            `json:"id"`
	Text    string            `json:"text"`
	Choices map[string]string `json:"choices"` // choice label -> destination passage ID
}

// TwinePlugin is a minimal in-memory reference implementation of Plugin,
// sufficient for unit and integration tests without a real Twine runtime.
type TwinePlugin struct {
	passages map[string]Passage
	current  string
	ended    bool
}

var _ Plugin = (*TwinePlugin)(nil)

// NewTwinePlugin builds a TwinePlugin from a passage map and a start
// passage ID.
func NewTwinePlugin(passages map[string]Passage, startID string) (*TwinePlugin, error) {
	if _, ok := passages[startID]; !ok {
		return nil, fmt.Errorf("storyplugin: start passage %q not found", startID)
	}
	return &TwinePlugin{passages: passages, current: startID}, nil
}

// NewTwineConstructor adapts a fixed story graph into a Constructor for
// Registry registration; storyID is ignored since the graph is fixed.
func NewTwineConstructor(passages map[string]Passage, startID string) Constructor {
	return func(_ context.Context, _ string) (Plugin, error) {
		return NewTwinePlugin(passages, startID)
	}
}

func (p *TwinePlugin) SupportsHeadless() bool { return true }

func (p *TwinePlugin) IsComplete(_ context.Context) (bool, error) {
	return p.ended || len(p.passages[p.current].Choices) == 0, nil
}

func (p *TwinePlugin) GetAvailableActions(_ context.Context) ([]llmclient.Action, error) {
	passage, ok := p.passages[p.current]
	if !ok {
		return nil, fmt.Errorf("storyplugin: unknown current passage %q", p.current)
	}
	actions := make([]llmclient.Action, 0, len(passage.Choices))
	for label, dest := range passage.Choices {
		actions = append(actions, llmclient.Action{
			Type:   "choose",
			Params: map[string]interface{}{"label": label, "destination": dest},
		})
	}
	return actions, nil
}

func (p *TwinePlugin) GetState(_ context.Context) (map[string]interface{}, error) {
	passage, ok := p.passages[p.current]
	if !ok {
		return nil, fmt.Errorf("storyplugin: unknown current passage %q", p.current)
	}
	return map[string]interface{}{
		"passageId": passage.ID,
		"text":      passage.Text,
	}, nil
}

func (p *TwinePlugin) Execute(_ context.Context, action llmclient.Action) (map[string]interface{}, error) {
	dest, ok := action.Params["destination"].(string)
	if !ok {
		return nil, fmt.Errorf("storyplugin: action missing destination param")
	}
	if _, ok := p.passages[dest]; !ok {
		return nil, fmt.Errorf("storyplugin: unknown destination passage %q", dest)
	}
	p.current = dest
	if len(p.passages[dest].Choices) == 0 {
		p.ended = true
	}
	return map[string]interface{}{"passageId": dest}, nil
}

func (p *TwinePlugin) Destroy(_ context.Context) error {
	return nil
}
