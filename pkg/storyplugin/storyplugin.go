// Package storyplugin defines the contract synthetic actors drive through a
// collaborative-authoring story, plus a registry of constructors keyed by
// plugin type and an in-memory reference implementation used by tests.
package storyplugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/codeready-toolchain/studyengine/pkg/llmclient"
)

// Plugin is the contract a story engine (e.g. a Twine-compiled story)
// implements so the Synthetic Execution Worker can drive it headlessly.
type Plugin interface {
	// SupportsHeadless reports whether this plugin instance can run without
	// a human-facing renderer. The worker fails terminally if false.
	SupportsHeadless() bool

	// IsComplete reports whether the story has reached an ending.
	IsComplete(ctx context.Context) (bool, error)

	// GetAvailableActions returns the actions a player may currently take.
	// An empty result also ends the action loop.
	GetAvailableActions(ctx context.Context) ([]llmclient.Action, error)

	// GetState returns the plugin's current state as an opaque map, handed
	// to the LLM as part of its RoleContext.
	GetState(ctx context.Context) (map[string]interface{}, error)

	// Execute applies action and returns a result payload, or an error if
	// the action could not be applied (logged, not retried).
	Execute(ctx context.Context, action llmclient.Action) (map[string]interface{}, error)

	// Destroy releases any resources (open story files, WASM runtime, etc).
	Destroy(ctx context.Context) error
}

// Constructor builds a Plugin instance for one participant session, given
// an optional storyID (e.g. a Twine file identifier).
type Constructor func(ctx context.Context, storyID string) (Plugin, error)

// Registry maps a pluginType string to its Constructor.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register associates pluginType with a Constructor. Re-registering the
// same pluginType overwrites the previous constructor.
func (r *Registry) Register(pluginType string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[pluginType] = ctor
}

// Create instantiates the plugin registered for pluginType.
func (r *Registry) Create(ctx context.Context, pluginType, storyID string) (Plugin, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[pluginType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storyplugin: no plugin registered for type %q", pluginType)
	}
	return ctor(ctx, storyID)
}

// DefaultPluginType is used when a batch's taskConfig omits pluginType.
const DefaultPluginType = "twine"
