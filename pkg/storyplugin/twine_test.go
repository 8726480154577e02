package storyplugin

import (
	"context"
	"testing"

	"github.com/codeready-toolchain/studyengine/pkg/llmclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hauntedHouse() map[string]Passage {
	return map[string]Passage{
		"foyer": {
			ID:      "foyer",
			Text:    "You stand in a dim foyer.",
			Choices: map[string]string{"go upstairs": "attic"},
		},
		"attic": {
			ID:      "attic",
			Text:    "Dust covers everything.",
			Choices: map[string]string{},
		},
	}
}

func TestNewTwinePlugin_UnknownStartErrors(t *testing.T) {
	_, err := NewTwinePlugin(hauntedHouse(), "basement")
	assert.Error(t, err)
}

func TestTwinePlugin_WalkToEnding(t *testing.T) {
	ctx := context.Background()
	plugin, err := NewTwinePlugin(hauntedHouse(), "foyer")
	require.NoError(t, err)

	complete, err := plugin.IsComplete(ctx)
	require.NoError(t, err)
	assert.False(t, complete)

	actions, err := plugin.GetAvailableActions(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "choose", actions[0].Type)

	state, err := plugin.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "foyer", state["passageId"])

	result, err := plugin.Execute(ctx, actions[0])
	require.NoError(t, err)
	assert.Equal(t, "attic", result["passageId"])

	complete, err = plugin.IsComplete(ctx)
	require.NoError(t, err)
	assert.True(t, complete)
}

func TestTwinePlugin_ExecuteMissingDestinationErrors(t *testing.T) {
	ctx := context.Background()
	plugin, err := NewTwinePlugin(hauntedHouse(), "foyer")
	require.NoError(t, err)

	_, err = plugin.Execute(ctx, llmclient.Action{Type: "choose"})
	assert.Error(t, err)
}

func TestTwinePlugin_ExecuteUnknownDestinationErrors(t *testing.T) {
	ctx := context.Background()
	plugin, err := NewTwinePlugin(hauntedHouse(), "foyer")
	require.NoError(t, err)

	_, err = plugin.Execute(ctx, llmclient.Action{
		Type:   "choose",
		Params: map[string]interface{}{"destination": "basement"},
	})
	assert.Error(t, err)
}

func TestNewTwineConstructor_IgnoresStoryID(t *testing.T) {
	ctor := NewTwineConstructor(hauntedHouse(), "foyer")
	plugin, err := ctor(context.Background(), "irrelevant-story-id")
	require.NoError(t, err)
	assert.True(t, plugin.SupportsHeadless())
}
