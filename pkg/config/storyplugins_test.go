package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/codeready-toolchain/studyengine/pkg/storyplugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterStoryPlugins_EmptyPathIsNoOp(t *testing.T) {
	reg := storyplugin.NewRegistry()
	require.NoError(t, RegisterStoryPlugins(reg, ""))

	_, err := reg.Create(context.Background(), "anything", "")
	assert.Error(t, err)
}

func TestRegisterStoryPlugins_RegistersEachStory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stories.json")
	content := `{
		"stories": {
			"haunted-house": {
				"startId": "foyer",
				"passages": {
					"foyer": {"id": "foyer", "text": "You stand in a dim foyer.", "choices": {"upstairs": "attic"}},
					"attic": {"id": "attic", "text": "Dust covers everything.", "choices": {}}
				}
			}
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	reg := storyplugin.NewRegistry()
	require.NoError(t, RegisterStoryPlugins(reg, path))

	plugin, err := reg.Create(context.Background(), "haunted-house", "")
	require.NoError(t, err)
	assert.True(t, plugin.SupportsHeadless())
}

func TestRegisterStoryPlugins_ExpandsEnvVars(t *testing.T) {
	t.Setenv("STORY_START_ID", "foyer")

	dir := t.TempDir()
	path := filepath.Join(dir, "stories.json")
	content := `{
		"stories": {
			"haunted-house": {
				"startId": "${STORY_START_ID}",
				"passages": {
					"foyer": {"id": "foyer", "text": "You stand in a dim foyer.", "choices": {}}
				}
			}
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	reg := storyplugin.NewRegistry()
	require.NoError(t, RegisterStoryPlugins(reg, path))

	_, err := reg.Create(context.Background(), "haunted-house", "")
	require.NoError(t, err)
}

func TestRegisterStoryPlugins_MissingFileErrors(t *testing.T) {
	reg := storyplugin.NewRegistry()
	err := RegisterStoryPlugins(reg, filepath.Join(t.TempDir(), "does-not-exist.json"))
	assert.Error(t, err)
}

func TestRegisterStoryPlugins_InvalidJSONErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stories.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	reg := storyplugin.NewRegistry()
	err := RegisterStoryPlugins(reg, path)
	assert.Error(t, err)
}
