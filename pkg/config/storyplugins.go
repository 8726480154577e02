package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/codeready-toolchain/studyengine/pkg/storyplugin"
)

// twineStoryFile is the on-disk shape of StoryConfigPath: a set of named
// Twine-style passage graphs, one per pluginType the engine should serve.
type twineStoryFile struct {
	Stories map[string]struct {
		StartID  string                        `json:"startId"`
		Passages map[string]storyplugin.Passage `json:"passages"`
	} `json:"stories"`
}

// RegisterStoryPlugins loads path (if non-empty) and registers one Twine
// constructor per entry against reg, keyed by the map key as pluginType.
// A study whose taskConfig.pluginType isn't registered fails at the first
// synthetic session that needs it, not at startup, since not every batch
// in a deployment necessarily uses the synthetic worker's story plugins.
func RegisterStoryPlugins(reg *storyplugin.Registry, path string) error {
	if path == "" {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read story config %s: %w", path, err)
	}
	raw = ExpandEnv(raw)

	var file twineStoryFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("failed to parse story config %s: %w", path, err)
	}

	for pluginType, story := range file.Stories {
		reg.Register(pluginType, storyplugin.NewTwineConstructor(story.Passages, story.StartID))
	}
	return nil
}
