package config

import "os"

// ExpandEnv expands environment variables in a story config file's raw JSON
// bytes using Go's standard library. Supports both ${VAR} and $VAR syntax
// (standard shell-style), so a story file can reference secrets like an
// LLM API key without embedding it:
//
//   - ${LLM_DEFAULT_MODEL} → value of LLM_DEFAULT_MODEL
//   - $STORY_ASSET_BUCKET → value of STORY_ASSET_BUCKET
//
// Missing variables expand to empty string. RegisterStoryPlugins' JSON
// unmarshal rejects the result only when that leaves the document
// malformed; an empty value inside a JSON string still parses.
func ExpandEnv(data []byte) []byte {
	expanded := os.ExpandEnv(string(data))
	return []byte(expanded)
}
