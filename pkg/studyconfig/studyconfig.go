// Package studyconfig validates a Study's configDocument against a fixed
// JSON schema and decodes its collaboration{} block into the shape the
// collaborative and hybrid orchestrators need, per spec §4.13's "load and
// Zod-validate study config" step.
package studyconfig

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/codeready-toolchain/studyengine/pkg/apperrors"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

const documentSchema = `{
  "type": "object",
  "properties": {
    "collaboration": {
      "type": "object",
      "properties": {
        "rounds": { "type": "integer", "minimum": 1 },
        "phases": {
          "type": "array",
          "items": { "type": "string", "enum": ["AUTHOR", "PLAY", "REVIEW"] }
        },
        "feedbackRequired": { "type": "boolean" },
        "maxPlayActions": { "type": "integer", "minimum": 1 },
        "pluginType": { "type": "string" },
        "phaseTimeLimits": {
          "type": "object",
          "additionalProperties": { "type": "integer", "minimum": 0 }
        }
      },
      "additionalProperties": true
    },
    "syntheticPartner": {
      "type": "object",
      "additionalProperties": true
    },
    "notifications": {
      "type": "object",
      "additionalProperties": true
    }
  },
  "additionalProperties": true
}`

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("study_config_document", documentSchema)
	})
	return schema, schemaErr
}

// Validate checks doc against the study config document schema, returning
// a *apperrors.ValidationError (non-retryable) on the first violation.
func Validate(doc map[string]interface{}) error {
	s, err := compiled()
	if err != nil {
		return fmt.Errorf("studyconfig: failed to compile schema: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return apperrors.NewValidationError("configDocument", err.Error())
	}
	return nil
}

// Collaboration is the decoded collaboration{} block, shared by the
// synchronous and asynchronous orchestrators' session configs.
type Collaboration struct {
	Rounds           int            `json:"rounds"`
	Phases           []string       `json:"phases,omitempty"`
	FeedbackRequired bool           `json:"feedbackRequired"`
	MaxPlayActions   int            `json:"maxPlayActions"`
	PluginType       string         `json:"pluginType,omitempty"`
	PhaseTimeLimits  map[string]int `json:"phaseTimeLimits,omitempty"`
}

// DecodeCollaboration extracts and validates doc, then decodes its
// collaboration{} block. Returns a zero Collaboration if the block is
// absent.
func DecodeCollaboration(doc map[string]interface{}) (Collaboration, error) {
	if err := Validate(doc); err != nil {
		return Collaboration{}, err
	}

	raw, ok := doc["collaboration"]
	if !ok {
		return Collaboration{}, nil
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return Collaboration{}, fmt.Errorf("studyconfig: failed to marshal collaboration block: %w", err)
	}
	var c Collaboration
	if err := json.Unmarshal(b, &c); err != nil {
		return Collaboration{}, fmt.Errorf("studyconfig: failed to decode collaboration block: %w", err)
	}
	return c, nil
}
