package studyconfig

import (
	"testing"

	"github.com/codeready-toolchain/studyengine/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Valid(t *testing.T) {
	doc := map[string]interface{}{
		"collaboration": map[string]interface{}{
			"rounds":           float64(3),
			"phases":           []interface{}{"AUTHOR", "PLAY", "REVIEW"},
			"feedbackRequired": true,
			"maxPlayActions":   float64(10),
		},
	}
	assert.NoError(t, Validate(doc))
}

func TestValidate_EmptyDocument(t *testing.T) {
	assert.NoError(t, Validate(map[string]interface{}{}))
}

func TestValidate_RejectsUnknownPhase(t *testing.T) {
	doc := map[string]interface{}{
		"collaboration": map[string]interface{}{
			"phases": []interface{}{"VOTE"},
		},
	}
	err := Validate(doc)
	require.Error(t, err)
	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestValidate_RejectsZeroRounds(t *testing.T) {
	doc := map[string]interface{}{
		"collaboration": map[string]interface{}{
			"rounds": float64(0),
		},
	}
	assert.Error(t, Validate(doc))
}

func TestDecodeCollaboration_DecodesFields(t *testing.T) {
	doc := map[string]interface{}{
		"collaboration": map[string]interface{}{
			"rounds":           float64(2),
			"phases":           []interface{}{"AUTHOR", "PLAY"},
			"feedbackRequired": true,
			"maxPlayActions":   float64(5),
			"pluginType":       "twine",
			"phaseTimeLimits":  map[string]interface{}{"AUTHOR": float64(600)},
		},
	}

	c, err := DecodeCollaboration(doc)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Rounds)
	assert.Equal(t, []string{"AUTHOR", "PLAY"}, c.Phases)
	assert.True(t, c.FeedbackRequired)
	assert.Equal(t, 5, c.MaxPlayActions)
	assert.Equal(t, "twine", c.PluginType)
	assert.Equal(t, 600, c.PhaseTimeLimits["AUTHOR"])
}

func TestDecodeCollaboration_MissingBlockReturnsZeroValue(t *testing.T) {
	c, err := DecodeCollaboration(map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, Collaboration{}, c)
}

func TestDecodeCollaboration_InvalidSchemaFails(t *testing.T) {
	doc := map[string]interface{}{
		"collaboration": map[string]interface{}{
			"phases": []interface{}{"NOT_A_PHASE"},
		},
	}
	_, err := DecodeCollaboration(doc)
	assert.Error(t, err)
}
