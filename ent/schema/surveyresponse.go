package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// SurveyResponse holds the schema definition for the SurveyResponse entity.
// Minimal backing table so the Export Worker's surveyResponseCount
// aggregate (spec.md §4.14) has real data to count; survey authoring and
// rendering are researcher-tooling concerns out of scope here.
type SurveyResponse struct {
	ent.Schema
}

// Fields of the SurveyResponse.
func (SurveyResponse) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("survey_response_id").
			Unique().
			Immutable(),
		field.String("participant_id").
			Immutable(),
		field.Int("round").
			Immutable(),
		field.JSON("payload", map[string]interface{}{}).
			Immutable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the SurveyResponse.
func (SurveyResponse) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("participant", Participant.Type).
			Ref("survey_responses").
			Field("participant_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the SurveyResponse.
func (SurveyResponse) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("participant_id"),
	}
}
