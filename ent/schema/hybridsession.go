package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// HybridSession holds the schema definition for the HybridSession entity.
// One record per paired async session. The in-memory sessionStates map
// the source keeps is NOT reproduced here — this row plus its
// PhaseCompletion children is the single source of truth; any in-process
// cache is reconstructable from this table alone (spec.md §9).
type HybridSession struct {
	ent.Schema
}

// Fields of the HybridSession.
func (HybridSession) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("hybrid_session_id").
			Unique().
			Immutable(),
		field.String("study_id").
			Immutable(),
		field.String("participant_a_id").
			Unique().
			Immutable(),
		field.String("participant_b_id").
			Unique().
			Immutable(),
		field.JSON("config", map[string]interface{}{}).
			Comment("Resolved collaboration config for this session (phases, rounds, feedbackRequired, maxPlayActions, phaseTimeLimits)"),
		field.Time("started_at").
			Default(time.Now).
			Immutable(),
		field.Time("completed_at").
			Optional().
			Nillable(),
	}
}

// Edges of the HybridSession.
func (HybridSession) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("study", Study.Type).
			Ref("hybrid_sessions").
			Field("study_id").
			Unique().
			Required().
			Immutable(),
		edge.To("phase_completions", PhaseCompletion.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the HybridSession.
func (HybridSession) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("participant_a_id").Unique(),
		index.Fields("participant_b_id").Unique(),
	}
}
