package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// PhaseCompletion holds the schema definition for the PhaseCompletion entity.
// One row per (participant, round, phase) within a HybridSession. The
// barrier invariant (neither side advances past a phase until both sides'
// completions for that phase exist with status COMPLETED) is enforced by
// pkg/hybrid, not by this schema.
type PhaseCompletion struct {
	ent.Schema
}

// Fields of the PhaseCompletion.
func (PhaseCompletion) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("phase_completion_id").
			Unique().
			Immutable(),
		field.String("hybrid_session_id").
			Immutable(),
		field.String("participant_id").
			Immutable(),
		field.String("partner_id").
			Immutable(),
		field.Int("round").
			Immutable(),
		field.Enum("phase").
			Values("AUTHOR", "PLAY", "REVIEW").
			Immutable(),
		field.Enum("status").
			Values("PENDING", "IN_PROGRESS", "COMPLETED", "FAILED").
			Default("PENDING"),
		field.Time("started_at").
			Optional().
			Nillable(),
		field.Time("completed_at").
			Optional().
			Nillable(),
		field.JSON("result", map[string]interface{}{}).
			Optional().
			Nillable().
			Comment("storyArtifactId for AUTHOR, choicesMade/observations for PLAY, commentIds for REVIEW"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the PhaseCompletion.
func (PhaseCompletion) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("hybrid_session", HybridSession.Type).
			Ref("phase_completions").
			Field("hybrid_session_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the PhaseCompletion.
func (PhaseCompletion) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("hybrid_session_id", "participant_id", "round", "phase").
			Unique(),
		index.Fields("participant_id", "status"),
	}
}
