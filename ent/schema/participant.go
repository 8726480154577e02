package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Participant holds the schema definition for the Participant entity.
// One row per actor instance (human or synthetic). partnerId symmetry
// (whenever A references B, B references A) is enforced transactionally
// by pkg/store and pkg/pairing, never by a DB-level constraint, since both
// rows must be written in the same transaction regardless of write order.
type Participant struct {
	ent.Schema
}

// Fields of the Participant.
func (Participant) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("participant_id").
			Unique().
			Immutable(),
		field.String("batch_id").
			Immutable(),
		field.String("study_id").
			Immutable().
			Comment("Denormalized for cross-batch queries"),
		field.String("condition_id").
			Optional().
			Nillable().
			Immutable(),
		field.String("unique_id").
			Comment("Batch-scoped human-readable id: {batchPrefix}-{n} or {batchPrefix}-pair{k}-A/B"),
		field.Enum("actor_type").
			Values("HUMAN", "SYNTHETIC").
			Immutable(),
		field.Enum("state").
			Values("ENROLLED", "SCHEDULED", "CONFIRMED", "CHECKED_IN", "ACTIVE", "COMPLETE", "WITHDRAWN", "EXCLUDED").
			Default("ENROLLED"),
		field.Enum("role").
			Values("PLAYER", "COLLABORATIVE", "EVALUATOR", "NAVIGATOR").
			Default("PLAYER"),
		field.JSON("llm_config", map[string]interface{}{}).
			Optional().
			Nillable().
			Comment("provider, model, temperature, max tokens; null for humans"),
		field.String("partner_id").
			Optional().
			Nillable(),
		field.JSON("pairing_metadata", map[string]interface{}{}).
			Optional().
			Nillable().
			Comment("{pairedAt, strategy, matchedBy, overlapHours?, pairedByResearcherId?}"),
		field.JSON("metadata", map[string]interface{}{}).
			Optional().
			Comment("{createdByBatch, priority, batchIndex}"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("completed_at").
			Optional().
			Nillable(),
	}
}

// Edges of the Participant.
func (Participant) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("batch", Batch.Type).
			Ref("participants").
			Field("batch_id").
			Unique().
			Required().
			Immutable(),
		edge.From("condition", Condition.Type).
			Ref("participants").
			Field("condition_id").
			Unique(),
		edge.To("events", Event.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("story_artifacts", StoryArtifact.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("agent_context", AgentContext.Type).
			Unique().
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("authored_comments", Comment.Type),
		edge.To("received_comments", Comment.Type),
		edge.To("survey_responses", SurveyResponse.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("biosignal_samples", BiosignalSample.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the Participant.
func (Participant) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("batch_id"),
		index.Fields("batch_id", "unique_id").
			Unique(),
		index.Fields("state"),
		index.Fields("batch_id", "state"),
		index.Fields("partner_id").
			Annotations(entsql.IndexWhere("partner_id IS NOT NULL")),
	}
}
