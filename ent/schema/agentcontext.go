package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// AgentContext holds the schema definition for the AgentContext entity.
// One row per participant: per-participant persistent memory. The five
// list fields are ordered, append-only JSON arrays, each entry tagged
// with the round it was produced in. Appends are serializable
// read-modify-write transactions (pkg/agentcontext).
type AgentContext struct {
	ent.Schema
}

// Fields of the AgentContext.
func (AgentContext) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("agent_context_id").
			Unique().
			Immutable(),
		field.String("participant_id").
			Unique().
			Immutable(),
		field.Int("current_round").
			Default(1),
		field.Enum("current_phase").
			Values("AUTHOR", "PLAY", "REVIEW").
			Default("AUTHOR"),
		field.JSON("own_story_drafts", []map[string]interface{}{}).
			Default(func() []map[string]interface{} { return []map[string]interface{}{} }),
		field.JSON("partner_stories_played", []map[string]interface{}{}).
			Default(func() []map[string]interface{} { return []map[string]interface{}{} }),
		field.JSON("feedback_given", []map[string]interface{}{}).
			Default(func() []map[string]interface{} { return []map[string]interface{}{} }),
		field.JSON("feedback_received", []map[string]interface{}{}).
			Default(func() []map[string]interface{} { return []map[string]interface{}{} }),
		field.JSON("cumulative_learnings", []map[string]interface{}{}).
			Default(func() []map[string]interface{} { return []map[string]interface{}{} }),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Edges of the AgentContext.
func (AgentContext) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("participant", Participant.Type).
			Ref("agent_context").
			Field("participant_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the AgentContext.
func (AgentContext) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("participant_id").
			Unique(),
	}
}
