package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Event holds the schema definition for the Event entity.
// Append-only journal row. Immutable after write — events are totally
// ordered by created_at within one participant; no cross-participant
// ordering claim is made.
type Event struct {
	ent.Schema
}

// Fields of the Event.
func (Event) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("event_id").
			Unique().
			Immutable(),
		field.String("participant_id").
			Immutable(),
		field.Enum("type").
			Values(
				"SESSION_START",
				"SESSION_END",
				"SYNTHETIC_ACTION",
				"SYNTHETIC_ERROR",
				"SYNTHETIC_TIMEOUT",
				"STATE_CHANGE",
				"PHASE_READY",
				"PHASE_COMPLETE",
				"SESSION_COMPLETE",
				"ERROR",
			).
			Immutable(),
		field.JSON("data", map[string]interface{}{}).
			Immutable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the Event.
func (Event) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("participant", Participant.Type).
			Ref("events").
			Field("participant_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the Event.
func (Event) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("participant_id", "created_at"),
		index.Fields("type"),
	}
}
