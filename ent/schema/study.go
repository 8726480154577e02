package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Study holds the schema definition for the Study entity.
// Top-level research container: execution mode, collaboration protocol,
// and synthetic-partner defaults live in config_document.
type Study struct {
	ent.Schema
}

// Fields of the Study.
func (Study) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("study_id").
			Unique().
			Immutable(),
		field.String("name"),
		field.Text("description").
			Optional().
			Nillable(),
		field.Enum("execution_mode").
			Values("SYNCHRONOUS", "ASYNCHRONOUS", "TIMED").
			Comment("TIMED is reserved; not implemented by any orchestrator"),
		field.JSON("config_document", map[string]interface{}{}).
			Comment("collaboration{}, phaseTimeLimits, syntheticPartner, notifications, etc. Unknown fields preserved verbatim."),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Edges of the Study.
func (Study) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("conditions", Condition.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("batches", Batch.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("hybrid_sessions", HybridSession.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the Study.
func (Study) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("execution_mode"),
	}
}
