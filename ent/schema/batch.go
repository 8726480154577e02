package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Batch holds the schema definition for the Batch entity.
// A named group of executions within a study. actorsCompleted <= actorsCreated;
// once status is terminal (COMPLETE/FAILED/DELETING) no worker mutates
// participant state on its behalf.
type Batch struct {
	ent.Schema
}

// Fields of the Batch.
func (Batch) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("batch_id").
			Unique().
			Immutable(),
		field.String("study_id").
			Immutable(),
		field.String("condition_id").
			Optional().
			Nillable().
			Immutable(),
		field.String("name"),
		field.Enum("status").
			Values("DRAFT", "QUEUED", "RUNNING", "PAUSED", "COMPLETE", "FAILED", "DELETING").
			Default("DRAFT"),
		field.Int("actors_created").
			Default(0),
		field.Int("actors_completed").
			Default(0),
		field.Bool("paired").
			Default(false).
			Immutable().
			Comment("true if this batch was materialized as N pairs rather than N solo actors"),
		field.String("export_path").
			Optional().
			Nillable(),
		field.String("error_message").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("started_at").
			Optional().
			Nillable(),
		field.Time("completed_at").
			Optional().
			Nillable(),
	}
}

// Edges of the Batch.
func (Batch) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("study", Study.Type).
			Ref("batches").
			Field("study_id").
			Unique().
			Required().
			Immutable(),
		edge.From("condition", Condition.Type).
			Ref("batches").
			Field("condition_id").
			Unique(),
		edge.To("participants", Participant.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

// Indexes of the Batch.
func (Batch) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("study_id"),
		index.Fields("status"),
		index.Fields("status", "created_at"),
	}
}
