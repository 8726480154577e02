package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Condition holds the schema definition for the Condition entity.
// One experimental arm of a study's factorial design.
type Condition struct {
	ent.Schema
}

// Fields of the Condition.
func (Condition) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("condition_id").
			Unique().
			Immutable(),
		field.String("study_id").
			Immutable(),
		field.String("name"),
		field.JSON("config", map[string]interface{}{}).
			Optional().
			Comment("Condition-specific overrides of the study config document"),
	}
}

// Edges of the Condition.
func (Condition) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("study", Study.Type).
			Ref("conditions").
			Field("study_id").
			Unique().
			Required().
			Immutable(),
		edge.To("batches", Batch.Type),
		edge.To("participants", Participant.Type),
	}
}

// Indexes of the Condition.
func (Condition) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("study_id"),
		index.Fields("study_id", "name").
			Unique().
			Annotations(entsql.IndexWhere("name IS NOT NULL")),
	}
}
