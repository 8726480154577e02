package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// BiosignalSample holds the schema definition for the BiosignalSample entity.
// Count-only record backing a blob uploaded to the biosignals/ key
// namespace named in spec.md §6; full biosignal modeling is out of scope.
type BiosignalSample struct {
	ent.Schema
}

// Fields of the BiosignalSample.
func (BiosignalSample) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("biosignal_sample_id").
			Unique().
			Immutable(),
		field.String("participant_id").
			Immutable(),
		field.String("kind").
			Immutable(),
		field.String("device_id").
			Optional().
			Nillable().
			Immutable(),
		field.String("blob_key").
			Immutable(),
		field.String("bucket").
			Immutable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the BiosignalSample.
func (BiosignalSample) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("participant", Participant.Type).
			Ref("biosignal_samples").
			Field("participant_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the BiosignalSample.
func (BiosignalSample) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("participant_id"),
	}
}
