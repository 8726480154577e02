package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// StoryArtifact holds the schema definition for the StoryArtifact entity.
// Per-participant, per-plugin-type, monotonically versioned reference to a
// blob. Version is dense per (participant_id, plugin_type); allocated
// inside the same transaction as the blob-write commit (pkg/collaborative
// PersistStory).
type StoryArtifact struct {
	ent.Schema
}

// Fields of the StoryArtifact.
func (StoryArtifact) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("story_artifact_id").
			Unique().
			Immutable(),
		field.String("participant_id").
			Immutable(),
		field.String("plugin_type").
			Immutable(),
		field.Int("version").
			Immutable(),
		field.Int("round").
			Comment("Collaboration round this draft was authored in"),
		field.String("blob_key").
			Immutable(),
		field.String("bucket").
			Immutable(),
		field.Enum("status").
			Values("PENDING", "CONFIRMED").
			Default("PENDING"),
		field.String("name").
			Optional().
			Nillable(),
		field.Text("description").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the StoryArtifact.
func (StoryArtifact) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("participant", Participant.Type).
			Ref("story_artifacts").
			Field("participant_id").
			Unique().
			Required().
			Immutable(),
		edge.To("comments", Comment.Type),
	}
}

// Indexes of the StoryArtifact.
func (StoryArtifact) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("participant_id", "plugin_type", "version").
			Unique(),
		index.Fields("participant_id", "plugin_type", "round"),
	}
}
