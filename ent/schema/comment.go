package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Comment holds the schema definition for the Comment entity.
// Typed feedback record between participants. Deleting a comment cascades
// through its whole reply tree: entsql.Cascade on the self-reference
// cascades transitively at the DB level, and pkg/comments adds no limit.
type Comment struct {
	ent.Schema
}

// Fields of the Comment.
func (Comment) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("comment_id").
			Unique().
			Immutable(),
		field.String("author_id").
			Immutable(),
		field.String("target_participant_id").
			Immutable(),
		field.String("story_artifact_id").
			Optional().
			Nillable().
			Immutable(),
		field.String("passage_id").
			Optional().
			Nillable().
			Immutable(),
		field.Text("content"),
		field.Enum("type").
			Values("FEEDBACK", "PRAISE", "SUGGESTION", "CRITIQUE", "QUESTION").
			Default("FEEDBACK"),
		field.Int("round").
			Immutable(),
		field.Enum("phase").
			Values("AUTHOR", "PLAY", "REVIEW").
			Immutable(),
		field.String("parent_id").
			Optional().
			Nillable().
			Immutable(),
		field.Bool("resolved").
			Default(false),
		field.Int("addressed_in_round").
			Optional().
			Nillable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the Comment.
func (Comment) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("author", Participant.Type).
			Ref("authored_comments").
			Field("author_id").
			Unique().
			Required().
			Immutable(),
		edge.From("target", Participant.Type).
			Ref("received_comments").
			Field("target_participant_id").
			Unique().
			Required().
			Immutable(),
		edge.From("story_artifact", StoryArtifact.Type).
			Ref("comments").
			Field("story_artifact_id").
			Unique().
			Immutable(),
		edge.To("replies", Comment.Type).
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.From("parent", Comment.Type).
			Ref("replies").
			Field("parent_id").
			Unique().
			Immutable(),
	}
}

// Indexes of the Comment.
func (Comment) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("target_participant_id", "round", "phase"),
		index.Fields("author_id"),
		index.Fields("parent_id"),
		index.Fields("story_artifact_id").
			Annotations(entsql.IndexWhere("story_artifact_id IS NOT NULL")),
	}
}
