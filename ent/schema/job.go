package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Job holds the schema definition for the Job entity.
// Backs the durable priority queue (pkg/broker). Named queues share this
// one table, discriminated by the queue column, mirroring how tarsy
// dedicates ent/schema/alertsession.go to a single queue but generalized
// to the multi-queue broker contract of spec.md §4.1/§6.
type Job struct {
	ent.Schema
}

// Fields of the Job.
func (Job) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("job_id").
			Unique().
			Immutable().
			Comment("Caller-supplied or derived idempotency key, e.g. exec-{batchId}-{participantId}"),
		field.String("queue").
			Immutable().
			Comment("batch-creation | synthetic-execution | data-export | collaborative-batch-creation | collaborative-session | hybrid-session-synthetic-phase | session-init"),
		field.JSON("payload", map[string]interface{}{}).
			Immutable(),
		field.Int("priority").
			Default(10).
			Comment("Lower runs first: REAL_TIME=1, HIGH=5, NORMAL=10, LOW=20"),
		field.Enum("status").
			Values("QUEUED", "ACTIVE", "COMPLETED", "FAILED", "DELAYED").
			Default("QUEUED"),
		field.Int("attempts_remaining"),
		field.Int("max_attempts"),
		field.Time("next_run_at").
			Default(time.Now),
		field.Int("progress").
			Default(0),
		field.JSON("result", map[string]interface{}{}).
			Optional().
			Nillable(),
		field.String("error_message").
			Optional().
			Nillable(),
		field.String("claimed_by").
			Optional().
			Nillable().
			Comment("Worker/pod id holding the current claim, for orphan detection"),
		field.Time("last_heartbeat_at").
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

// Edges of the Job.
func (Job) Edges() []ent.Edge {
	return nil
}

// Indexes of the Job.
func (Job) Indexes() []ent.Index {
	return []ent.Index{
		// Claim-query ordering: next runnable job per queue.
		index.Fields("queue", "status", "priority", "next_run_at"),
		index.Fields("status", "last_heartbeat_at"),
	}
}
