// Package batchworkers creates the participant rows for a batch and
// enqueues their executions, as single-actor or paired runs.
package batchworkers

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/studyengine/ent"
	"github.com/codeready-toolchain/studyengine/ent/batch"
	"github.com/codeready-toolchain/studyengine/ent/participant"
	"github.com/codeready-toolchain/studyengine/pkg/broker"
	"github.com/google/uuid"
)

const chunkSize = 100

// Worker creates batch participants and enqueues their execution jobs.
type Worker struct {
	client *ent.Client
	broker *broker.Broker
}

// New constructs a Worker.
func New(client *ent.Client, b *broker.Broker) *Worker {
	return &Worker{client: client, broker: b}
}

// SingleActorInput is the payload for RunSingleActor.
type SingleActorInput struct {
	BatchID     string                 `json:"batchId"`
	StudyID     string                 `json:"studyId"`
	ActorCount  int                    `json:"actorCount"`
	Role        string                 `json:"role,omitempty"`
	LLMConfig   map[string]interface{} `json:"llmConfig,omitempty"`
	ConditionID *string                `json:"conditionId,omitempty"`
	Priority    int                    `json:"priority,omitempty"`
}

// RunSingleActor transitions the batch to RUNNING, inserts ActorCount
// ENROLLED participants in chunks, and bulk-enqueues one
// synthetic-execution job per participant. On any failure the batch is
// moved to FAILED with the error recorded, and the error is returned.
func (w *Worker) RunSingleActor(ctx context.Context, in SingleActorInput, progress func(int)) error {
	if err := w.runSingleActor(ctx, in, progress); err != nil {
		w.failBatch(ctx, in.BatchID, err)
		return err
	}
	return nil
}

func (w *Worker) runSingleActor(ctx context.Context, in SingleActorInput, progress func(int)) error {
	now := time.Now()
	if err := w.client.Batch.UpdateOneID(in.BatchID).
		SetStatus(batch.StatusRUNNING).
		SetStartedAt(now).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to transition batch %s to RUNNING: %w", in.BatchID, err)
	}

	batchPrefix := batchPrefix(in.BatchID)
	ids := make([]string, 0, in.ActorCount)

	for offset := 0; offset < in.ActorCount; offset += chunkSize {
		end := offset + chunkSize
		if end > in.ActorCount {
			end = in.ActorCount
		}

		builders := make([]*ent.ParticipantCreate, 0, end-offset)
		for i := offset; i < end; i++ {
			id := uuid.NewString()
			ids = append(ids, id)
			n := i + 1
			create := w.client.Participant.Create().
				SetID(id).
				SetBatchID(in.BatchID).
				SetStudyID(in.StudyID).
				SetUniqueID(fmt.Sprintf("%s-%d", batchPrefix, n)).
				SetActorType(participant.ActorTypeSYNTHETIC).
				SetState(participant.StateENROLLED).
				SetMetadata(map[string]interface{}{
					"createdByBatch": in.BatchID,
					"priority":       in.Priority,
					"batchIndex":     i,
				})
			if in.Role != "" {
				create = create.SetRole(participant.Role(in.Role))
			}
			if in.ConditionID != nil {
				create = create.SetConditionID(*in.ConditionID)
			}
			if in.LLMConfig != nil {
				create = create.SetLlmConfig(in.LLMConfig)
			}
			builders = append(builders, create)
		}

		if err := w.client.Participant.CreateBulk(builders...).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert participants chunk [%d,%d): %w", offset, end, err)
		}

		pct := 5 + int(float64(end)/float64(in.ActorCount)*75)
		progress(pct)
	}

	if err := w.client.Batch.UpdateOneID(in.BatchID).
		SetActorsCreated(len(ids)).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to set actorsCreated on batch %s: %w", in.BatchID, err)
	}

	payloads := make([]map[string]interface{}, 0, len(ids))
	jobOpts := make([]string, 0, len(ids))
	for _, pid := range ids {
		payloads = append(payloads, map[string]interface{}{
			"participantId": pid,
			"batchId":       in.BatchID,
		})
		jobOpts = append(jobOpts, fmt.Sprintf("exec-%s-%s", in.BatchID, pid))
	}
	if err := w.enqueueWithIDs(ctx, "synthetic-execution", payloads, jobOpts, in.Priority); err != nil {
		return fmt.Errorf("failed to enqueue synthetic-execution jobs: %w", err)
	}

	progress(100)
	return nil
}

// PairedInput is the payload for RunPaired.
type PairedInput struct {
	BatchID           string                 `json:"batchId"`
	StudyID           string                 `json:"studyId"`
	PairCount         int                    `json:"pairCount"`
	LLMConfigA        map[string]interface{} `json:"llmConfigA,omitempty"`
	LLMConfigB        map[string]interface{} `json:"llmConfigB,omitempty"`
	VaryPartnerConfig bool                   `json:"varyPartnerConfig,omitempty"`
	ConditionID       *string                `json:"conditionId,omitempty"`
	Priority          int                    `json:"priority,omitempty"`
}

// RunPaired is the paired variant of RunSingleActor: creates PairCount
// pairs of COLLABORATIVE-role participants with symmetric partnerId, and
// enqueues one collaborative-session job per pair.
func (w *Worker) RunPaired(ctx context.Context, in PairedInput, progress func(int)) error {
	if err := w.runPaired(ctx, in, progress); err != nil {
		w.failBatch(ctx, in.BatchID, err)
		return err
	}
	return nil
}

func (w *Worker) runPaired(ctx context.Context, in PairedInput, progress func(int)) error {
	now := time.Now()
	if err := w.client.Batch.UpdateOneID(in.BatchID).
		SetStatus(batch.StatusRUNNING).
		SetStartedAt(now).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to transition batch %s to RUNNING: %w", in.BatchID, err)
	}

	batchPrefix := batchPrefix(in.BatchID)
	type pairIDs struct{ a, b string }
	pairs := make([]pairIDs, 0, in.PairCount)

	for offset := 0; offset < in.PairCount; offset += chunkSize / 2 {
		end := offset + chunkSize/2
		if end > in.PairCount {
			end = in.PairCount
		}

		builders := make([]*ent.ParticipantCreate, 0, (end-offset)*2)
		chunkPairs := make([]pairIDs, 0, end-offset)
		for k := offset; k < end; k++ {
			idA, idB := uuid.NewString(), uuid.NewString()
			chunkPairs = append(chunkPairs, pairIDs{idA, idB})

			llmB := in.LLMConfigB
			if !in.VaryPartnerConfig || llmB == nil {
				llmB = in.LLMConfigA
			}

			builders = append(builders, w.pairedParticipant(in, batchPrefix, idA, idB, k+1, "A", in.LLMConfigA))
			builders = append(builders, w.pairedParticipant(in, batchPrefix, idB, idA, k+1, "B", llmB))
		}

		if err := w.client.Participant.CreateBulk(builders...).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert pair participants chunk [%d,%d): %w", offset, end, err)
		}
		pairs = append(pairs, chunkPairs...)

		pct := 5 + int(float64(end)/float64(in.PairCount)*75)
		progress(pct)
	}

	if err := w.client.Batch.UpdateOneID(in.BatchID).
		SetActorsCreated(len(pairs) * 2).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to set actorsCreated on batch %s: %w", in.BatchID, err)
	}

	payloads := make([]map[string]interface{}, 0, len(pairs))
	jobIDs := make([]string, 0, len(pairs))
	for _, p := range pairs {
		payloads = append(payloads, map[string]interface{}{
			"batchId":          in.BatchID,
			"participantIdA":   p.a,
			"participantIdB":   p.b,
		})
		jobIDs = append(jobIDs, fmt.Sprintf("collab-%s-%s-%s", in.BatchID, p.a, p.b))
	}
	if err := w.enqueueWithIDs(ctx, "collaborative-session", payloads, jobIDs, in.Priority); err != nil {
		return fmt.Errorf("failed to enqueue collaborative-session jobs: %w", err)
	}

	progress(100)
	return nil
}

func (w *Worker) pairedParticipant(in PairedInput, batchPrefix, id, partnerID string, k int, side string, llmConfig map[string]interface{}) *ent.ParticipantCreate {
	create := w.client.Participant.Create().
		SetID(id).
		SetBatchID(in.BatchID).
		SetStudyID(in.StudyID).
		SetUniqueID(fmt.Sprintf("%s-pair%d-%s", batchPrefix, k, side)).
		SetActorType(participant.ActorTypeSYNTHETIC).
		SetState(participant.StateENROLLED).
		SetRole(participant.RoleCOLLABORATIVE).
		SetPartnerID(partnerID).
		SetMetadata(map[string]interface{}{
			"createdByBatch": in.BatchID,
			"priority":       in.Priority,
			"pairIndex":      k,
		})
	if in.ConditionID != nil {
		create = create.SetConditionID(*in.ConditionID)
	}
	if llmConfig != nil {
		create = create.SetLlmConfig(llmConfig)
	}
	return create
}

func (w *Worker) enqueueWithIDs(ctx context.Context, queue string, payloads []map[string]interface{}, jobIDs []string, priority int) error {
	entries := make([]broker.BulkEntry, len(payloads))
	for i, payload := range payloads {
		entries[i] = broker.BulkEntry{JobID: jobIDs[i], Payload: payload}
	}
	_, err := w.broker.EnqueueBulk(ctx, queue, entries, broker.EnqueueOptions{
		Priority: priorityOrDefault(priority),
	})
	return err
}

func priorityOrDefault(p int) int {
	if p == 0 {
		return broker.PriorityNormal
	}
	return p
}

func (w *Worker) failBatch(ctx context.Context, batchID string, cause error) {
	if err := w.client.Batch.UpdateOneID(batchID).
		SetStatus(batch.StatusFAILED).
		SetErrorMessage(cause.Error()).
		SetCompletedAt(time.Now()).
		Exec(ctx); err != nil {
		// Best-effort: the original error is still returned to the caller.
		_ = err
	}
}

// batchPrefix returns the first 8 characters of batchID, used as the
// human-readable prefix for unique_id.
func batchPrefix(batchID string) string {
	if len(batchID) <= 8 {
		return batchID
	}
	return batchID[:8]
}
