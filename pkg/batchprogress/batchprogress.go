// Package batchprogress implements the batch progress recomputation spec
// §4.11 needs after any participant terminalization — shared by the
// Synthetic Execution Worker and the paired-session handlers, since both
// terminalize participants and must recount and possibly terminalize the
// owning batch.
package batchprogress

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/studyengine/ent"
	"github.com/codeready-toolchain/studyengine/ent/batch"
	"github.com/codeready-toolchain/studyengine/ent/participant"
	"github.com/codeready-toolchain/studyengine/pkg/statuscache"
)

// Recompute recounts batchID's completed participants, updates
// actorsCompleted, and — if every participant has reached a terminal
// state — marks the batch COMPLETE and invalidates cache for batchID.
// cache may be nil.
func Recompute(ctx context.Context, client *ent.Client, cache *statuscache.Cache, batchID string) error {
	total, err := client.Participant.Query().
		Where(participant.BatchID(batchID)).
		Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count batch %s participants: %w", batchID, err)
	}
	completed, err := client.Participant.Query().
		Where(
			participant.BatchID(batchID),
			participant.StateIn(participant.StateCOMPLETE, participant.StateEXCLUDED),
		).
		Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count batch %s completed participants: %w", batchID, err)
	}

	update := client.Batch.UpdateOneID(batchID).SetActorsCompleted(completed)

	b, err := client.Batch.Get(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}
	terminal := b.Status == batch.StatusCOMPLETE || b.Status == batch.StatusFAILED || b.Status == batch.StatusDELETING

	done := completed == total && total > 0 && !terminal
	if done {
		update = update.SetStatus(batch.StatusCOMPLETE).SetCompletedAt(time.Now())
	}

	if err := update.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update batch %s progress: %w", batchID, err)
	}

	if done && cache != nil {
		_ = cache.Invalidate(ctx, batchID)
	}
	return nil
}
