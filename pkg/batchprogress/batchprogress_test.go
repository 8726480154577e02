package batchprogress

import (
	"context"
	"testing"

	"github.com/codeready-toolchain/studyengine/ent"
	"github.com/codeready-toolchain/studyengine/ent/batch"
	"github.com/codeready-toolchain/studyengine/ent/participant"
	"github.com/codeready-toolchain/studyengine/ent/study"
	"github.com/codeready-toolchain/studyengine/test/util"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStudyAndBatch(t *testing.T, ctx context.Context, client *ent.Client) string {
	t.Helper()
	studyID := uuid.NewString()
	_, err := client.Study.Create().
		SetID(studyID).
		SetName("test study").
		SetExecutionMode(study.ExecutionModeSYNCHRONOUS).
		SetConfigDocument(map[string]interface{}{}).
		Save(ctx)
	require.NoError(t, err)

	batchID := uuid.NewString()
	_, err = client.Batch.Create().
		SetID(batchID).
		SetStudyID(studyID).
		SetName("test batch").
		Save(ctx)
	require.NoError(t, err)

	return batchID
}

func seedParticipant(t *testing.T, ctx context.Context, client *ent.Client, batchID string, state participant.State) {
	t.Helper()
	_, err := client.Participant.Create().
		SetID(uuid.NewString()).
		SetBatchID(batchID).
		SetStudyID(uuid.NewString()).
		SetUniqueID("p-" + uuid.NewString()[:8]).
		SetActorType(participant.ActorTypeSYNTHETIC).
		SetState(state).
		Save(ctx)
	require.NoError(t, err)
}

func TestRecompute_PartialProgressDoesNotComplete(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	ctx := context.Background()

	batchID := seedStudyAndBatch(t, ctx, client)
	seedParticipant(t, ctx, client, batchID, participant.StateCOMPLETE)
	seedParticipant(t, ctx, client, batchID, participant.StateACTIVE)

	require.NoError(t, Recompute(ctx, client, nil, batchID))

	b, err := client.Batch.Get(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, 1, b.ActorsCompleted)
	assert.NotEqual(t, batch.StatusCOMPLETE, b.Status)
	assert.Nil(t, b.CompletedAt)
}

func TestRecompute_AllTerminalMarksBatchComplete(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	ctx := context.Background()

	batchID := seedStudyAndBatch(t, ctx, client)
	seedParticipant(t, ctx, client, batchID, participant.StateCOMPLETE)
	seedParticipant(t, ctx, client, batchID, participant.StateEXCLUDED)

	require.NoError(t, Recompute(ctx, client, nil, batchID))

	b, err := client.Batch.Get(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, 2, b.ActorsCompleted)
	assert.Equal(t, batch.StatusCOMPLETE, b.Status)
	assert.NotNil(t, b.CompletedAt)
}

func TestRecompute_AlreadyTerminalIsNotReTerminalized(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	ctx := context.Background()

	batchID := seedStudyAndBatch(t, ctx, client)
	seedParticipant(t, ctx, client, batchID, participant.StateCOMPLETE)

	require.NoError(t, client.Batch.UpdateOneID(batchID).SetStatus(batch.StatusFAILED).Exec(ctx))

	require.NoError(t, Recompute(ctx, client, nil, batchID))

	b, err := client.Batch.Get(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, batch.StatusFAILED, b.Status)
}

func TestRecompute_EmptyBatchStaysIncomplete(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	ctx := context.Background()

	batchID := seedStudyAndBatch(t, ctx, client)

	require.NoError(t, Recompute(ctx, client, nil, batchID))

	b, err := client.Batch.Get(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, 0, b.ActorsCompleted)
	assert.NotEqual(t, batch.StatusCOMPLETE, b.Status)
}
