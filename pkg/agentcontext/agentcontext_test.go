package agentcontext

import (
	"context"
	"sync"
	"testing"

	"github.com/codeready-toolchain/studyengine/ent"
	"github.com/codeready-toolchain/studyengine/ent/participant"
	"github.com/codeready-toolchain/studyengine/ent/study"
	"github.com/codeready-toolchain/studyengine/test/util"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedParticipant(t *testing.T, ctx context.Context, client *ent.Client) string {
	t.Helper()
	studyID := uuid.NewString()
	_, err := client.Study.Create().
		SetID(studyID).
		SetName("agent context study").
		SetExecutionMode(study.ExecutionModeSYNCHRONOUS).
		SetConfigDocument(map[string]interface{}{}).
		Save(ctx)
	require.NoError(t, err)

	batchID := uuid.NewString()
	_, err = client.Batch.Create().
		SetID(batchID).
		SetStudyID(studyID).
		SetName("agent context batch").
		Save(ctx)
	require.NoError(t, err)

	participantID := uuid.NewString()
	_, err = client.Participant.Create().
		SetID(participantID).
		SetBatchID(batchID).
		SetStudyID(studyID).
		SetUniqueID("p-" + participantID[:8]).
		SetActorType(participant.ActorTypeSYNTHETIC).
		Save(ctx)
	require.NoError(t, err)

	return participantID
}

func TestGetOrCreate_CreatesDefaults(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	ctx := context.Background()
	participantID := seedParticipant(t, ctx, client)

	svc := New(client)
	ac, err := svc.GetOrCreate(ctx, participantID)
	require.NoError(t, err)
	assert.Equal(t, 1, ac.CurrentRound)
	assert.Empty(t, ac.OwnStoryDrafts)
}

func TestAppendOwnDraft_ConcurrentAppendsLoseNoUpdates(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	ctx := context.Background()
	participantID := seedParticipant(t, ctx, client)

	svc := New(client)
	_, err := svc.GetOrCreate(ctx, participantID)
	require.NoError(t, err)

	const writers = 50
	var wg sync.WaitGroup
	errs := make([]error, writers)
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.AppendOwnDraft(ctx, participantID, 1, map[string]interface{}{"index": float64(i)})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	ac, err := svc.GetOrCreate(ctx, participantID)
	require.NoError(t, err)
	assert.Len(t, ac.OwnStoryDrafts, writers)

	seen := make(map[int]bool, writers)
	for _, entry := range ac.OwnStoryDrafts {
		data, _ := entry["data"].(map[string]interface{})
		idx, _ := data["index"].(float64)
		seen[int(idx)] = true
	}
	assert.Len(t, seen, writers)
}

func TestAdvanceRound_IncrementsAndResetsPhase(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	ctx := context.Background()
	participantID := seedParticipant(t, ctx, client)

	svc := New(client)
	_, err := svc.GetOrCreate(ctx, participantID)
	require.NoError(t, err)
	require.NoError(t, svc.UpdatePhase(ctx, participantID, "PLAY"))

	require.NoError(t, svc.AdvanceRound(ctx, participantID))

	ac, err := svc.GetOrCreate(ctx, participantID)
	require.NoError(t, err)
	assert.Equal(t, 2, ac.CurrentRound)
	assert.Equal(t, "AUTHOR", string(ac.CurrentPhase))
}

func TestAdvanceRound_MissingContextErrors(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	ctx := context.Background()
	participantID := seedParticipant(t, ctx, client)

	svc := New(client)
	assert.Error(t, svc.AdvanceRound(ctx, participantID))
}
