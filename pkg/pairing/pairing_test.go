package pairing

import (
	"context"
	"testing"

	"github.com/codeready-toolchain/studyengine/ent"
	"github.com/codeready-toolchain/studyengine/ent/job"
	"github.com/codeready-toolchain/studyengine/ent/participant"
	"github.com/codeready-toolchain/studyengine/ent/study"
	"github.com/codeready-toolchain/studyengine/pkg/broker"
	"github.com/codeready-toolchain/studyengine/test/util"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStudyBatch(t *testing.T, ctx context.Context, client *ent.Client) (studyID, batchID string) {
	t.Helper()
	studyID = uuid.NewString()
	_, err := client.Study.Create().
		SetID(studyID).
		SetName("pairing study").
		SetExecutionMode(study.ExecutionModeASYNCHRONOUS).
		SetConfigDocument(map[string]interface{}{}).
		Save(ctx)
	require.NoError(t, err)

	batchID = uuid.NewString()
	_, err = client.Batch.Create().
		SetID(batchID).
		SetStudyID(studyID).
		SetName("pairing batch").
		Save(ctx)
	require.NoError(t, err)
	return studyID, batchID
}

func seedUnpairedParticipant(t *testing.T, ctx context.Context, client *ent.Client, studyID, batchID string, actorType participant.ActorType) *ent.Participant {
	t.Helper()
	p, err := client.Participant.Create().
		SetID(uuid.NewString()).
		SetBatchID(batchID).
		SetStudyID(studyID).
		SetUniqueID("p-" + uuid.NewString()[:8]).
		SetActorType(actorType).
		SetState(participant.StateENROLLED).
		Save(ctx)
	require.NoError(t, err)
	return p
}

func TestPair_SyntheticSyntheticFormsPairsAndEnqueuesSessionInit(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	ctx := context.Background()
	studyID, batchID := seedStudyBatch(t, ctx, client)

	a := seedUnpairedParticipant(t, ctx, client, studyID, batchID, participant.ActorTypeSYNTHETIC)
	b := seedUnpairedParticipant(t, ctx, client, studyID, batchID, participant.ActorTypeSYNTHETIC)

	b2 := broker.New(client, "test-pod")
	svc := New(client).WithBroker(b2)

	formed, err := svc.Pair(ctx, Config{StudyID: studyID, BatchID: batchID, Strategy: StrategySyntheticSynthetic})
	require.NoError(t, err)
	assert.Equal(t, 1, formed)

	pa, err := client.Participant.Get(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, pa.PartnerID)
	assert.Equal(t, b.ID, *pa.PartnerID)

	count, err := client.Job.Query().Where(job.Queue("session-init")).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPair_WithoutBrokerSkipsEnqueue(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	ctx := context.Background()
	studyID, batchID := seedStudyBatch(t, ctx, client)

	seedUnpairedParticipant(t, ctx, client, studyID, batchID, participant.ActorTypeSYNTHETIC)
	seedUnpairedParticipant(t, ctx, client, studyID, batchID, participant.ActorTypeSYNTHETIC)

	svc := New(client)
	formed, err := svc.Pair(ctx, Config{StudyID: studyID, BatchID: batchID, Strategy: StrategySyntheticSynthetic})
	require.NoError(t, err)
	assert.Equal(t, 1, formed)

	count, err := client.Job.Query().Where(job.Queue("session-init")).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestManualPair_RejectsAlreadyPaired(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	ctx := context.Background()
	studyID, batchID := seedStudyBatch(t, ctx, client)

	a := seedUnpairedParticipant(t, ctx, client, studyID, batchID, participant.ActorTypeHUMAN)
	b := seedUnpairedParticipant(t, ctx, client, studyID, batchID, participant.ActorTypeSYNTHETIC)

	svc := New(client)
	require.NoError(t, svc.ManualPair(ctx, a.ID, b.ID, "researcher-1"))

	c := seedUnpairedParticipant(t, ctx, client, studyID, batchID, participant.ActorTypeHUMAN)
	err := svc.ManualPair(ctx, a.ID, c.ID, "researcher-1")
	assert.Error(t, err)
}

func TestManualPair_EnqueuesSessionInit(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	ctx := context.Background()
	studyID, batchID := seedStudyBatch(t, ctx, client)

	a := seedUnpairedParticipant(t, ctx, client, studyID, batchID, participant.ActorTypeHUMAN)
	b := seedUnpairedParticipant(t, ctx, client, studyID, batchID, participant.ActorTypeSYNTHETIC)

	svc := New(client).WithBroker(broker.New(client, "test-pod"))
	require.NoError(t, svc.ManualPair(ctx, a.ID, b.ID, "researcher-1"))

	count, err := client.Job.Query().Where(job.Queue("session-init")).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUnpair_ClearsBothSides(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	ctx := context.Background()
	studyID, batchID := seedStudyBatch(t, ctx, client)

	a := seedUnpairedParticipant(t, ctx, client, studyID, batchID, participant.ActorTypeHUMAN)
	b := seedUnpairedParticipant(t, ctx, client, studyID, batchID, participant.ActorTypeSYNTHETIC)

	svc := New(client)
	require.NoError(t, svc.ManualPair(ctx, a.ID, b.ID, "researcher-1"))
	require.NoError(t, svc.Unpair(ctx, a.ID))

	pa, err := client.Participant.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, pa.PartnerID)

	pb, err := client.Participant.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Nil(t, pb.PartnerID)
}

func TestUnpair_NoPartnerErrors(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	ctx := context.Background()
	studyID, batchID := seedStudyBatch(t, ctx, client)

	a := seedUnpairedParticipant(t, ctx, client, studyID, batchID, participant.ActorTypeHUMAN)

	svc := New(client)
	assert.Error(t, svc.Unpair(ctx, a.ID))
}
