package retention

import (
	"context"
	"testing"
	"time"

	"github.com/codeready-toolchain/studyengine/ent"
	"github.com/codeready-toolchain/studyengine/ent/job"
	"github.com/codeready-toolchain/studyengine/test/util"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedJob(t *testing.T, ctx context.Context, client *ent.Client, queue string, status job.Status, completedAt time.Time) string {
	t.Helper()
	id := uuid.NewString()
	_, err := client.Job.Create().
		SetID(id).
		SetQueue(queue).
		SetPayload(map[string]interface{}{}).
		SetStatus(status).
		SetAttemptsRemaining(0).
		SetMaxAttempts(3).
		SetCompletedAt(completedAt).
		Save(ctx)
	require.NoError(t, err)
	return id
}

func TestSweep_DeletesCompletedJobsPastRetention(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	ctx := context.Background()
	sweeper, err := New(client, "0 0 * * *")
	require.NoError(t, err)

	old := seedJob(t, ctx, client, "synthetic-execution", job.StatusCOMPLETED, time.Now().Add(-25*time.Hour))
	fresh := seedJob(t, ctx, client, "synthetic-execution", job.StatusCOMPLETED, time.Now().Add(-1*time.Hour))

	deleted, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = client.Job.Get(ctx, old)
	assert.True(t, ent.IsNotFound(err))
	_, err = client.Job.Get(ctx, fresh)
	assert.NoError(t, err)
}

func TestSweep_ExportQueueUsesLongerRetention(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	ctx := context.Background()
	sweeper, err := New(client, "0 0 * * *")
	require.NoError(t, err)

	withinExportWindow := seedJob(t, ctx, client, "data-export", job.StatusCOMPLETED, time.Now().Add(-48*time.Hour))

	deleted, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	_, err = client.Job.Get(ctx, withinExportWindow)
	assert.NoError(t, err)
}

func TestSweep_FailedJobsUseTheirOwnRetention(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	ctx := context.Background()
	sweeper, err := New(client, "0 0 * * *")
	require.NoError(t, err)

	oldFailed := seedJob(t, ctx, client, "synthetic-execution", job.StatusFAILED, time.Now().Add(-8*24*time.Hour))
	recentFailed := seedJob(t, ctx, client, "synthetic-execution", job.StatusFAILED, time.Now().Add(-1*time.Hour))

	deleted, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = client.Job.Get(ctx, oldFailed)
	assert.True(t, ent.IsNotFound(err))
	_, err = client.Job.Get(ctx, recentFailed)
	assert.NoError(t, err)
}

func TestNew_InvalidScheduleErrors(t *testing.T) {
	client, _ := util.SetupTestDatabase(t)
	_, err := New(client, "not a cron expression")
	assert.Error(t, err)
}
