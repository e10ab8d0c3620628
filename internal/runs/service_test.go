package runs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/psdigitalweb/wb-automation-sub001/pkg/db/models"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/enums"
	pkgerrors "github.com/psdigitalweb/wb-automation-sub001/pkg/errors"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.IngestRun{}))

	// SQLite supports the same partial unique index Postgres uses to
	// enforce single-flight.
	err = conn.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_ingest_runs_single_running
		ON ingest_runs (tenant_id, marketplace, job_code)
		WHERE status = 'running'`).Error
	require.NoError(t, err)
	return conn
}

type serviceFixture struct {
	svc  Service
	repo Repository
	now  time.Time
}

func newFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	f.repo = NewRepository(newTestDB(t))
	svc, err := NewService(ServiceParams{
		Logger: logger.New(logger.Options{ServiceName: "runs-test"}),
		Repo:   f.repo,
		Now:    func() time.Time { return f.now },
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *serviceFixture) queuedRun(t *testing.T) *models.IngestRun {
	t.Helper()
	run, err := f.svc.CreateQueued(context.Background(), CreateQueuedInput{
		TenantID:    uuid.New(),
		Marketplace: enums.MarketplaceWildberries,
		JobCode:     "build-finance-events",
		Trigger:     enums.TriggerSourceSchedule,
	})
	require.NoError(t, err)
	return run
}

func TestCreateQueuedValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateQueued(ctx, CreateQueuedInput{})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.CreateQueued(ctx, CreateQueuedInput{
		TenantID:    uuid.New(),
		Marketplace: enums.Marketplace("amazon"),
		JobCode:     "x",
		Trigger:     enums.TriggerSourceAPI,
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestStartTransitionsQueuedToRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.queuedRun(t)

	require.NoError(t, f.svc.Start(ctx, run.ID))

	stored, err := f.svc.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RunStatusRunning, stored.Status)
	require.NotNil(t, stored.StartedAt)
	require.NotNil(t, stored.HeartbeatAt)
}

func TestStartSecondRunConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.queuedRun(t)
	require.NoError(t, f.svc.Start(ctx, first.ID))

	second, err := f.svc.CreateQueued(ctx, CreateQueuedInput{
		TenantID:    first.TenantID,
		Marketplace: first.Marketplace,
		JobCode:     first.JobCode,
		Trigger:     enums.TriggerSourceSchedule,
	})
	require.NoError(t, err)

	err = f.svc.Start(ctx, second.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))
}

func TestStartTwiceIsStateConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.queuedRun(t)

	require.NoError(t, f.svc.Start(ctx, run.ID))

	err := f.svc.Start(ctx, run.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict) ||
		pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
}

func TestStartUnknownRunNotFound(t *testing.T) {
	f := newFixture(t)

	err := f.svc.Start(context.Background(), uuid.New())
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestTouchUpdatesHeartbeatOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.queuedRun(t)
	require.NoError(t, f.svc.Start(ctx, run.ID))

	f.now = f.now.Add(15 * time.Second)
	require.NoError(t, f.svc.Touch(ctx, run.ID))

	stored, err := f.svc.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.HeartbeatAt)
	assert.True(t, stored.HeartbeatAt.Equal(f.now))
	assert.Equal(t, enums.RunStatusRunning, stored.Status)
}

func TestTouchQueuedRunRejected(t *testing.T) {
	f := newFixture(t)
	run := f.queuedRun(t)

	err := f.svc.Touch(context.Background(), run.ID)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
}

func TestFinishSuccessRecordsStatsAndDuration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.queuedRun(t)
	require.NoError(t, f.svc.Start(ctx, run.ID))

	f.now = f.now.Add(90 * time.Second)
	stats := json.RawMessage(`{"lines_processed":120}`)
	require.NoError(t, f.svc.FinishSuccess(ctx, run.ID, stats))

	stored, err := f.svc.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RunStatusSuccess, stored.Status)
	require.NotNil(t, stored.FinishedAt)
	require.NotNil(t, stored.DurationMS)
	assert.Equal(t, int64(90000), *stored.DurationMS)
	assert.JSONEq(t, `{"lines_processed":120}`, string(stored.Stats))
}

func TestFinishSuccessIsSingleShot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.queuedRun(t)
	require.NoError(t, f.svc.Start(ctx, run.ID))
	require.NoError(t, f.svc.FinishSuccess(ctx, run.ID, nil))

	err := f.svc.FinishSuccess(ctx, run.ID, nil)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
}

func TestFinishFailedTruncatesErrorAndTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.queuedRun(t)
	require.NoError(t, f.svc.Start(ctx, run.ID))

	longMsg := make([]byte, maxErrorMessageLen+500)
	longTrace := make([]byte, maxErrorTraceLen+500)
	for i := range longMsg {
		longMsg[i] = 'e'
	}
	for i := range longTrace {
		longTrace[i] = 't'
	}

	err := f.svc.FinishFailed(ctx, run.ID, enums.FailReasonUpstreamError,
		string(longMsg), string(longTrace), json.RawMessage(`{"ok":false}`))
	require.NoError(t, err)

	stored, err := f.svc.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RunStatusFailed, stored.Status)
	assert.Equal(t, enums.FailReasonUpstreamError, stored.FailReason)
	assert.Len(t, stored.ErrorMessage, maxErrorMessageLen)
	assert.Len(t, stored.ErrorTrace, maxErrorTraceLen)
}

func TestMarkSkippedFromQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.queuedRun(t)

	require.NoError(t, f.svc.MarkSkipped(ctx, run.ID, "already running"))

	stored, err := f.svc.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RunStatusSkipped, stored.Status)
	assert.Equal(t, "already running", stored.ErrorMessage)

	// A running run cannot be skipped.
	other := f.queuedRun(t)
	require.NoError(t, f.svc.Start(ctx, other.ID))
	err = f.svc.MarkSkipped(ctx, other.ID, "nope")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
}

func TestMarkTimeoutReclaimsRunningRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.queuedRun(t)
	require.NoError(t, f.svc.Start(ctx, run.ID))

	require.NoError(t, f.svc.MarkTimeout(ctx, run.ID, "no heartbeat for 20m"))

	stored, err := f.svc.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RunStatusTimeout, stored.Status)
	assert.Equal(t, enums.FailReasonTimeout, stored.FailReason)

	// Key is free again: a fresh run can start.
	next, err := f.svc.CreateQueued(ctx, CreateQueuedInput{
		TenantID:    run.TenantID,
		Marketplace: run.Marketplace,
		JobCode:     run.JobCode,
		Trigger:     enums.TriggerSourceSchedule,
	})
	require.NoError(t, err)
	assert.NoError(t, f.svc.Start(ctx, next.ID))
}

func TestGetActiveReturnsRunningRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.queuedRun(t)

	active, err := f.svc.GetActive(ctx, run.TenantID, run.Marketplace, run.JobCode)
	require.NoError(t, err)
	assert.Nil(t, active)

	require.NoError(t, f.svc.Start(ctx, run.ID))

	active, err = f.svc.GetActive(ctx, run.TenantID, run.Marketplace, run.JobCode)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, run.ID, active.ID)
}

func TestIsStuck(t *testing.T) {
	f := newFixture(t)
	now := f.now
	ttl := 15 * time.Minute

	stale := now.Add(-20 * time.Minute)
	fresh := now.Add(-time.Minute)

	running := &models.IngestRun{Status: enums.RunStatusRunning, HeartbeatAt: &stale}
	assert.True(t, f.svc.IsStuck(running, now, ttl))

	running.HeartbeatAt = &fresh
	assert.False(t, f.svc.IsStuck(running, now, ttl))

	// Falls back to started_at when no heartbeat was ever written.
	running.HeartbeatAt = nil
	running.StartedAt = &stale
	assert.True(t, f.svc.IsStuck(running, now, ttl))

	queued := &models.IngestRun{Status: enums.RunStatusQueued, HeartbeatAt: &stale}
	assert.False(t, f.svc.IsStuck(queued, now, ttl))
}

func TestSetTaskHandle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.queuedRun(t)

	require.NoError(t, f.svc.SetTaskHandle(ctx, run.ID, "msg-123"))

	stored, err := f.svc.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "msg-123", stored.TaskHandle)
}
