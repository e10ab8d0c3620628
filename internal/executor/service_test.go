package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/psdigitalweb/wb-automation-sub001/internal/runs"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/db/models"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/enums"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/logger"
)

type fixture struct {
	svc      *Service
	runs     runs.Service
	registry *Registry
}

func newFixture(t *testing.T, opts ...func(*ServiceParams)) *fixture {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.IngestRun{}))
	require.NoError(t, conn.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_ingest_runs_single_running
		ON ingest_runs (tenant_id, marketplace, job_code)
		WHERE status = 'running'`).Error)

	logg := logger.New(logger.Options{ServiceName: "executor-test"})
	runSvc, err := runs.NewService(runs.ServiceParams{
		Logger: logg,
		Repo:   runs.NewRepository(conn),
	})
	require.NoError(t, err)

	registry := NewRegistry()
	params := ServiceParams{
		Logger:            logg,
		Runs:              runSvc,
		Registry:          registry,
		HeartbeatInterval: 10 * time.Millisecond,
		SoftTimeLimit:     time.Minute,
	}
	for _, opt := range opts {
		opt(&params)
	}

	svc, err := NewService(params)
	require.NoError(t, err)
	return &fixture{svc: svc, runs: runSvc, registry: registry}
}

func (f *fixture) queuedRun(t *testing.T, jobCode string) *models.IngestRun {
	t.Helper()
	run, err := f.runs.CreateQueued(context.Background(), runs.CreateQueuedInput{
		TenantID:    uuid.New(),
		Marketplace: enums.MarketplaceWildberries,
		JobCode:     jobCode,
		Trigger:     enums.TriggerSourceSchedule,
	})
	require.NoError(t, err)
	return run
}

func TestExecuteSuccessfulJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var gotReq JobRequest
	f.registry.Register(enums.MarketplaceWildberries, "ok-job", func(_ context.Context, req JobRequest) (Result, error) {
		gotReq = req
		return OK(map[string]any{"lines_processed": 42}), nil
	})

	run := f.queuedRun(t, "ok-job")
	require.NoError(t, f.svc.Execute(ctx, run.ID))

	stored, err := f.runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RunStatusSuccess, stored.Status)
	assert.JSONEq(t, `{"lines_processed":42}`, string(stored.Stats))

	assert.Equal(t, run.ID, gotReq.RunID)
	assert.Equal(t, run.TenantID, gotReq.TenantID)
	assert.True(t, gotReq.PeriodFrom.Before(gotReq.PeriodTo))
}

func TestExecuteJobReportsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.registry.Register(enums.MarketplaceWildberries, "partial-job", func(context.Context, JobRequest) (Result, error) {
		return Fail(enums.FailReasonPartialData, map[string]any{"lines_processed": 10}), nil
	})

	run := f.queuedRun(t, "partial-job")
	require.NoError(t, f.svc.Execute(ctx, run.ID))

	stored, err := f.runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RunStatusFailed, stored.Status)
	assert.Equal(t, enums.FailReasonPartialData, stored.FailReason)
	// Partial progress survives the failure.
	assert.JSONEq(t, `{"lines_processed":10}`, string(stored.Stats))
}

func TestExecuteJobReturnsError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.registry.Register(enums.MarketplaceWildberries, "err-job", func(context.Context, JobRequest) (Result, error) {
		return Result{}, errors.New("upstream exploded")
	})

	run := f.queuedRun(t, "err-job")
	require.NoError(t, f.svc.Execute(ctx, run.ID))

	stored, err := f.runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RunStatusFailed, stored.Status)
	assert.Equal(t, enums.FailReasonUpstreamError, stored.FailReason)
	assert.Contains(t, stored.ErrorMessage, "upstream exploded")
}

func TestExecuteJobPanics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.registry.Register(enums.MarketplaceWildberries, "panic-job", func(context.Context, JobRequest) (Result, error) {
		panic("nil map write")
	})

	run := f.queuedRun(t, "panic-job")
	require.NoError(t, f.svc.Execute(ctx, run.ID))

	stored, err := f.runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RunStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "job panic")
	assert.Contains(t, stored.ErrorMessage, "nil map write")
}

func TestExecuteSoftTimeLimit(t *testing.T) {
	f := newFixture(t, func(p *ServiceParams) {
		p.SoftTimeLimit = 30 * time.Millisecond
	})
	ctx := context.Background()

	f.registry.Register(enums.MarketplaceWildberries, "slow-job", func(jobCtx context.Context, _ JobRequest) (Result, error) {
		<-jobCtx.Done()
		return Result{}, jobCtx.Err()
	})

	run := f.queuedRun(t, "slow-job")
	require.NoError(t, f.svc.Execute(ctx, run.ID))

	stored, err := f.runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RunStatusFailed, stored.Status)
	assert.Equal(t, enums.FailReasonTimeout, stored.FailReason)
	assert.Contains(t, stored.ErrorMessage, "soft time limit")
}

func TestExecuteUnknownJobCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run := f.queuedRun(t, "no-such-job")
	require.NoError(t, f.svc.Execute(ctx, run.ID))

	stored, err := f.runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RunStatusFailed, stored.Status)
	assert.Equal(t, enums.FailReasonValidation, stored.FailReason)
	assert.Contains(t, stored.ErrorMessage, "no job registered")
}

func TestExecuteConflictSkipsNewRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.registry.Register(enums.MarketplaceWildberries, "busy-job", func(context.Context, JobRequest) (Result, error) {
		return OK(nil), nil
	})

	first := f.queuedRun(t, "busy-job")
	require.NoError(t, f.runs.Start(ctx, first.ID))

	second, err := f.runs.CreateQueued(ctx, runs.CreateQueuedInput{
		TenantID:    first.TenantID,
		Marketplace: first.Marketplace,
		JobCode:     first.JobCode,
		Trigger:     enums.TriggerSourceManual,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Execute(ctx, second.ID))

	stored, err := f.runs.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RunStatusSkipped, stored.Status)

	// The in-flight run is untouched.
	active, err := f.runs.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RunStatusRunning, active.Status)
}

func TestExecuteRedeliveredTerminalRunIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.registry.Register(enums.MarketplaceWildberries, "done-job", func(context.Context, JobRequest) (Result, error) {
		return OK(nil), nil
	})

	run := f.queuedRun(t, "done-job")
	require.NoError(t, f.svc.Execute(ctx, run.ID))
	require.NoError(t, f.svc.Execute(ctx, run.ID))

	stored, err := f.runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RunStatusSuccess, stored.Status)
}

func TestExecuteHeartbeatsWhileJobRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.registry.Register(enums.MarketplaceWildberries, "long-job", func(context.Context, JobRequest) (Result, error) {
		time.Sleep(60 * time.Millisecond)
		return OK(nil), nil
	})

	run := f.queuedRun(t, "long-job")
	require.NoError(t, f.svc.Execute(ctx, run.ID))

	stored, err := f.runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.HeartbeatAt)
	require.NotNil(t, stored.StartedAt)
	// At 10ms cadence the heartbeat must have advanced past started_at.
	assert.True(t, stored.HeartbeatAt.After(*stored.StartedAt))
}

// flakyTouchRuns fails the first heartbeat touch, then delegates.
type flakyTouchRuns struct {
	runs.Service
	calls atomic.Int32
}

func (f *flakyTouchRuns) Touch(ctx context.Context, id uuid.UUID) error {
	if f.calls.Add(1) == 1 {
		return errors.New("connection reset by peer")
	}
	return f.Service.Touch(ctx, id)
}

func TestExecuteHeartbeatSurvivesTransientTouchFailure(t *testing.T) {
	var flaky *flakyTouchRuns
	f := newFixture(t, func(params *ServiceParams) {
		flaky = &flakyTouchRuns{Service: params.Runs}
		params.Runs = flaky
	})
	ctx := context.Background()

	f.registry.Register(enums.MarketplaceWildberries, "long-job", func(context.Context, JobRequest) (Result, error) {
		time.Sleep(60 * time.Millisecond)
		return OK(nil), nil
	})

	run := f.queuedRun(t, "long-job")
	require.NoError(t, f.svc.Execute(ctx, run.ID))

	// The ticker must have kept going past the failed first touch.
	assert.GreaterOrEqual(t, flaky.calls.Load(), int32(2))

	stored, err := f.runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.HeartbeatAt)
	require.NotNil(t, stored.StartedAt)
	assert.True(t, stored.HeartbeatAt.After(*stored.StartedAt))
}

func TestRegistryResolveAndKeys(t *testing.T) {
	registry := NewRegistry()
	registry.Register(enums.MarketplaceWildberries, "a-job", func(context.Context, JobRequest) (Result, error) {
		return OK(nil), nil
	})

	_, err := registry.Resolve(enums.MarketplaceWildberries, "a-job")
	require.NoError(t, err)

	_, err = registry.Resolve(enums.MarketplaceOzon, "a-job")
	require.Error(t, err)

	assert.Equal(t, []string{"wildberries/a-job"}, registry.Keys())

	assert.Panics(t, func() {
		registry.Register(enums.MarketplaceWildberries, "a-job", func(context.Context, JobRequest) (Result, error) {
			return OK(nil), nil
		})
	})
}
