package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/psdigitalweb/wb-automation-sub001/internal/runs"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/enums"
	pkgerrors "github.com/psdigitalweb/wb-automation-sub001/pkg/errors"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/logger"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/metrics"
)

const (
	defaultHeartbeatInterval = 15 * time.Second
	defaultSoftTimeLimit     = 30 * time.Minute
	defaultReportingWindow   = 7 * 24 * time.Hour
)

// ServiceParams configure the executor.
type ServiceParams struct {
	Logger            *logger.Logger
	Runs              runs.Service
	Registry          *Registry
	Metrics           *metrics.PipelineMetrics
	HeartbeatInterval time.Duration
	SoftTimeLimit     time.Duration
	// ReportingWindow is the default period handed to jobs whose trigger
	// carried no explicit bounds.
	ReportingWindow time.Duration
	Now             func() time.Time
}

// Service executes one enqueued run end to end and guarantees the run row
// reaches a terminal state no matter which path the execution takes.
type Service struct {
	logg      *logger.Logger
	runs      runs.Service
	registry  *Registry
	metrics   *metrics.PipelineMetrics
	heartbeat time.Duration
	softLimit time.Duration
	window    time.Duration
	now       func() time.Time
}

// NewService builds an executor.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if params.Runs == nil {
		return nil, fmt.Errorf("run service is required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	heartbeat := params.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	softLimit := params.SoftTimeLimit
	if softLimit <= 0 {
		softLimit = defaultSoftTimeLimit
	}
	window := params.ReportingWindow
	if window <= 0 {
		window = defaultReportingWindow
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		logg:      params.Logger,
		runs:      params.Runs,
		registry:  params.Registry,
		metrics:   params.Metrics,
		heartbeat: heartbeat,
		softLimit: softLimit,
		window:    window,
		now:       now,
	}, nil
}

// Execute drives one run through the state machine. A lost single-flight
// race finalizes the run as skipped and returns nil: that is an expected
// outcome, not an error.
func (s *Service) Execute(ctx context.Context, runID uuid.UUID) error {
	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return err
	}

	ctx = s.logg.WithTenantID(ctx, run.TenantID.String())
	ctx = s.logg.WithJob(ctx, string(run.Marketplace), run.JobCode)
	ctx = s.logg.WithRunID(ctx, run.ID.String())

	if err := s.runs.Start(ctx, runID); err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
			s.logg.Info(ctx, "another run is in flight, skipping")
			if skipErr := s.runs.MarkSkipped(ctx, runID, "another run already running"); skipErr != nil {
				s.logg.Error(ctx, "marking run skipped failed", skipErr)
			}
			s.observeOutcome(run.JobCode, enums.RunStatusSkipped)
			return nil
		}
		if pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
			// Redelivered message for an already finalized run.
			s.logg.Warn(ctx, "run is no longer queued, ignoring delivery")
			return nil
		}
		return err
	}

	started := s.now()
	s.logg.Info(ctx, "run started")

	stopHeartbeat := s.startHeartbeat(ctx, runID)
	defer stopHeartbeat()
	defer s.finalizeSafetyNet(ctx, runID)

	status := s.invokeAndFinalize(ctx, run.TenantID, run.Marketplace, run.JobCode, runID)

	duration := s.now().Sub(started)
	s.observeDuration(run.JobCode, duration)
	s.observeOutcome(run.JobCode, status)
	s.logg.Info(s.logg.WithField(ctx, "duration_ms", duration.Milliseconds()), "run finished")
	return nil
}

func (s *Service) invokeAndFinalize(ctx context.Context, tenantID uuid.UUID, marketplace enums.Marketplace, jobCode string, runID uuid.UUID) enums.RunStatus {
	fn, err := s.registry.Resolve(marketplace, jobCode)
	if err != nil {
		s.finishFailed(ctx, runID, enums.FailReasonValidation, err.Error(), "", nil)
		return enums.RunStatusFailed
	}

	now := s.now().UTC()
	req := JobRequest{
		RunID:       runID,
		TenantID:    tenantID,
		Marketplace: marketplace,
		JobCode:     jobCode,
		PeriodFrom:  now.Add(-s.window),
		PeriodTo:    now,
	}

	jobCtx, cancel := context.WithTimeout(ctx, s.softLimit)
	defer cancel()

	result, err := s.invoke(jobCtx, fn, req)
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		s.finishFailed(ctx, runID, enums.FailReasonTimeout,
			fmt.Sprintf("job exceeded soft time limit of %s", s.softLimit), "", result.StatsJSON())
		return enums.RunStatusFailed
	case err != nil:
		s.finishFailed(ctx, runID, enums.FailReasonUpstreamError, err.Error(), traceFor(err), result.StatsJSON())
		return enums.RunStatusFailed
	case !result.IsOK():
		// The job completed and reported failure itself; stats carry the
		// partial progress it recorded before giving up.
		s.finishFailed(ctx, runID, result.Reason(), fmt.Sprintf("job reported %s", result.Reason()), "", result.StatsJSON())
		return enums.RunStatusFailed
	default:
		if err := s.runs.FinishSuccess(ctx, runID, result.StatsJSON()); err != nil {
			s.logg.Error(ctx, "finalizing successful run failed", err)
		}
		return enums.RunStatusSuccess
	}
}

// invoke calls the job with panic recovery; a panic is a failed run with a
// truncated stack, never a crashed worker.
func (s *Service) invoke(ctx context.Context, fn JobFunc, req JobRequest) (result Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return fn(ctx, req)
}

func (s *Service) startHeartbeat(ctx context.Context, runID uuid.UUID) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				// A transient failure must not silence heartbeats for
				// the rest of the run; keep ticking and retry.
				if err := s.runs.Touch(ctx, runID); err != nil {
					s.logg.Warn(ctx, "heartbeat touch failed")
				}
			}
		}
	}()
	return func() { close(done) }
}

// finalizeSafetyNet force-fails a run that somehow escaped every
// finalization path while still marked running.
func (s *Service) finalizeSafetyNet(ctx context.Context, runID uuid.UUID) {
	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		s.logg.Error(ctx, "safety net could not load run", err)
		return
	}
	if run.Status != enums.RunStatusRunning {
		return
	}
	s.logg.Warn(ctx, "run left unfinalized, force-failing")
	s.finishFailed(ctx, runID, enums.FailReasonUpstreamError, "run left unfinalized by executor", "", nil)
}

func (s *Service) finishFailed(ctx context.Context, runID uuid.UUID, reason enums.FailReason, msg, trace string, stats []byte) {
	if err := s.runs.FinishFailed(ctx, runID, reason, msg, trace, stats); err != nil {
		s.logg.Error(ctx, "finalizing failed run failed", err)
	}
}

func traceFor(err error) string {
	var typed *pkgerrors.Error
	if errors.As(err, &typed) {
		return pkgerrors.Dump(err).String()
	}
	return err.Error()
}

func (s *Service) observeDuration(job string, duration time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveRunDuration(job, duration)
	}
}

func (s *Service) observeOutcome(job string, status enums.RunStatus) {
	if s.metrics != nil {
		s.metrics.IncRunOutcome(job, string(status))
	}
}
