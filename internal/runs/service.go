package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/psdigitalweb/wb-automation-sub001/pkg/db"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/db/models"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/enums"
	pkgerrors "github.com/psdigitalweb/wb-automation-sub001/pkg/errors"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/logger"
)

const (
	maxErrorMessageLen = 2000
	maxErrorTraceLen   = 8000
)

// CreateQueuedInput describes a new run.
type CreateQueuedInput struct {
	TenantID    uuid.UUID
	Marketplace enums.Marketplace
	JobCode     string
	ScheduleID  *uuid.UUID
	Trigger     enums.TriggerSource
}

// Service owns the run ledger state machine. Every transition is a single
// conditional UPDATE guarded by the expected prior status.
type Service interface {
	CreateQueued(ctx context.Context, input CreateQueuedInput) (*models.IngestRun, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.IngestRun, error)
	GetActive(ctx context.Context, tenantID uuid.UUID, marketplace enums.Marketplace, jobCode string) (*models.IngestRun, error)
	SetTaskHandle(ctx context.Context, id uuid.UUID, handle string) error
	Start(ctx context.Context, id uuid.UUID) error
	Touch(ctx context.Context, id uuid.UUID) error
	FinishSuccess(ctx context.Context, id uuid.UUID, stats json.RawMessage) error
	FinishFailed(ctx context.Context, id uuid.UUID, reason enums.FailReason, errMsg, trace string, stats json.RawMessage) error
	MarkSkipped(ctx context.Context, id uuid.UUID, reason string) error
	MarkTimeout(ctx context.Context, id uuid.UUID, reason string) error
	IsStuck(run *models.IngestRun, now time.Time, ttl time.Duration) bool
}

// ServiceParams configure the run service.
type ServiceParams struct {
	Logger *logger.Logger
	Repo   Repository
	Now    func() time.Time
}

type service struct {
	logg *logger.Logger
	repo Repository
	now  func() time.Time
}

// NewService builds a run service.
func NewService(params ServiceParams) (Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{logg: params.Logger, repo: params.Repo, now: now}, nil
}

func (s *service) CreateQueued(ctx context.Context, input CreateQueuedInput) (*models.IngestRun, error) {
	if input.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if !input.Marketplace.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown marketplace %q", input.Marketplace))
	}
	if input.JobCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "job code is required")
	}
	if !input.Trigger.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown trigger source %q", input.Trigger))
	}

	run := &models.IngestRun{
		ID:          uuid.New(),
		TenantID:    input.TenantID,
		Marketplace: input.Marketplace,
		JobCode:     input.JobCode,
		ScheduleID:  input.ScheduleID,
		Trigger:     input.Trigger,
		Status:      enums.RunStatusQueued,
	}
	if err := s.repo.Create(ctx, run); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating run")
	}
	return run, nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*models.IngestRun, error) {
	run, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "run not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading run")
	}
	return run, nil
}

func (s *service) GetActive(ctx context.Context, tenantID uuid.UUID, marketplace enums.Marketplace, jobCode string) (*models.IngestRun, error) {
	run, err := s.repo.GetActive(ctx, tenantID, marketplace, jobCode)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading active run")
	}
	return run, nil
}

func (s *service) SetTaskHandle(ctx context.Context, id uuid.UUID, handle string) error {
	if err := s.repo.SetTaskHandle(ctx, id, handle); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "storing task handle")
	}
	return nil
}

// Start moves queued → running. The partial unique index on running rows
// turns a lost race into a unique violation, surfaced as CONFLICT so
// callers treat it as "already running" rather than a failure.
func (s *service) Start(ctx context.Context, id uuid.UUID) error {
	now := s.now().UTC()
	affected, err := s.repo.TransitionFrom(ctx, id, enums.RunStatusQueued, map[string]any{
		"status":       enums.RunStatusRunning,
		"started_at":   now,
		"heartbeat_at": now,
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "another run is already running for this job")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "starting run")
	}
	if affected == 0 {
		return s.stateConflict(ctx, id, enums.RunStatusQueued)
	}
	return nil
}

func (s *service) Touch(ctx context.Context, id uuid.UUID) error {
	affected, err := s.repo.Touch(ctx, id, s.now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "touching run")
	}
	if affected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "run is not running")
	}
	return nil
}

func (s *service) FinishSuccess(ctx context.Context, id uuid.UUID, stats json.RawMessage) error {
	updates := s.finalUpdates(ctx, id, enums.RunStatusSuccess)
	if stats != nil {
		updates["stats"] = stats
	}
	return s.transition(ctx, id, enums.RunStatusRunning, updates)
}

func (s *service) FinishFailed(ctx context.Context, id uuid.UUID, reason enums.FailReason, errMsg, trace string, stats json.RawMessage) error {
	updates := s.finalUpdates(ctx, id, enums.RunStatusFailed)
	updates["fail_reason"] = reason
	updates["error_message"] = truncate(errMsg, maxErrorMessageLen)
	updates["error_trace"] = truncate(trace, maxErrorTraceLen)
	if stats != nil {
		updates["stats"] = stats
	}
	return s.transition(ctx, id, enums.RunStatusRunning, updates)
}

// MarkSkipped finalizes a queued run that lost the single-flight race.
// This is an expected outcome, never recorded as a failure.
func (s *service) MarkSkipped(ctx context.Context, id uuid.UUID, reason string) error {
	updates := s.finalUpdates(ctx, id, enums.RunStatusSkipped)
	updates["error_message"] = truncate(reason, maxErrorMessageLen)
	return s.transition(ctx, id, enums.RunStatusQueued, updates)
}

// MarkTimeout reclaims a stuck running run.
func (s *service) MarkTimeout(ctx context.Context, id uuid.UUID, reason string) error {
	updates := s.finalUpdates(ctx, id, enums.RunStatusTimeout)
	updates["fail_reason"] = enums.FailReasonTimeout
	updates["error_message"] = truncate(reason, maxErrorMessageLen)
	return s.transition(ctx, id, enums.RunStatusRunning, updates)
}

// IsStuck reports whether a running run missed its heartbeat window.
func (s *service) IsStuck(run *models.IngestRun, now time.Time, ttl time.Duration) bool {
	if run == nil || run.Status != enums.RunStatusRunning {
		return false
	}
	last := run.HeartbeatAt
	if last == nil {
		last = run.StartedAt
	}
	if last == nil {
		return true
	}
	return now.Sub(*last) > ttl
}

func (s *service) finalUpdates(ctx context.Context, id uuid.UUID, status enums.RunStatus) map[string]any {
	now := s.now().UTC()
	updates := map[string]any{
		"status":      status,
		"finished_at": now,
	}
	if run, err := s.repo.GetByID(ctx, id); err == nil && run.StartedAt != nil {
		updates["duration_ms"] = now.Sub(*run.StartedAt).Milliseconds()
	}
	return updates
}

func (s *service) transition(ctx context.Context, id uuid.UUID, expected enums.RunStatus, updates map[string]any) error {
	affected, err := s.repo.TransitionFrom(ctx, id, expected, updates)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating run")
	}
	if affected == 0 {
		return s.stateConflict(ctx, id, expected)
	}
	return nil
}

func (s *service) stateConflict(ctx context.Context, id uuid.UUID, expected enums.RunStatus) error {
	run, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "run not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading run")
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict,
		fmt.Sprintf("run is %s, expected %s", run.Status, expected))
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
