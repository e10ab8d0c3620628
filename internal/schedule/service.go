package schedule

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/psdigitalweb/wb-automation-sub001/pkg/db"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/db/models"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/enums"
	pkgerrors "github.com/psdigitalweb/wb-automation-sub001/pkg/errors"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/logger"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// CreateInput describes a new schedule.
type CreateInput struct {
	TenantID    uuid.UUID         `json:"tenantId" validate:"required"`
	Marketplace enums.Marketplace `json:"marketplace" validate:"required"`
	JobCode     string            `json:"jobCode" validate:"required,max=128"`
	CronExpr    string            `json:"cronExpr" validate:"required"`
	Timezone    string            `json:"timezone" validate:"required"`
	Enabled     *bool             `json:"enabled"`
}

// UpdateInput carries a partial update; nil fields are left untouched.
type UpdateInput struct {
	CronExpr *string `json:"cronExpr"`
	Timezone *string `json:"timezone"`
	Enabled  *bool   `json:"enabled"`
}

// Service exposes schedule registry operations.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Schedule, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.Schedule, error)
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*models.Schedule, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Schedule, error)
	DueSchedules(ctx context.Context, now time.Time) ([]models.Schedule, error)
	MarkDispatched(ctx context.Context, id uuid.UUID, nextRunAt time.Time) error
}

// ServiceParams configure the schedule service.
type ServiceParams struct {
	Logger    *logger.Logger
	Repo      Repository
	Evaluator *Evaluator
	Now       func() time.Time
}

type service struct {
	logg      *logger.Logger
	repo      Repository
	evaluator *Evaluator
	now       func() time.Time
}

// NewService builds a schedule service.
func NewService(params ServiceParams) (Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if params.Evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		logg:      params.Logger,
		repo:      params.Repo,
		evaluator: params.Evaluator,
		now:       now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Schedule, error) {
	if err := validate.Struct(input); err != nil {
		return nil, formatValidationErrors(err)
	}
	if !input.Marketplace.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown marketplace %q", input.Marketplace))
	}
	if err := s.evaluator.Validate(input.CronExpr, input.Timezone); err != nil {
		return nil, err
	}

	enabled := true
	if input.Enabled != nil {
		enabled = *input.Enabled
	}

	schedule := &models.Schedule{
		ID:          uuid.New(),
		TenantID:    input.TenantID,
		Marketplace: input.Marketplace,
		JobCode:     input.JobCode,
		CronExpr:    input.CronExpr,
		Timezone:    input.Timezone,
		Enabled:     enabled,
	}
	if enabled {
		next, err := s.evaluator.Next(schedule.CronExpr, schedule.Timezone, s.now())
		if err != nil {
			return nil, err
		}
		schedule.NextRunAt = &next
	}

	if err := s.repo.Create(ctx, schedule); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "schedule already exists for this job")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating schedule")
	}

	logCtx := s.logg.WithJob(s.logg.WithTenantID(ctx, schedule.TenantID.String()), string(schedule.Marketplace), schedule.JobCode)
	s.logg.Info(logCtx, "schedule created")
	return schedule, nil
}

func (s *service) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.Schedule, error) {
	schedule, err := s.getByID(ctx, id)
	if err != nil {
		return nil, err
	}

	cronExpr := schedule.CronExpr
	if input.CronExpr != nil {
		cronExpr = *input.CronExpr
	}
	timezone := schedule.Timezone
	if input.Timezone != nil {
		timezone = *input.Timezone
	}
	if err := s.evaluator.Validate(cronExpr, timezone); err != nil {
		return nil, err
	}

	cronChanged := cronExpr != schedule.CronExpr || timezone != schedule.Timezone
	schedule.CronExpr = cronExpr
	schedule.Timezone = timezone
	if input.Enabled != nil {
		schedule.Enabled = *input.Enabled
	}

	if !schedule.Enabled {
		schedule.NextRunAt = nil
	} else if cronChanged || schedule.NextRunAt == nil {
		next, err := s.evaluator.Next(schedule.CronExpr, schedule.Timezone, s.now())
		if err != nil {
			return nil, err
		}
		schedule.NextRunAt = &next
	}

	if err := s.repo.Update(ctx, schedule); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating schedule")
	}
	return schedule, nil
}

func (s *service) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*models.Schedule, error) {
	return s.Update(ctx, id, UpdateInput{Enabled: &enabled})
}

func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.getByID(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deleting schedule")
	}
	return nil
}

func (s *service) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.Schedule, error) {
	schedules, err := s.repo.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing schedules")
	}
	return schedules, nil
}

func (s *service) DueSchedules(ctx context.Context, now time.Time) ([]models.Schedule, error) {
	schedules, err := s.repo.ListDue(ctx, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing due schedules")
	}
	return schedules, nil
}

// MarkDispatched advances next_run_at whether or not a run was created;
// a transiently busy job must not cause a dispatch storm.
func (s *service) MarkDispatched(ctx context.Context, id uuid.UUID, nextRunAt time.Time) error {
	next := nextRunAt.UTC()
	if err := s.repo.SetNextRunAt(ctx, id, &next); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "advancing schedule")
	}
	return nil
}

func (s *service) getByID(ctx context.Context, id uuid.UUID) (*models.Schedule, error) {
	schedule, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "schedule not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading schedule")
	}
	return schedule, nil
}

func formatValidationErrors(err error) *pkgerrors.Error {
	var errs validator.ValidationErrors
	if errors.As(err, &errs) {
		details := map[string]string{}
		for _, fieldErr := range errs {
			details[fieldErr.Field()] = validationMessage(fieldErr)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	}
	return "is invalid"
}
