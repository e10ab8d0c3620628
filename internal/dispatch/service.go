package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/psdigitalweb/wb-automation-sub001/internal/runs"
	"github.com/psdigitalweb/wb-automation-sub001/internal/schedule"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/db"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/db/models"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/enums"
	pkgerrors "github.com/psdigitalweb/wb-automation-sub001/pkg/errors"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/logger"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/metrics"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/queue"
)

const defaultSweepInterval = 30 * time.Second

// KeyLocker serializes decide-and-create for one (tenant, marketplace, job)
// key across dispatcher instances.
type KeyLocker interface {
	TryLock(ctx context.Context, conn *gorm.DB, key int64) (bool, error)
	Unlock(ctx context.Context, conn *gorm.DB, key int64) error
}

// PGKeyLocker implements KeyLocker on Postgres advisory locks.
type PGKeyLocker struct{}

func (PGKeyLocker) TryLock(ctx context.Context, conn *gorm.DB, key int64) (bool, error) {
	return db.TryAdvisoryLock(ctx, conn, key)
}

func (PGKeyLocker) Unlock(ctx context.Context, conn *gorm.DB, key int64) error {
	return db.AdvisoryUnlock(ctx, conn, key)
}

// ServiceParams configure the dispatcher.
type ServiceParams struct {
	Logger    *logger.Logger
	Conn      *gorm.DB
	Schedules schedule.Service
	Runs      runs.Service
	Evaluator *schedule.Evaluator
	Enqueuer  queue.Enqueuer
	Lock      CycleLock
	KeyLocks  KeyLocker
	Metrics   *metrics.PipelineMetrics
	// StuckTTL resolves the heartbeat TTL for a job code.
	StuckTTL      func(jobCode string) time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
}

// Service periodically sweeps due schedules into queued, enqueued runs.
type Service struct {
	logg      *logger.Logger
	conn      *gorm.DB
	schedules schedule.Service
	runs      runs.Service
	evaluator *schedule.Evaluator
	enqueuer  queue.Enqueuer
	lock      CycleLock
	keyLocks  KeyLocker
	metrics   *metrics.PipelineMetrics
	stuckTTL  func(jobCode string) time.Duration
	interval  time.Duration
	now       func() time.Time
}

// NewService builds a dispatcher.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if params.Conn == nil {
		return nil, fmt.Errorf("db connection is required")
	}
	if params.Schedules == nil {
		return nil, fmt.Errorf("schedule service is required")
	}
	if params.Runs == nil {
		return nil, fmt.Errorf("run service is required")
	}
	if params.Evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if params.Enqueuer == nil {
		return nil, fmt.Errorf("enqueuer is required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("cycle lock is required")
	}
	if params.StuckTTL == nil {
		return nil, fmt.Errorf("stuck ttl resolver is required")
	}
	keyLocks := params.KeyLocks
	if keyLocks == nil {
		keyLocks = PGKeyLocker{}
	}
	interval := params.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		logg:      params.Logger,
		conn:      params.Conn,
		schedules: params.Schedules,
		runs:      params.Runs,
		evaluator: params.Evaluator,
		enqueuer:  params.Enqueuer,
		lock:      params.Lock,
		keyLocks:  keyLocks,
		metrics:   params.Metrics,
		stuckTTL:  params.StuckTTL,
		interval:  interval,
		now:       now,
	}, nil
}

// Run sweeps immediately, then on every tick until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Sweep(ctx); err != nil {
		s.logg.Error(ctx, "dispatch sweep failed", err)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "dispatcher context canceled")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logg.Error(ctx, "dispatch sweep failed", err)
			}
		}
	}
}

// Sweep processes all due schedules once. Per-schedule failures are
// isolated and aggregated so one broken schedule cannot starve the rest.
func (s *Service) Sweep(ctx context.Context) error {
	s.observeSweep()

	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		s.observeSweepError()
		return fmt.Errorf("cycle lock acquire: %w", err)
	}
	if !locked {
		s.logg.Info(ctx, "another dispatcher owns this cycle, skipping")
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(ctx); relErr != nil {
			s.logg.Error(ctx, "failed to release cycle lock", relErr)
		}
	}()

	now := s.now().UTC()
	due, err := s.schedules.DueSchedules(ctx, now)
	if err != nil {
		s.observeSweepError()
		return err
	}
	if len(due) == 0 {
		return nil
	}

	var errs error
	for i := range due {
		sched := due[i]
		if err := s.dispatchOne(ctx, &sched, now); err != nil {
			s.observeSweepError()
			errs = multierr.Append(errs, fmt.Errorf("schedule %s: %w", sched.ID, err))
		}
	}
	return errs
}

func (s *Service) dispatchOne(ctx context.Context, sched *models.Schedule, now time.Time) error {
	ctx = s.logg.WithTenantID(ctx, sched.TenantID.String())
	ctx = s.logg.WithJob(ctx, string(sched.Marketplace), sched.JobCode)

	created, err := s.decideAndCreate(ctx, sched, now)
	if err != nil {
		return err
	}

	if created != nil {
		handle, err := s.enqueuer.Enqueue(ctx, queue.RunEnvelope{
			RunID:       created.ID,
			TenantID:    created.TenantID,
			Marketplace: created.Marketplace,
			JobCode:     created.JobCode,
		})
		if err != nil {
			// The queued row stays behind; the next sweep will see the
			// schedule advanced and operators can re-enqueue by hand.
			s.logg.Error(s.logg.WithRunID(ctx, created.ID.String()), "enqueue failed", err)
		} else if err := s.runs.SetTaskHandle(ctx, created.ID, handle); err != nil {
			s.logg.Error(ctx, "storing task handle failed", err)
		}
		s.observeDispatched(sched.JobCode)
	}

	// Advance from now, not from the stored next_run_at: missed ticks
	// coalesce into a single dispatch instead of a backlog burst.
	next, err := s.evaluator.Next(sched.CronExpr, sched.Timezone, now)
	if err != nil {
		return err
	}
	return s.schedules.MarkDispatched(ctx, sched.ID, next)
}

// decideAndCreate holds the per-key advisory lock while it inspects the
// active run and, when the key is free, inserts the queued row. The lock
// is session scoped, so everything runs on one pinned connection.
func (s *Service) decideAndCreate(ctx context.Context, sched *models.Schedule, now time.Time) (*models.IngestRun, error) {
	var created *models.IngestRun

	key := db.AdvisoryLockKey(sched.TenantID.String(), string(sched.Marketplace), sched.JobCode)
	err := s.conn.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		locked, err := s.keyLocks.TryLock(ctx, conn, key)
		if err != nil {
			return err
		}
		if !locked {
			s.logg.Info(ctx, "advisory lock busy, skipping schedule this cycle")
			return nil
		}
		defer func() {
			if unlockErr := s.keyLocks.Unlock(ctx, conn, key); unlockErr != nil {
				s.logg.Error(ctx, "advisory unlock failed", unlockErr)
			}
		}()

		active, err := s.runs.GetActive(ctx, sched.TenantID, sched.Marketplace, sched.JobCode)
		if err != nil {
			return err
		}
		if active != nil {
			if !s.runs.IsStuck(active, now, s.stuckTTL(sched.JobCode)) {
				s.logg.Info(s.logg.WithRunID(ctx, active.ID.String()), "run already in flight, skipping")
				return nil
			}
			reason := fmt.Sprintf("no heartbeat since %s", heartbeatAge(active, now))
			if err := s.runs.MarkTimeout(ctx, active.ID, reason); err != nil {
				// A racing executor may have just finalized it.
				if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
					return err
				}
			} else {
				s.observeStuckReclaimed(sched.JobCode)
				s.logg.Warn(s.logg.WithRunID(ctx, active.ID.String()), "stuck run reclaimed as timeout")
			}
		}

		run, err := s.runs.CreateQueued(ctx, runs.CreateQueuedInput{
			TenantID:    sched.TenantID,
			Marketplace: sched.Marketplace,
			JobCode:     sched.JobCode,
			ScheduleID:  &sched.ID,
			Trigger:     enums.TriggerSourceSchedule,
		})
		if err != nil {
			return err
		}
		created = run
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func heartbeatAge(run *models.IngestRun, now time.Time) string {
	last := run.HeartbeatAt
	if last == nil {
		last = run.StartedAt
	}
	if last == nil {
		return "start"
	}
	return now.Sub(*last).Round(time.Second).String()
}

func (s *Service) observeSweep() {
	if s.metrics != nil {
		s.metrics.IncSweep()
	}
}

func (s *Service) observeSweepError() {
	if s.metrics != nil {
		s.metrics.IncSweepError()
	}
}

func (s *Service) observeDispatched(job string) {
	if s.metrics != nil {
		s.metrics.IncDispatched(job)
	}
}

func (s *Service) observeStuckReclaimed(job string) {
	if s.metrics != nil {
		s.metrics.IncStuckReclaimed(job)
	}
}
