package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/psdigitalweb/wb-automation-sub001/pkg/enums"
)

// IngestRun records one execution attempt of a scheduled or manually
// triggered job. A partial unique index (created in migrations, Postgres
// only) enforces at most one running row per (tenant, marketplace, job).
type IngestRun struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	TenantID    uuid.UUID           `gorm:"column:tenant_id;type:uuid;not null;index:ix_ingest_runs_key,priority:1"`
	Marketplace enums.Marketplace   `gorm:"column:marketplace;not null;index:ix_ingest_runs_key,priority:2"`
	JobCode     string              `gorm:"column:job_code;not null;index:ix_ingest_runs_key,priority:3"`
	ScheduleID  *uuid.UUID          `gorm:"column:schedule_id;type:uuid"`
	Trigger     enums.TriggerSource `gorm:"column:trigger;not null"`
	Status      enums.RunStatus     `gorm:"column:status;not null;index:ix_ingest_runs_key,priority:4"`

	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	StartedAt   *time.Time `gorm:"column:started_at"`
	FinishedAt  *time.Time `gorm:"column:finished_at"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at"`
	DurationMS  *int64     `gorm:"column:duration_ms"`

	FailReason   enums.FailReason `gorm:"column:fail_reason"`
	ErrorMessage string           `gorm:"column:error_message"`
	ErrorTrace   string           `gorm:"column:error_trace"`
	Stats        json.RawMessage  `gorm:"column:stats;type:jsonb"`
	TaskHandle   string           `gorm:"column:task_handle"`
}

func (IngestRun) TableName() string { return "ingest_runs" }
