package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/psdigitalweb/wb-automation-sub001/pkg/enums"
)

// Schedule is a recurring job definition for one (tenant, marketplace, job)
// triple. NextRunAt is null while the schedule is disabled.
type Schedule struct {
	ID          uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	TenantID    uuid.UUID         `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex:ux_schedules_tenant_mp_job,priority:1"`
	Marketplace enums.Marketplace `gorm:"column:marketplace;not null;uniqueIndex:ux_schedules_tenant_mp_job,priority:2"`
	JobCode     string            `gorm:"column:job_code;not null;uniqueIndex:ux_schedules_tenant_mp_job,priority:3"`
	CronExpr    string            `gorm:"column:cron_expr;not null"`
	Timezone    string            `gorm:"column:timezone;not null;default:UTC"`
	Enabled     bool              `gorm:"column:enabled;not null;default:true"`
	NextRunAt   *time.Time        `gorm:"column:next_run_at;index"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (Schedule) TableName() string { return "schedules" }
