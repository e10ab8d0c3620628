package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RawReportLine is one staged line of a marketplace realization report,
// deposited by an upstream loader and consumed by the event builder. The
// payload is stored verbatim so rebuilds always see what was fetched.
type RawReportLine struct {
	ID       uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	TenantID uuid.UUID `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex:ux_raw_lines,priority:1"`
	ReportID string    `gorm:"column:report_id;not null;uniqueIndex:ux_raw_lines,priority:2"`
	RowPK    int64     `gorm:"column:row_pk;not null;uniqueIndex:ux_raw_lines,priority:3"`
	LineID   string    `gorm:"column:line_id"`

	Payload     json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	PayloadHash string          `gorm:"column:payload_hash;not null"`

	PeriodFrom *time.Time `gorm:"column:period_from"`
	PeriodTo   *time.Time `gorm:"column:period_to"`
	FetchedAt  time.Time  `gorm:"column:fetched_at;not null;index"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (RawReportLine) TableName() string { return "raw_report_lines" }
