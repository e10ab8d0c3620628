package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/psdigitalweb/wb-automation-sub001/pkg/enums"
)

// ReconciliationRecord is an append-only comparison of two independently
// computed totals over the same raw data. Never mutated after insert.
type ReconciliationRecord struct {
	ID       uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	TenantID uuid.UUID        `gorm:"column:tenant_id;type:uuid;not null;index"`
	ReportID string           `gorm:"column:report_id;not null"`
	Scope    enums.ReconScope `gorm:"column:scope;not null"`

	RawTotal   decimal.Decimal `gorm:"column:raw_total;type:numeric(18,4);not null"`
	EventTotal decimal.Decimal `gorm:"column:event_total;type:numeric(18,4);not null"`
	Diff       decimal.Decimal `gorm:"column:diff;type:numeric(18,4);not null"`
	OK         bool            `gorm:"column:ok;not null"`

	// UnmappedFields samples money-like raw field names no mapping rule
	// matched, bounded by the builder's sample cap.
	UnmappedFields pq.StringArray `gorm:"column:unmapped_fields;type:text[]"`

	CheckedAt time.Time `gorm:"column:checked_at;not null"`
}

func (ReconciliationRecord) TableName() string { return "reconciliation_records" }
