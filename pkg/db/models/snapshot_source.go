package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SnapshotSource records, per (sku, contributing report), row counts and the
// subtotal feeding a snapshot, enabling audit back to raw reports.
type SnapshotSource struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	TenantID   uuid.UUID `gorm:"column:tenant_id;type:uuid;not null;index:ix_snapshot_sources,priority:1"`
	PeriodFrom time.Time `gorm:"column:period_from;not null;index:ix_snapshot_sources,priority:2"`
	PeriodTo   time.Time `gorm:"column:period_to;not null;index:ix_snapshot_sources,priority:3"`
	Version    int       `gorm:"column:version;not null;index:ix_snapshot_sources,priority:4"`
	Sku        uuid.UUID `gorm:"column:sku;type:uuid;not null"`
	ReportID   string    `gorm:"column:report_id;not null"`

	RowCount int             `gorm:"column:row_count;not null"`
	Subtotal decimal.Decimal `gorm:"column:subtotal;type:numeric(18,4);not null"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (SnapshotSource) TableName() string { return "snapshot_sources" }
