package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/psdigitalweb/wb-automation-sub001/pkg/enums"
)

// FinancialEvent is one signed monetary fact derived from exactly one raw
// report line and one named money field within it. The unique index over
// (tenant, report, line key, event type, source field) is the idempotence key
// for the builder's upserts.
type FinancialEvent struct {
	ID       uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	TenantID uuid.UUID `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex:ux_fin_events_idem,priority:1"`
	ReportID string    `gorm:"column:report_id;not null;uniqueIndex:ux_fin_events_idem,priority:2"`

	// LineKey is the upstream line id when one exists, otherwise the
	// surrogate "{report_id}:{row_pk}".
	LineKey string `gorm:"column:line_key;not null;uniqueIndex:ux_fin_events_idem,priority:3"`

	EventDate   time.Time         `gorm:"column:event_date;not null;index"`
	DateQuality enums.DateQuality `gorm:"column:date_quality;not null"`
	PeriodFrom  *time.Time        `gorm:"column:period_from"`
	PeriodTo    *time.Time        `gorm:"column:period_to"`

	ProductID  *int64     `gorm:"column:product_id"`
	VendorCode string     `gorm:"column:vendor_code"`
	Sku        *uuid.UUID `gorm:"column:sku;type:uuid;index"`

	EventType enums.FinancialEventType `gorm:"column:event_type;not null;uniqueIndex:ux_fin_events_idem,priority:4"`
	Scope     enums.EventScope         `gorm:"column:scope;not null"`

	Amount decimal.Decimal `gorm:"column:amount;type:numeric(18,4);not null"`
	// Quantity is carried on sale events only, for snapshot unit counters.
	Quantity    int    `gorm:"column:quantity;not null;default:0"`
	Currency    string `gorm:"column:currency;not null;default:RUB"`
	SourceField string `gorm:"column:source_field;not null;uniqueIndex:ux_fin_events_idem,priority:5"`
	PayloadHash string `gorm:"column:payload_hash;not null"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (FinancialEvent) TableName() string { return "financial_events" }
