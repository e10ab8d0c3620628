package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SkuPnlSnapshot is one immutable row per (tenant, period, sku, version)
// holding summed amounts per cost category. Rebuilding a (tenant, period,
// version) replaces all of its rows atomically.
type SkuPnlSnapshot struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	TenantID   uuid.UUID `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex:ux_sku_pnl,priority:1"`
	PeriodFrom time.Time `gorm:"column:period_from;not null;uniqueIndex:ux_sku_pnl,priority:2"`
	PeriodTo   time.Time `gorm:"column:period_to;not null;uniqueIndex:ux_sku_pnl,priority:3"`
	Sku        uuid.UUID `gorm:"column:sku;type:uuid;not null;uniqueIndex:ux_sku_pnl,priority:4"`
	Version    int       `gorm:"column:version;not null;uniqueIndex:ux_sku_pnl,priority:5"`

	GMV             decimal.Decimal `gorm:"column:gmv;type:numeric(18,4);not null"`
	Commission      decimal.Decimal `gorm:"column:commission;type:numeric(18,4);not null"`
	Acquiring       decimal.Decimal `gorm:"column:acquiring;type:numeric(18,4);not null"`
	Delivery        decimal.Decimal `gorm:"column:delivery;type:numeric(18,4);not null"`
	RebillLogistics decimal.Decimal `gorm:"column:rebill_logistics;type:numeric(18,4);not null"`
	PvzFee          decimal.Decimal `gorm:"column:pvz_fee;type:numeric(18,4);not null"`
	NetBeforeCogs   decimal.Decimal `gorm:"column:net_before_cogs;type:numeric(18,4);not null"`

	EventCount int       `gorm:"column:event_count;not null"`
	Quantity   int       `gorm:"column:quantity;not null"`
	BuiltAt    time.Time `gorm:"column:built_at;not null"`
}

func (SkuPnlSnapshot) TableName() string { return "sku_pnl_snapshots" }
