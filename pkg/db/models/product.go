package models

import (
	"time"

	"github.com/google/uuid"
)

// Product links a marketplace numeric product id to the internal sku.
type Product struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	TenantID   uuid.UUID `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex:ux_products,priority:1"`
	ProductID  int64     `gorm:"column:product_id;not null;uniqueIndex:ux_products,priority:2"`
	Sku        uuid.UUID `gorm:"column:sku;type:uuid;not null"`
	VendorCode string    `gorm:"column:vendor_code"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Product) TableName() string { return "products" }
