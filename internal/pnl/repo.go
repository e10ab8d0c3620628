package pnl

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/psdigitalweb/wb-automation-sub001/pkg/db/models"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/enums"
)

// Repository manages persistence for PnL snapshots and their sources.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// ListSkuEvents returns sku-scoped events overlapping the period,
	// falling back to event-date inclusion for events without period
	// bounds.
	ListSkuEvents(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]models.FinancialEvent, error)
	DeleteSnapshot(ctx context.Context, tenantID uuid.UUID, from, to time.Time, version int) (int64, error)
	InsertSnapshots(ctx context.Context, snapshots []models.SkuPnlSnapshot) error
	InsertSources(ctx context.Context, sources []models.SnapshotSource) error
	ListSnapshots(ctx context.Context, tenantID uuid.UUID, from, to time.Time, version int) ([]models.SkuPnlSnapshot, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a snapshot repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ListSkuEvents(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]models.FinancialEvent, error) {
	var events []models.FinancialEvent
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND scope = ? AND sku IS NOT NULL", tenantID, enums.EventScopeSku).
		Where(
			r.db.Where("period_from IS NOT NULL AND period_to IS NOT NULL AND period_from <= ? AND period_to >= ?", to, from).
				Or("(period_from IS NULL OR period_to IS NULL) AND event_date >= ? AND event_date <= ?", from, to),
		).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) DeleteSnapshot(ctx context.Context, tenantID uuid.UUID, from, to time.Time, version int) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("tenant_id = ? AND period_from = ? AND period_to = ? AND version = ?", tenantID, from, to, version).
		Delete(&models.SkuPnlSnapshot{})
	if res.Error != nil {
		return 0, res.Error
	}
	deleted := res.RowsAffected

	res = r.db.WithContext(ctx).
		Where("tenant_id = ? AND period_from = ? AND period_to = ? AND version = ?", tenantID, from, to, version).
		Delete(&models.SnapshotSource{})
	if res.Error != nil {
		return deleted, res.Error
	}
	return deleted + res.RowsAffected, nil
}

func (r *repository) InsertSnapshots(ctx context.Context, snapshots []models.SkuPnlSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&snapshots).Error
}

func (r *repository) InsertSources(ctx context.Context, sources []models.SnapshotSource) error {
	if len(sources) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&sources).Error
}

func (r *repository) ListSnapshots(ctx context.Context, tenantID uuid.UUID, from, to time.Time, version int) ([]models.SkuPnlSnapshot, error) {
	var snapshots []models.SkuPnlSnapshot
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND period_from = ? AND period_to = ? AND version = ?", tenantID, from, to, version).
		Order("sku ASC").
		Find(&snapshots).Error
	if err != nil {
		return nil, err
	}
	return snapshots, nil
}
