package events

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/psdigitalweb/wb-automation-sub001/pkg/db/models"
)

// Repository manages persistence for financial events and reconciliation
// records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// ExistingHashes returns line-key → payload-hash for every event the
	// tenant already has in the given reports. Any event of a line carries
	// the same hash, so one row per line key is enough.
	ExistingHashes(ctx context.Context, tenantID uuid.UUID, reportIDs []string) (map[lineIdentity]string, error)
	DeleteByLine(ctx context.Context, tenantID uuid.UUID, reportID, lineKey string) (int64, error)
	Upsert(ctx context.Context, event *models.FinancialEvent) error
	SumAmountByReport(ctx context.Context, tenantID uuid.UUID, reportID string) (decimal.Decimal, error)
	CreateReconciliation(ctx context.Context, record *models.ReconciliationRecord) error
}

// lineIdentity addresses one raw line's event group.
type lineIdentity struct {
	ReportID string
	LineKey  string
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an event repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ExistingHashes(ctx context.Context, tenantID uuid.UUID, reportIDs []string) (map[lineIdentity]string, error) {
	if len(reportIDs) == 0 {
		return map[lineIdentity]string{}, nil
	}
	var rows []struct {
		ReportID    string
		LineKey     string
		PayloadHash string
	}
	err := r.db.WithContext(ctx).
		Model(&models.FinancialEvent{}).
		Select("DISTINCT report_id, line_key, payload_hash").
		Where("tenant_id = ? AND report_id IN ?", tenantID, reportIDs).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	hashes := make(map[lineIdentity]string, len(rows))
	for _, row := range rows {
		hashes[lineIdentity{ReportID: row.ReportID, LineKey: row.LineKey}] = row.PayloadHash
	}
	return hashes, nil
}

func (r *repository) DeleteByLine(ctx context.Context, tenantID uuid.UUID, reportID, lineKey string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("tenant_id = ? AND report_id = ? AND line_key = ?", tenantID, reportID, lineKey).
		Delete(&models.FinancialEvent{})
	return res.RowsAffected, res.Error
}

// Upsert inserts or refreshes one event on the idempotence key.
func (r *repository) Upsert(ctx context.Context, event *models.FinancialEvent) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "tenant_id"},
				{Name: "report_id"},
				{Name: "line_key"},
				{Name: "event_type"},
				{Name: "source_field"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"event_date", "date_quality", "period_from", "period_to",
				"product_id", "vendor_code", "sku", "scope",
				"amount", "quantity", "currency", "payload_hash", "updated_at",
			}),
		}).
		Create(event).Error
}

func (r *repository) SumAmountByReport(ctx context.Context, tenantID uuid.UUID, reportID string) (decimal.Decimal, error) {
	var raw *string
	err := r.db.WithContext(ctx).
		Model(&models.FinancialEvent{}).
		Select("CAST(SUM(amount) AS TEXT)").
		Where("tenant_id = ? AND report_id = ?", tenantID, reportID).
		Scan(&raw).Error
	if err != nil {
		return decimal.Zero, err
	}
	if raw == nil || *raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(*raw)
}

func (r *repository) CreateReconciliation(ctx context.Context, record *models.ReconciliationRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}
