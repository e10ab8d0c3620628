// Package staging provides the database-backed collaborators the event
// builder consumes: staged raw report lines deposited by an upstream
// loader, and the product catalog that maps marketplace numeric ids to
// internal skus.
package staging

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/psdigitalweb/wb-automation-sub001/internal/events"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/db/models"
)

// LineSource reads staged raw report lines.
type LineSource struct {
	db *gorm.DB
}

// NewLineSource builds a line source over the given connection.
func NewLineSource(db *gorm.DB) *LineSource {
	return &LineSource{db: db}
}

// FetchRange returns the tenant's staged lines whose report period overlaps
// [from, to]. Lines staged without period bounds fall back to fetched_at.
func (s *LineSource) FetchRange(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]events.RawLine, error) {
	var rows []models.RawReportLine
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Where(
			s.db.Where("period_from IS NOT NULL AND period_to IS NOT NULL AND period_from <= ? AND period_to >= ?", to, from).
				Or("period_from IS NULL AND fetched_at >= ? AND fetched_at <= ?", from, to),
		).
		Order("report_id ASC, row_pk ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	lines := make([]events.RawLine, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, events.RawLine{
			ReportID:    row.ReportID,
			LineID:      row.LineID,
			RowPK:       row.RowPK,
			Payload:     row.Payload,
			PayloadHash: row.PayloadHash,
			FetchedAt:   row.FetchedAt,
			PeriodFrom:  row.PeriodFrom,
			PeriodTo:    row.PeriodTo,
		})
	}
	return lines, nil
}

// SkuResolver resolves marketplace product ids against the product catalog.
type SkuResolver struct {
	db *gorm.DB
}

// NewSkuResolver builds a resolver over the given connection.
func NewSkuResolver(db *gorm.DB) *SkuResolver {
	return &SkuResolver{db: db}
}

// ResolveSkus maps the given product ids to internal skus in one query.
// Unknown ids are absent from the result, not an error.
func (r *SkuResolver) ResolveSkus(ctx context.Context, tenantID uuid.UUID, productIDs []int64) (map[int64]*uuid.UUID, error) {
	out := map[int64]*uuid.UUID{}
	if len(productIDs) == 0 {
		return out, nil
	}

	var rows []models.Product
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND product_id IN ?", tenantID, productIDs).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	for i := range rows {
		sku := rows[i].Sku
		out[rows[i].ProductID] = &sku
	}
	return out, nil
}
