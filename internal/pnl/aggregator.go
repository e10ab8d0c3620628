package pnl

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/psdigitalweb/wb-automation-sub001/pkg/db/models"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/enums"
	pkgerrors "github.com/psdigitalweb/wb-automation-sub001/pkg/errors"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/logger"
)

// SnapshotRequest asks for one aggregation pass over a period.
type SnapshotRequest struct {
	TenantID uuid.UUID
	From     time.Time
	To       time.Time
	Version  int
	// Replace deletes existing rows of the same (tenant, period, version)
	// in the same transaction; without it a populated version conflicts.
	Replace bool
}

// SnapshotSummary reports what one pass produced.
type SnapshotSummary struct {
	Skus          int
	EventsSummed  int
	RowsReplaced  int64
	SourcesListed int
}

// Stats flattens the summary into the run-stats shape.
func (s SnapshotSummary) Stats() map[string]any {
	return map[string]any{
		"skus":           s.Skus,
		"events_summed":  s.EventsSummed,
		"rows_replaced":  s.RowsReplaced,
		"sources_listed": s.SourcesListed,
	}
}

// AggregatorParams configure the aggregator.
type AggregatorParams struct {
	Logger *logger.Logger
	Conn   *gorm.DB
	Repo   Repository
	Now    func() time.Time
}

// Aggregator folds sku-scoped financial events into immutable, versioned
// per-period PnL snapshots.
type Aggregator struct {
	logg *logger.Logger
	conn *gorm.DB
	repo Repository
	now  func() time.Time
}

// NewAggregator builds an aggregator.
func NewAggregator(params AggregatorParams) (*Aggregator, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if params.Conn == nil {
		return nil, fmt.Errorf("db connection is required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		logg: params.Logger,
		conn: params.Conn,
		repo: params.Repo,
		now:  now,
	}, nil
}

// skuTotals accumulates one sku's column sums.
type skuTotals struct {
	gmv             decimal.Decimal
	commission      decimal.Decimal
	acquiring       decimal.Decimal
	delivery        decimal.Decimal
	rebillLogistics decimal.Decimal
	pvzFee          decimal.Decimal
	eventCount      int
	quantity        int
}

type sourceKey struct {
	sku      uuid.UUID
	reportID string
}

type sourceTotals struct {
	rowCount int
	subtotal decimal.Decimal
}

// BuildSnapshot aggregates the period into snapshot rows plus a per-report
// source breakdown, written in one transaction.
func (a *Aggregator) BuildSnapshot(ctx context.Context, req SnapshotRequest) (SnapshotSummary, error) {
	summary := SnapshotSummary{}
	if req.TenantID == uuid.Nil {
		return summary, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if !req.From.Before(req.To) {
		return summary, pkgerrors.New(pkgerrors.CodeValidation, "period start must precede period end")
	}
	if req.Version < 0 {
		return summary, pkgerrors.New(pkgerrors.CodeValidation, "version must not be negative")
	}

	ctx = a.logg.WithTenantID(ctx, req.TenantID.String())

	events, err := a.repo.ListSkuEvents(ctx, req.TenantID, req.From, req.To)
	if err != nil {
		return summary, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing sku events")
	}

	bySku := map[uuid.UUID]*skuTotals{}
	bySource := map[sourceKey]*sourceTotals{}

	for i := range events {
		event := events[i]
		if event.Sku == nil {
			continue
		}
		sku := *event.Sku

		totals, ok := bySku[sku]
		if !ok {
			totals = &skuTotals{}
			bySku[sku] = totals
		}
		if !applyEvent(totals, event) {
			continue
		}
		summary.EventsSummed++

		key := sourceKey{sku: sku, reportID: event.ReportID}
		source, ok := bySource[key]
		if !ok {
			source = &sourceTotals{}
			bySource[key] = source
		}
		source.rowCount++
		source.subtotal = source.subtotal.Add(event.Amount)
	}

	builtAt := a.now().UTC()
	snapshots := make([]models.SkuPnlSnapshot, 0, len(bySku))
	for sku, totals := range bySku {
		if totals.eventCount == 0 {
			continue
		}
		net := totals.gmv.
			Add(totals.commission).
			Add(totals.acquiring).
			Add(totals.delivery).
			Add(totals.rebillLogistics).
			Add(totals.pvzFee)
		snapshots = append(snapshots, models.SkuPnlSnapshot{
			ID:              uuid.New(),
			TenantID:        req.TenantID,
			PeriodFrom:      req.From,
			PeriodTo:        req.To,
			Sku:             sku,
			Version:         req.Version,
			GMV:             totals.gmv,
			Commission:      totals.commission,
			Acquiring:       totals.acquiring,
			Delivery:        totals.delivery,
			RebillLogistics: totals.rebillLogistics,
			PvzFee:          totals.pvzFee,
			NetBeforeCogs:   net,
			EventCount:      totals.eventCount,
			Quantity:        totals.quantity,
			BuiltAt:         builtAt,
		})
	}

	sources := make([]models.SnapshotSource, 0, len(bySource))
	for key, totals := range bySource {
		sources = append(sources, models.SnapshotSource{
			ID:         uuid.New(),
			TenantID:   req.TenantID,
			PeriodFrom: req.From,
			PeriodTo:   req.To,
			Version:    req.Version,
			Sku:        key.sku,
			ReportID:   key.reportID,
			RowCount:   totals.rowCount,
			Subtotal:   totals.subtotal,
		})
	}

	err = a.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := a.repo.WithTx(tx)
		if req.Replace {
			deleted, err := repo.DeleteSnapshot(ctx, req.TenantID, req.From, req.To, req.Version)
			if err != nil {
				return err
			}
			summary.RowsReplaced = deleted
		}
		if err := repo.InsertSnapshots(ctx, snapshots); err != nil {
			return err
		}
		return repo.InsertSources(ctx, sources)
	})
	if err != nil {
		return summary, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "writing snapshot")
	}

	summary.Skus = len(snapshots)
	summary.SourcesListed = len(sources)
	a.logg.Info(a.logg.WithFields(ctx, map[string]any{
		"skus":    summary.Skus,
		"version": req.Version,
	}), "snapshot built")
	return summary, nil
}

// applyEvent folds one event into the sku's column sums. Transfer events
// carry the marketplace payout and would double-count against GMV and the
// cost columns, so they do not contribute.
func applyEvent(totals *skuTotals, event models.FinancialEvent) bool {
	switch event.EventType {
	case enums.FinancialEventTypeSale:
		totals.gmv = totals.gmv.Add(event.Amount)
		totals.quantity += event.Quantity
	case enums.FinancialEventTypeCommissionNoVAT, enums.FinancialEventTypeCommissionVAT:
		totals.commission = totals.commission.Add(event.Amount)
	case enums.FinancialEventTypeAcquiringFee:
		totals.acquiring = totals.acquiring.Add(event.Amount)
	case enums.FinancialEventTypeDeliveryFee:
		totals.delivery = totals.delivery.Add(event.Amount)
	case enums.FinancialEventTypeRebillLogistics:
		totals.rebillLogistics = totals.rebillLogistics.Add(event.Amount)
	case enums.FinancialEventTypePvzFee:
		totals.pvzFee = totals.pvzFee.Add(event.Amount)
	default:
		return false
	}
	totals.eventCount++
	return true
}
