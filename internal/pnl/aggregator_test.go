package pnl

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/psdigitalweb/wb-automation-sub001/pkg/db/models"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/enums"
	pkgerrors "github.com/psdigitalweb/wb-automation-sub001/pkg/errors"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/logger"
)

var (
	periodFrom = time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC)
	periodTo   = time.Date(2024, 2, 11, 0, 0, 0, 0, time.UTC)
)

type aggregatorFixture struct {
	aggregator *Aggregator
	conn       *gorm.DB
	tenantID   uuid.UUID
	seq        int64
}

func newAggregatorFixture(t *testing.T) *aggregatorFixture {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&models.FinancialEvent{},
		&models.SkuPnlSnapshot{},
		&models.SnapshotSource{},
	))

	f := &aggregatorFixture{conn: conn, tenantID: uuid.New()}

	aggregator, err := NewAggregator(AggregatorParams{
		Logger: logger.New(logger.Options{ServiceName: "pnl-test"}),
		Conn:   conn,
		Repo:   NewRepository(conn),
		Now:    func() time.Time { return periodTo },
	})
	require.NoError(t, err)
	f.aggregator = aggregator
	return f
}

func (f *aggregatorFixture) seedEvent(t *testing.T, sku *uuid.UUID, reportID string, eventType enums.FinancialEventType, amount string, quantity int) {
	t.Helper()
	f.seq++
	scope := enums.EventScopeSku
	if sku == nil {
		scope = enums.EventScopeMarketplace
	}
	require.NoError(t, f.conn.Create(&models.FinancialEvent{
		ID:          uuid.New(),
		TenantID:    f.tenantID,
		ReportID:    reportID,
		LineKey:     fmt.Sprintf("%s:%d", reportID, f.seq),
		EventDate:   periodFrom.Add(24 * time.Hour),
		DateQuality: enums.DateQualityExact,
		PeriodFrom:  &periodFrom,
		PeriodTo:    &periodTo,
		Sku:         sku,
		EventType:   eventType,
		Scope:       scope,
		Amount:      decimal.RequireFromString(amount),
		Quantity:    quantity,
		Currency:    "RUB",
		SourceField: "test_field",
		PayloadHash: fmt.Sprintf("hash-%d", f.seq),
	}).Error)
}

func (f *aggregatorFixture) build(t *testing.T, version int, replace bool) SnapshotSummary {
	t.Helper()
	summary, err := f.aggregator.BuildSnapshot(context.Background(), SnapshotRequest{
		TenantID: f.tenantID,
		From:     periodFrom,
		To:       periodTo,
		Version:  version,
		Replace:  replace,
	})
	require.NoError(t, err)
	return summary
}

func (f *aggregatorFixture) snapshots(t *testing.T, version int) []models.SkuPnlSnapshot {
	t.Helper()
	rows, err := NewRepository(f.conn).ListSnapshots(
		context.Background(), f.tenantID, periodFrom, periodTo, version)
	require.NoError(t, err)
	return rows
}

func (f *aggregatorFixture) sources(t *testing.T, version int) []models.SnapshotSource {
	t.Helper()
	var rows []models.SnapshotSource
	require.NoError(t, f.conn.
		Where("tenant_id = ? AND period_from = ? AND period_to = ? AND version = ?",
			f.tenantID, periodFrom, periodTo, version).
		Order("report_id ASC").
		Find(&rows).Error)
	return rows
}

func TestBuildSnapshotSumsColumnsPerSku(t *testing.T) {
	f := newAggregatorFixture(t)
	sku := uuid.New()

	f.seedEvent(t, &sku, "rep-1", enums.FinancialEventTypeSale, "1000", 2)
	f.seedEvent(t, &sku, "rep-1", enums.FinancialEventTypeCommissionNoVAT, "-120", 0)
	f.seedEvent(t, &sku, "rep-1", enums.FinancialEventTypeCommissionVAT, "-30", 0)
	f.seedEvent(t, &sku, "rep-1", enums.FinancialEventTypeAcquiringFee, "-15", 0)
	f.seedEvent(t, &sku, "rep-2", enums.FinancialEventTypeDeliveryFee, "-60", 0)
	f.seedEvent(t, &sku, "rep-2", enums.FinancialEventTypeRebillLogistics, "-10", 0)
	f.seedEvent(t, &sku, "rep-2", enums.FinancialEventTypePvzFee, "-25", 0)
	f.seedEvent(t, &sku, "rep-2", enums.FinancialEventTypeSale, "500", 1)

	summary := f.build(t, 1, false)
	assert.Equal(t, 1, summary.Skus)
	assert.Equal(t, 8, summary.EventsSummed)

	rows := f.snapshots(t, 1)
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, sku, row.Sku)
	assert.True(t, row.GMV.Equal(decimal.RequireFromString("1500")), row.GMV.String())
	assert.True(t, row.Commission.Equal(decimal.RequireFromString("-150")), row.Commission.String())
	assert.True(t, row.Acquiring.Equal(decimal.RequireFromString("-15")), row.Acquiring.String())
	assert.True(t, row.Delivery.Equal(decimal.RequireFromString("-60")), row.Delivery.String())
	assert.True(t, row.RebillLogistics.Equal(decimal.RequireFromString("-10")), row.RebillLogistics.String())
	assert.True(t, row.PvzFee.Equal(decimal.RequireFromString("-25")), row.PvzFee.String())
	assert.True(t, row.NetBeforeCogs.Equal(decimal.RequireFromString("1240")), row.NetBeforeCogs.String())
	assert.Equal(t, 8, row.EventCount)
	assert.Equal(t, 3, row.Quantity)
	assert.Equal(t, periodTo, row.BuiltAt.UTC())
}

func TestBuildSnapshotExcludesTransferAndUnscopedEvents(t *testing.T) {
	f := newAggregatorFixture(t)
	sku := uuid.New()

	f.seedEvent(t, &sku, "rep-1", enums.FinancialEventTypeSale, "1000", 1)
	f.seedEvent(t, &sku, "rep-1", enums.FinancialEventTypeTransfer, "850", 0)
	f.seedEvent(t, nil, "rep-1", enums.FinancialEventTypePvzFee, "-40", 0)

	summary := f.build(t, 1, false)
	assert.Equal(t, 1, summary.EventsSummed)

	rows := f.snapshots(t, 1)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].GMV.Equal(decimal.RequireFromString("1000")))
	assert.True(t, rows[0].NetBeforeCogs.Equal(decimal.RequireFromString("1000")))
	assert.Equal(t, 1, rows[0].EventCount)
}

func TestBuildSnapshotRecordsSourcesPerSkuAndReport(t *testing.T) {
	f := newAggregatorFixture(t)
	skuA := uuid.New()
	skuB := uuid.New()

	f.seedEvent(t, &skuA, "rep-1", enums.FinancialEventTypeSale, "1000", 1)
	f.seedEvent(t, &skuA, "rep-1", enums.FinancialEventTypeCommissionNoVAT, "-100", 0)
	f.seedEvent(t, &skuA, "rep-2", enums.FinancialEventTypeDeliveryFee, "-50", 0)
	f.seedEvent(t, &skuB, "rep-2", enums.FinancialEventTypeSale, "700", 1)

	summary := f.build(t, 1, false)
	assert.Equal(t, 2, summary.Skus)
	assert.Equal(t, 3, summary.SourcesListed)

	sources := f.sources(t, 1)
	require.Len(t, sources, 3)

	byKey := map[string]models.SnapshotSource{}
	for _, src := range sources {
		byKey[src.Sku.String()+"/"+src.ReportID] = src
	}

	repA1 := byKey[skuA.String()+"/rep-1"]
	assert.Equal(t, 2, repA1.RowCount)
	assert.True(t, repA1.Subtotal.Equal(decimal.RequireFromString("900")), repA1.Subtotal.String())

	repA2 := byKey[skuA.String()+"/rep-2"]
	assert.Equal(t, 1, repA2.RowCount)
	assert.True(t, repA2.Subtotal.Equal(decimal.RequireFromString("-50")))

	repB2 := byKey[skuB.String()+"/rep-2"]
	assert.Equal(t, 1, repB2.RowCount)
	assert.True(t, repB2.Subtotal.Equal(decimal.RequireFromString("700")))
}

func TestBuildSnapshotReplaceLeavesOnlySecondRun(t *testing.T) {
	f := newAggregatorFixture(t)
	skuA := uuid.New()
	skuB := uuid.New()

	f.seedEvent(t, &skuA, "rep-1", enums.FinancialEventTypeSale, "1000", 1)
	f.seedEvent(t, &skuB, "rep-2", enums.FinancialEventTypeSale, "700", 1)
	first := f.build(t, 1, false)
	assert.Equal(t, 2, first.Skus)

	require.NoError(t, f.conn.
		Where("tenant_id = ? AND sku = ?", f.tenantID, skuB).
		Delete(&models.FinancialEvent{}).Error)

	second := f.build(t, 1, true)
	assert.Equal(t, 1, second.Skus)
	assert.Equal(t, int64(4), second.RowsReplaced)

	rows := f.snapshots(t, 1)
	require.Len(t, rows, 1)
	assert.Equal(t, skuA, rows[0].Sku)

	sources := f.sources(t, 1)
	require.Len(t, sources, 1)
	assert.Equal(t, "rep-1", sources[0].ReportID)
}

func TestBuildSnapshotVersionsAreIndependent(t *testing.T) {
	f := newAggregatorFixture(t)
	sku := uuid.New()

	f.seedEvent(t, &sku, "rep-1", enums.FinancialEventTypeSale, "1000", 1)
	f.build(t, 1, false)

	f.seedEvent(t, &sku, "rep-1", enums.FinancialEventTypeCommissionNoVAT, "-100", 0)
	f.build(t, 2, false)

	v1 := f.snapshots(t, 1)
	require.Len(t, v1, 1)
	assert.True(t, v1[0].NetBeforeCogs.Equal(decimal.RequireFromString("1000")))

	v2 := f.snapshots(t, 2)
	require.Len(t, v2, 1)
	assert.True(t, v2[0].NetBeforeCogs.Equal(decimal.RequireFromString("900")))
}

func TestBuildSnapshotOnlyIncludesOverlappingEvents(t *testing.T) {
	f := newAggregatorFixture(t)
	sku := uuid.New()

	f.seedEvent(t, &sku, "rep-1", enums.FinancialEventTypeSale, "1000", 1)

	before := periodFrom.Add(-14 * 24 * time.Hour)
	beforeEnd := periodFrom.Add(-7 * 24 * time.Hour)
	require.NoError(t, f.conn.Create(&models.FinancialEvent{
		ID:          uuid.New(),
		TenantID:    f.tenantID,
		ReportID:    "rep-old",
		LineKey:     "rep-old:1",
		EventDate:   before,
		DateQuality: enums.DateQualityExact,
		PeriodFrom:  &before,
		PeriodTo:    &beforeEnd,
		Sku:         &sku,
		EventType:   enums.FinancialEventTypeSale,
		Scope:       enums.EventScopeSku,
		Amount:      decimal.RequireFromString("999"),
		Currency:    "RUB",
		SourceField: "test_field",
		PayloadHash: "hash-old",
	}).Error)

	f.build(t, 1, false)

	rows := f.snapshots(t, 1)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].GMV.Equal(decimal.RequireFromString("1000")), rows[0].GMV.String())
}

func TestBuildSnapshotValidatesRequest(t *testing.T) {
	f := newAggregatorFixture(t)

	_, err := f.aggregator.BuildSnapshot(context.Background(), SnapshotRequest{
		From: periodFrom, To: periodTo, Version: 1,
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = f.aggregator.BuildSnapshot(context.Background(), SnapshotRequest{
		TenantID: f.tenantID, From: periodTo, To: periodFrom, Version: 1,
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}
