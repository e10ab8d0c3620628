package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/psdigitalweb/wb-automation-sub001/internal/events"
	"github.com/psdigitalweb/wb-automation-sub001/internal/executor"
	"github.com/psdigitalweb/wb-automation-sub001/internal/pnl"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/db/models"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/enums"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/logger"
)

type staticLineSource struct {
	lines []events.RawLine
}

func (s *staticLineSource) FetchRange(context.Context, uuid.UUID, time.Time, time.Time) ([]events.RawLine, error) {
	return s.lines, nil
}

type staticSkuResolver struct {
	skus map[int64]*uuid.UUID
}

func (s *staticSkuResolver) ResolveSkus(_ context.Context, _ uuid.UUID, productIDs []int64) (map[int64]*uuid.UUID, error) {
	out := map[int64]*uuid.UUID{}
	for _, id := range productIDs {
		if sku, ok := s.skus[id]; ok {
			out[id] = sku
		}
	}
	return out, nil
}

type jobsFixture struct {
	registry *executor.Registry
	conn     *gorm.DB
	source   *staticLineSource
	resolver *staticSkuResolver
	tenantID uuid.UUID
}

func newJobsFixture(t *testing.T) *jobsFixture {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&models.FinancialEvent{},
		&models.ReconciliationRecord{},
		&models.SkuPnlSnapshot{},
		&models.SnapshotSource{},
	))

	logg := logger.New(logger.Options{ServiceName: "jobs-test"})
	f := &jobsFixture{
		registry: executor.NewRegistry(),
		conn:     conn,
		source:   &staticLineSource{},
		resolver: &staticSkuResolver{skus: map[int64]*uuid.UUID{}},
		tenantID: uuid.New(),
	}

	builder, err := events.NewBuilder(events.BuilderParams{
		Logger: logg,
		Conn:   conn,
		Repo:   events.NewRepository(conn),
		Lines:  f.source,
		Skus:   f.resolver,
	})
	require.NoError(t, err)

	aggregator, err := pnl.NewAggregator(pnl.AggregatorParams{
		Logger: logg,
		Conn:   conn,
		Repo:   pnl.NewRepository(conn),
	})
	require.NoError(t, err)

	require.NoError(t, RegisterBuiltin(f.registry, Params{
		Logger:     logg,
		Builder:    builder,
		Aggregator: aggregator,
	}))
	return f
}

func (f *jobsFixture) run(t *testing.T, jobCode string) executor.Result {
	t.Helper()
	fn, err := f.registry.Resolve(enums.MarketplaceWildberries, jobCode)
	require.NoError(t, err)

	result, err := fn(context.Background(), executor.JobRequest{
		RunID:       uuid.New(),
		TenantID:    f.tenantID,
		Marketplace: enums.MarketplaceWildberries,
		JobCode:     jobCode,
		PeriodFrom:  time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC),
		PeriodTo:    time.Date(2024, 2, 11, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return result
}

func rawLine(reportID string, rowPK int64, body string) events.RawLine {
	sum := sha256.Sum256([]byte(body))
	from := time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 2, 11, 0, 0, 0, 0, time.UTC)
	return events.RawLine{
		ReportID:    reportID,
		RowPK:       rowPK,
		Payload:     json.RawMessage(body),
		PayloadHash: hex.EncodeToString(sum[:]),
		FetchedAt:   to,
		PeriodFrom:  &from,
		PeriodTo:    &to,
	}
}

func TestRegisterBuiltinCoversBothJobs(t *testing.T) {
	f := newJobsFixture(t)
	assert.Equal(t, []string{
		"wildberries/" + CodeBuildFinanceEvents,
		"wildberries/" + CodeBuildSkuPnl,
	}, f.registry.Keys())
}

func TestPipelineEndToEnd(t *testing.T) {
	f := newJobsFixture(t)
	sku := uuid.New()
	f.resolver.skus[555] = &sku
	f.source.lines = []events.RawLine{
		rawLine("rep-1", 1, `{"rrd_id": 1, "nm_id": 555, "sale_dt": "2024-02-06T10:00:00", "quantity": 1, "retail_amount": 1000, "ppvz_sales_commission": -150, "ppvz_for_pay": 850}`),
	}

	buildResult := f.run(t, CodeBuildFinanceEvents)
	require.True(t, buildResult.IsOK())
	assert.Equal(t, 1, buildResult.Stats()["lines_processed"])
	assert.Equal(t, true, buildResult.Stats()["reconciliation_ok"])

	pnlResult := f.run(t, CodeBuildSkuPnl)
	require.True(t, pnlResult.IsOK())
	assert.Equal(t, 1, pnlResult.Stats()["skus"])

	var rows []models.SkuPnlSnapshot
	require.NoError(t, f.conn.Where("tenant_id = ?", f.tenantID).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, sku, rows[0].Sku)
	assert.Equal(t, 1, rows[0].Quantity)
}

func TestBuildFinanceEventsFailsWhenEveryLineIsUnparseable(t *testing.T) {
	f := newJobsFixture(t)
	f.source.lines = []events.RawLine{
		rawLine("rep-1", 1, `{broken`),
		rawLine("rep-1", 2, `not json at all`),
	}

	fn, err := f.registry.Resolve(enums.MarketplaceWildberries, CodeBuildFinanceEvents)
	require.NoError(t, err)

	result, err := fn(context.Background(), executor.JobRequest{
		RunID:       uuid.New(),
		TenantID:    f.tenantID,
		Marketplace: enums.MarketplaceWildberries,
		JobCode:     CodeBuildFinanceEvents,
		PeriodFrom:  time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC),
		PeriodTo:    time.Date(2024, 2, 11, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.False(t, result.IsOK())
	assert.Equal(t, enums.FailReasonPartialData, result.Reason())
	assert.Equal(t, 2, result.Stats()["lines_processed"])
	assert.Equal(t, 2, result.Stats()["lines_failed"])
}

func TestBuildFinanceEventsSucceedsWhenOnlySomeLinesFail(t *testing.T) {
	f := newJobsFixture(t)
	f.source.lines = []events.RawLine{
		rawLine("rep-1", 1, `{broken`),
		rawLine("rep-1", 2, `{"rrd_id": 2, "sale_dt": "2024-02-06T10:00:00", "retail_amount": 500}`),
	}

	result := f.run(t, CodeBuildFinanceEvents)
	require.True(t, result.IsOK())
	assert.Equal(t, 1, result.Stats()["lines_failed"])
}

func TestBuildSkuPnlReplacesPriorSnapshot(t *testing.T) {
	f := newJobsFixture(t)
	sku := uuid.New()
	f.resolver.skus[555] = &sku
	f.source.lines = []events.RawLine{
		rawLine("rep-1", 1, `{"rrd_id": 1, "nm_id": 555, "sale_dt": "2024-02-06T10:00:00", "quantity": 1, "retail_amount": 1000, "ppvz_for_pay": 1000}`),
	}

	f.run(t, CodeBuildFinanceEvents)
	f.run(t, CodeBuildSkuPnl)
	f.run(t, CodeBuildSkuPnl)

	var count int64
	require.NoError(t, f.conn.Model(&models.SkuPnlSnapshot{}).
		Where("tenant_id = ?", f.tenantID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
