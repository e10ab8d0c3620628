package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/psdigitalweb/wb-automation-sub001/pkg/db/models"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/enums"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/logger"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/metrics"
)

const (
	defaultTolerance         = "0.01"
	defaultUnmappedSampleCap = 25
	defaultCurrency          = "RUB"
)

// BuildRequest asks for a rebuild of all events whose parent report
// overlaps the range.
type BuildRequest struct {
	TenantID uuid.UUID
	From     time.Time
	To       time.Time
}

// BuildReport summarizes one builder pass.
type BuildReport struct {
	LinesProcessed   int
	LinesUnchanged   int
	LinesRebuilt     int
	LinesFailed      int
	EventsUpserted   int
	EventsDeleted    int
	ReportsChecked   int
	ReconciliationOK bool
	UnmappedFields   []string
}

// Stats flattens the report into the run-stats shape stored on run rows.
func (r BuildReport) Stats() map[string]any {
	return map[string]any{
		"lines_processed":   r.LinesProcessed,
		"lines_unchanged":   r.LinesUnchanged,
		"lines_rebuilt":     r.LinesRebuilt,
		"lines_failed":      r.LinesFailed,
		"events_upserted":   r.EventsUpserted,
		"events_deleted":    r.EventsDeleted,
		"reports_checked":   r.ReportsChecked,
		"reconciliation_ok": r.ReconciliationOK,
		"unmapped_fields":   r.UnmappedFields,
	}
}

// BuilderParams configure the event builder.
type BuilderParams struct {
	Logger  *logger.Logger
	Conn    *gorm.DB
	Repo    Repository
	Lines   RawLineSource
	Skus    SkuResolver
	Metrics *metrics.PipelineMetrics
	// Tolerance is the reconciliation threshold in currency units.
	Tolerance         string
	UnmappedSampleCap int
	Now               func() time.Time
}

// Builder converts raw report lines into typed, signed financial events.
type Builder struct {
	logg      *logger.Logger
	conn      *gorm.DB
	repo      Repository
	lines     RawLineSource
	skus      SkuResolver
	metrics   *metrics.PipelineMetrics
	tolerance decimal.Decimal
	sampleCap int
	now       func() time.Time
}

// NewBuilder builds an event builder.
func NewBuilder(params BuilderParams) (*Builder, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if params.Conn == nil {
		return nil, fmt.Errorf("db connection is required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if params.Lines == nil {
		return nil, fmt.Errorf("raw line source is required")
	}
	if params.Skus == nil {
		return nil, fmt.Errorf("sku resolver is required")
	}
	toleranceStr := params.Tolerance
	if toleranceStr == "" {
		toleranceStr = defaultTolerance
	}
	tolerance, err := decimal.NewFromString(toleranceStr)
	if err != nil {
		return nil, fmt.Errorf("parsing tolerance: %w", err)
	}
	sampleCap := params.UnmappedSampleCap
	if sampleCap <= 0 {
		sampleCap = defaultUnmappedSampleCap
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Builder{
		logg:      params.Logger,
		conn:      params.Conn,
		repo:      params.Repo,
		lines:     params.Lines,
		skus:      params.Skus,
		metrics:   params.Metrics,
		tolerance: tolerance,
		sampleCap: sampleCap,
		now:       now,
	}, nil
}

// parsedLine pairs a raw line with its decoded payload.
type parsedLine struct {
	raw       RawLine
	body      payload
	productID *int64
}

// Build runs one builder pass over the period. Rebuilding the same raw
// data twice is a no-op; a changed payload hash triggers a full
// delete-and-rebuild of that line's events.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (BuildReport, error) {
	report := BuildReport{ReconciliationOK: true}
	ctx = b.logg.WithTenantID(ctx, req.TenantID.String())

	lines, err := b.lines.FetchRange(ctx, req.TenantID, req.From, req.To)
	if err != nil {
		return report, fmt.Errorf("fetching raw lines: %w", err)
	}
	if len(lines) == 0 {
		return report, nil
	}

	parsed, reportIDs := b.parseLines(ctx, lines, &report)

	existing, err := b.repo.ExistingHashes(ctx, req.TenantID, reportIDs)
	if err != nil {
		return report, fmt.Errorf("loading existing hashes: %w", err)
	}

	skus, err := b.resolveSkus(ctx, req.TenantID, parsed)
	if err != nil {
		return report, fmt.Errorf("resolving skus: %w", err)
	}

	// Raw mapped-field totals per report, accumulated over every line
	// (including unchanged ones) so reconciliation compares full sums.
	rawTotals := map[string]decimal.Decimal{}
	unmappedSeen := map[string]struct{}{}

	for _, line := range parsed {
		events, unmapped := b.buildLineEvents(line, skus)

		reportID := line.raw.ReportID
		for _, event := range events {
			rawTotals[reportID] = rawTotals[reportID].Add(event.Amount)
		}
		for _, field := range unmapped {
			if _, seen := unmappedSeen[field]; seen {
				continue
			}
			unmappedSeen[field] = struct{}{}
			if len(report.UnmappedFields) < b.sampleCap {
				report.UnmappedFields = append(report.UnmappedFields, field)
			}
		}

		identity := lineIdentity{ReportID: reportID, LineKey: line.raw.LineKey()}
		prevHash, exists := existing[identity]
		if exists && prevHash == line.raw.PayloadHash {
			report.LinesUnchanged++
			continue
		}

		if err := b.writeLine(ctx, req.TenantID, line, events, exists, &report); err != nil {
			report.LinesFailed++
			b.logg.Error(b.logg.WithField(ctx, "line_key", identity.LineKey), "line rebuild failed", err)
			continue
		}
		if exists {
			report.LinesRebuilt++
		}
	}

	if err := b.reconcile(ctx, req.TenantID, rawTotals, &report); err != nil {
		return report, err
	}

	b.observe(report)
	return report, nil
}

func (b *Builder) parseLines(ctx context.Context, lines []RawLine, report *BuildReport) ([]parsedLine, []string) {
	parsed := make([]parsedLine, 0, len(lines))
	reportIDSet := map[string]struct{}{}

	for _, raw := range lines {
		report.LinesProcessed++
		body, err := parsePayload(raw.Payload)
		if err != nil {
			report.LinesFailed++
			b.logg.Error(b.logg.WithField(ctx, "line_key", raw.LineKey()), "unparseable payload", err)
			continue
		}
		line := parsedLine{raw: raw, body: body}
		if productID, ok := body.integer("nm_id", "nmId"); ok {
			line.productID = &productID
		}
		parsed = append(parsed, line)
		reportIDSet[raw.ReportID] = struct{}{}
	}

	reportIDs := make([]string, 0, len(reportIDSet))
	for id := range reportIDSet {
		reportIDs = append(reportIDs, id)
	}
	return parsed, reportIDs
}

// resolveSkus batches one resolver call for every product id in the pass.
func (b *Builder) resolveSkus(ctx context.Context, tenantID uuid.UUID, parsed []parsedLine) (map[int64]*uuid.UUID, error) {
	idSet := map[int64]struct{}{}
	for _, line := range parsed {
		if line.productID != nil {
			idSet[*line.productID] = struct{}{}
		}
	}
	if len(idSet) == 0 {
		return map[int64]*uuid.UUID{}, nil
	}
	ids := make([]int64, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	return b.skus.ResolveSkus(ctx, tenantID, ids)
}

// buildLineEvents applies the mapping table to one line. Returns the
// events (signed) and the unmapped money-like field names.
func (b *Builder) buildLineEvents(line parsedLine, skus map[int64]*uuid.UUID) ([]models.FinancialEvent, []string) {
	body := line.body
	raw := line.raw

	eventDate, quality := b.eventDate(body, raw)
	isReturn := isReturnLine(body)

	var sku *uuid.UUID
	if line.productID != nil {
		sku = skus[*line.productID]
	}
	vendorCode := body.str("sa_name", "saName", "supplier_article", "supplierArticle")
	quantity := 0
	if qty, ok := body.integer("quantity"); ok {
		quantity = int(qty)
	}

	var events []models.FinancialEvent
	for _, rule := range mappingRules {
		amount, field, ok := body.amount(rule.Aliases...)
		if !ok {
			continue
		}
		if isReturn && rule.EventType.IsReturnSensitive() {
			amount = amount.Neg()
		}

		scope := rule.DefaultScope
		if sku != nil {
			scope = enums.EventScopeSku
		}

		event := models.FinancialEvent{
			ID:          uuid.New(),
			ReportID:    raw.ReportID,
			LineKey:     raw.LineKey(),
			EventDate:   eventDate,
			DateQuality: quality,
			PeriodFrom:  raw.PeriodFrom,
			PeriodTo:    raw.PeriodTo,
			ProductID:   line.productID,
			VendorCode:  vendorCode,
			Sku:         sku,
			EventType:   rule.EventType,
			Scope:       scope,
			Amount:      amount,
			Currency:    defaultCurrency,
			SourceField: field,
			PayloadHash: raw.PayloadHash,
		}
		if rule.EventType == enums.FinancialEventTypeSale {
			event.Quantity = quantity
		}
		events = append(events, event)
	}

	return events, unmappedMoneyFields(body)
}

// eventDate walks the fallback chain: explicit sale date, alternate date
// fields, report period end.
func (b *Builder) eventDate(body payload, raw RawLine) (time.Time, enums.DateQuality) {
	if date, ok := body.date("sale_dt", "saleDt"); ok {
		return date, enums.DateQualityExact
	}
	if date, ok := body.date("rr_dt", "rrDt", "order_dt", "orderDt"); ok {
		return date, enums.DateQualityDerived
	}
	if raw.PeriodTo != nil {
		return raw.PeriodTo.UTC(), enums.DateQualityFallback
	}
	return b.now().UTC(), enums.DateQualityFallback
}

// writeLine deletes stale events and upserts fresh ones inside one
// transaction, so no reader ever sees a half-rebuilt line.
func (b *Builder) writeLine(ctx context.Context, tenantID uuid.UUID, line parsedLine, events []models.FinancialEvent, existed bool, report *BuildReport) error {
	return b.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := b.repo.WithTx(tx)
		if existed {
			deleted, err := repo.DeleteByLine(ctx, tenantID, line.raw.ReportID, line.raw.LineKey())
			if err != nil {
				return err
			}
			report.EventsDeleted += int(deleted)
		}
		for i := range events {
			events[i].TenantID = tenantID
			if err := repo.Upsert(ctx, &events[i]); err != nil {
				return err
			}
			report.EventsUpserted++
		}
		return nil
	})
}

// reconcile records, per report, the raw mapped-field total against the
// stored event total. A mismatch flags the build but never blocks it.
func (b *Builder) reconcile(ctx context.Context, tenantID uuid.UUID, rawTotals map[string]decimal.Decimal, report *BuildReport) error {
	checkedAt := b.now().UTC()
	for reportID, rawTotal := range rawTotals {
		eventTotal, err := b.repo.SumAmountByReport(ctx, tenantID, reportID)
		if err != nil {
			return fmt.Errorf("summing events for report %s: %w", reportID, err)
		}
		diff := rawTotal.Sub(eventTotal).Abs()
		ok := diff.LessThanOrEqual(b.tolerance)
		if !ok {
			report.ReconciliationOK = false
			if b.metrics != nil {
				b.metrics.IncReconFailed()
			}
			logCtx := b.logg.WithFields(ctx, map[string]any{
				"report_id": reportID,
				"diff":      diff.String(),
			})
			b.logg.Warn(logCtx, "reconciliation mismatch")
		}

		record := &models.ReconciliationRecord{
			ID:             uuid.New(),
			TenantID:       tenantID,
			ReportID:       reportID,
			Scope:          enums.ReconScopeReport,
			RawTotal:       rawTotal,
			EventTotal:     eventTotal,
			Diff:           diff,
			OK:             ok,
			UnmappedFields: pq.StringArray(report.UnmappedFields),
			CheckedAt:      checkedAt,
		}
		if err := b.repo.CreateReconciliation(ctx, record); err != nil {
			return fmt.Errorf("recording reconciliation for report %s: %w", reportID, err)
		}
		report.ReportsChecked++
	}
	return nil
}

func (b *Builder) observe(report BuildReport) {
	if b.metrics == nil {
		return
	}
	b.metrics.AddEventsUpserted(report.EventsUpserted)
	b.metrics.AddLinesRebuilt(report.LinesRebuilt)
}
