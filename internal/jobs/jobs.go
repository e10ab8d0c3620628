// Package jobs holds the built-in job implementations wired into the
// worker's registry. Each job adapts one pipeline service to the
// executor's JobFunc contract and reports run stats through the Result.
package jobs

import (
	"context"
	"fmt"

	"github.com/psdigitalweb/wb-automation-sub001/internal/events"
	"github.com/psdigitalweb/wb-automation-sub001/internal/executor"
	"github.com/psdigitalweb/wb-automation-sub001/internal/pnl"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/enums"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/logger"
)

// Job codes the worker registers out of the box.
const (
	CodeBuildFinanceEvents = "build-finance-events"
	CodeBuildSkuPnl        = "build-sku-pnl"
)

// snapshotVersion is the version built-in pnl runs write. Scheduled
// rebuilds replace it in place; analysts pin other versions by hand.
const snapshotVersion = 1

// Params carry everything the built-in jobs need.
type Params struct {
	Logger     *logger.Logger
	Builder    *events.Builder
	Aggregator *pnl.Aggregator
}

// RegisterBuiltin wires the built-in Wildberries jobs into the registry.
func RegisterBuiltin(registry *executor.Registry, params Params) error {
	if registry == nil {
		return fmt.Errorf("registry is required")
	}
	if params.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if params.Builder == nil {
		return fmt.Errorf("builder is required")
	}
	if params.Aggregator == nil {
		return fmt.Errorf("aggregator is required")
	}

	registry.Register(enums.MarketplaceWildberries, CodeBuildFinanceEvents,
		buildFinanceEvents(params.Logger, params.Builder))
	registry.Register(enums.MarketplaceWildberries, CodeBuildSkuPnl,
		buildSkuPnl(params.Aggregator))
	return nil
}

// buildFinanceEvents runs the financial event builder over the run's
// period. A reconciliation mismatch is a diagnostic, not a failure: the
// events are written either way and the mismatch is recorded and logged,
// so the run still succeeds.
func buildFinanceEvents(logg *logger.Logger, builder *events.Builder) executor.JobFunc {
	return func(ctx context.Context, req executor.JobRequest) (executor.Result, error) {
		report, err := builder.Build(ctx, events.BuildRequest{
			TenantID: req.TenantID,
			From:     req.PeriodFrom,
			To:       req.PeriodTo,
		})
		if err != nil {
			return executor.Fail(enums.FailReasonUpstreamError, report.Stats()), err
		}
		if !report.ReconciliationOK {
			logg.Warn(logg.WithField(ctx, "reports_checked", report.ReportsChecked),
				"reconciliation mismatch recorded")
		}
		if report.LinesFailed > 0 && report.LinesFailed == report.LinesProcessed {
			return executor.Fail(enums.FailReasonPartialData, report.Stats()), nil
		}
		return executor.OK(report.Stats()), nil
	}
}

// buildSkuPnl rebuilds the period's snapshot in place.
func buildSkuPnl(aggregator *pnl.Aggregator) executor.JobFunc {
	return func(ctx context.Context, req executor.JobRequest) (executor.Result, error) {
		summary, err := aggregator.BuildSnapshot(ctx, pnl.SnapshotRequest{
			TenantID: req.TenantID,
			From:     req.PeriodFrom,
			To:       req.PeriodTo,
			Version:  snapshotVersion,
			Replace:  true,
		})
		if err != nil {
			return executor.Fail(enums.FailReasonUpstreamError, summary.Stats()), err
		}
		return executor.OK(summary.Stats()), nil
	}
}
