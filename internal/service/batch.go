package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fleetsync/internal/worker"
)

// BatchReport aggregates a multi-window backfill.
type BatchReport struct {
	OrgID    string       `json:"org_id"`
	Provider string       `json:"provider"`
	Resource string       `json:"resource"`
	Status   string       `json:"status"`
	Windows  int          `json:"windows"`
	Failed   int          `json:"failed"`
	Saved    int          `json:"saved"`
	Skipped  int          `json:"skipped"`
	Reports  []SyncReport `json:"reports"`
}

// BatchOrchestrator backfills long ranges by cutting them into
// partner-sized windows and syncing each in order. A failed window is
// recorded and the rest still run, so one bad stretch of history
// cannot block everything after it.
type BatchOrchestrator struct {
	sync   *Orchestrator
	pool   *worker.Pool
	logger *zap.Logger
	window time.Duration
}

func NewBatchOrchestrator(sync *Orchestrator, pool *worker.Pool, logger *zap.Logger, windowDays int) *BatchOrchestrator {
	if windowDays <= 0 {
		windowDays = 7
	}
	return &BatchOrchestrator{
		sync:   sync,
		pool:   pool,
		logger: logger,
		window: time.Duration(windowDays) * 24 * time.Hour,
	}
}

// Run executes the backfill synchronously, window by window.
func (b *BatchOrchestrator) Run(ctx context.Context, orgID, provider, resource string, start, end time.Time) BatchReport {
	report := BatchReport{
		OrgID:    orgID,
		Provider: provider,
		Resource: resource,
		Status:   StatusSuccess,
	}
	windows := splitWindows(start, end, b.window)
	report.Windows = len(windows)

	for i, w := range windows {
		if ctx.Err() != nil {
			report.Failed += len(windows) - i
			report.Status = StatusPartial
			break
		}
		tr := &TimeRange{Start: w.start, End: w.end}
		syncReport, err := b.sync.Sync(ctx, orgID, provider, resource, tr)
		report.Reports = append(report.Reports, syncReport)
		report.Saved += syncReport.Saved
		report.Skipped += syncReport.Skipped
		if err != nil {
			report.Failed++
			b.logger.Warn("batch window failed",
				zap.String("org_id", orgID),
				zap.String("provider", provider),
				zap.String("resource", resource),
				zap.Time("window_start", w.start),
				zap.Time("window_end", w.end),
				zap.Error(err))
		}
	}

	switch {
	case report.Failed == 0:
	case report.Failed < report.Windows:
		report.Status = StatusPartial
	default:
		report.Status = StatusError
	}

	b.logger.Info("batch sync finished",
		zap.String("org_id", orgID),
		zap.String("provider", provider),
		zap.String("resource", resource),
		zap.String("status", report.Status),
		zap.Int("windows", report.Windows),
		zap.Int("failed", report.Failed),
		zap.Int("saved", report.Saved))
	return report
}

// Submit queues the backfill on the worker pool and returns
// immediately. The job carries its own context so an HTTP caller
// disconnecting does not abort the run.
func (b *BatchOrchestrator) Submit(orgID, provider, resource string, start, end time.Time) error {
	name := fmt.Sprintf("batch %s/%s/%s", orgID, provider, resource)
	return b.pool.Submit(name, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
		defer cancel()
		b.Run(ctx, orgID, provider, resource, start, end)
	})
}
