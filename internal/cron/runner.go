// Package cronrunner schedules the periodic sync tiers. Each job is
// guarded against overlap: if the previous run of the same job is
// still going when the schedule fires again, the new tick is skipped
// and logged rather than stacked.
package cronrunner

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context

	mu       sync.Mutex
	inFlight map[string]bool
}

func New(baseCtx context.Context, logger *zap.Logger) *Runner {
	return &Runner{
		cron:     cron.New(cron.WithSeconds()),
		logger:   logger,
		baseCtx:  baseCtx,
		inFlight: make(map[string]bool),
	}
}

// Add registers job under a seconds-granularity cron spec.
func (r *Runner) Add(spec, name string, job func(ctx context.Context)) error {
	_, err := r.cron.AddFunc(spec, func() {
		if !r.begin(name) {
			r.logger.Warn("previous run still in progress, skipping tick",
				zap.String("job", name))
			return
		}
		defer r.end(name)

		r.logger.Info("cron job started", zap.String("job", name))
		job(r.baseCtx)
		r.logger.Info("cron job finished", zap.String("job", name))
	})
	return err
}

func (r *Runner) begin(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight[name] {
		return false
	}
	r.inFlight[name] = true
	return true
}

func (r *Runner) end(name string) {
	r.mu.Lock()
	delete(r.inFlight, name)
	r.mu.Unlock()
}

func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts scheduling and returns a context that closes once
// running jobs complete.
func (r *Runner) Stop() context.Context {
	return r.cron.Stop()
}
