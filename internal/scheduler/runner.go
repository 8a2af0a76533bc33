// Package scheduler runs periodic maintenance jobs on a cron schedule.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/trogers1052/bot-copy-service/internal/metrics"
)

// Runner executes jobs with a shared base context. A job still running
// when its next tick fires is skipped for that tick.
type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context
}

// New creates a Runner. Specs accept an optional seconds field.
func New(baseCtx context.Context, logger *zap.Logger) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cron: cron.New(
			cron.WithParser(cron.NewParser(
				cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor,
			)),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger:  logger,
		baseCtx: baseCtx,
	}
}

// Add schedules job under spec
func (r *Runner) Add(spec string, job func(context.Context)) (cron.EntryID, error) {
	return r.cron.AddFunc(spec, func() { job(r.baseCtx) })
}

// Start begins running scheduled jobs
func (r *Runner) Start() {
	r.logger.Info("cron started", zap.Int("jobs", len(r.cron.Entries())))
	r.cron.Start()
}

// Stop waits for running jobs to finish
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("cron stopped")
}

// SignalPurger deletes old signals
type SignalPurger interface {
	DeleteSignalsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SignalRetention returns a job deleting signals emitted more than retention ago
func SignalRetention(repo SignalPurger, retention time.Duration, logger *zap.Logger, m *metrics.Metrics) func(context.Context) {
	return signalRetention(repo, retention, logger, m, time.Now)
}

func signalRetention(repo SignalPurger, retention time.Duration, logger *zap.Logger, m *metrics.Metrics, now func() time.Time) func(context.Context) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context) {
		cutoff := now().UTC().Add(-retention)
		n, err := repo.DeleteSignalsBefore(ctx, cutoff)
		if err != nil {
			logger.Error("signal retention cleanup failed", zap.Error(err))
			return
		}
		m.SignalsPurged(n)
		if n > 0 {
			logger.Info("purged expired signals", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
		}
	}
}
