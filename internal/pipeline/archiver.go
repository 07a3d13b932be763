// Package pipeline runs the scheduled copy of settled markets to cold
// storage.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/polysettle/internal/domain"
	"github.com/alanyoungcy/polysettle/internal/instrumentation"
)

// Archiver copies markets settled longer than the retention period to the
// blob archive.
type Archiver struct {
	blobArchiver domain.Archiver
	retention    time.Duration
	now          func() time.Time
	metrics      *instrumentation.Metrics
	logger       *slog.Logger
}

// NewArchiver creates an Archiver. Markets resolved within the last
// retention are left for a later run.
func NewArchiver(blobArchiver domain.Archiver, retention time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver: blobArchiver,
		retention:    retention,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       logger,
	}
}

// WithMetrics records archived markets and failed runs on m.
func (a *Archiver) WithMetrics(m *instrumentation.Metrics) *Archiver {
	a.metrics = m
	return a
}

// Run executes a single archive run and returns the number of markets
// written.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	cutoff := a.now().Add(-a.retention)
	a.logger.InfoContext(ctx, "archiver: run starting",
		slog.Time("cutoff", cutoff),
		slog.Duration("retention", a.retention),
	)

	n, err := a.blobArchiver.ArchiveMarkets(ctx, cutoff)
	if a.metrics != nil {
		a.metrics.RecordArchived(n)
	}
	if err != nil {
		if a.metrics != nil {
			a.metrics.RecordError("archiver", domain.Kind(err))
		}
		return n, fmt.Errorf("pipeline: archive markets before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	a.logger.InfoContext(ctx, "archiver: run complete", slog.Int64("markets_archived", n))
	return n, nil
}

// RunCron runs the archiver on a standard five-field cron schedule
// ("minute hour day-of-month month day-of-week") until ctx is cancelled. A
// failed run is logged and the schedule continues.
func (a *Archiver) RunCron(ctx context.Context, expr string) error {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("pipeline: parse cron expression %q: %w", expr, err)
	}
	a.logger.InfoContext(ctx, "archiver: cron started", slog.String("cron", expr))

	for {
		next := schedule.Next(a.now())
		wait := time.Until(next)
		a.logger.DebugContext(ctx, "archiver: waiting for next trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver: cron stopped")
			return ctx.Err()
		case <-timer.C:
			if _, err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archiver: run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// NextRun reports when expr next fires after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("pipeline: parse cron expression %q: %w", expr, err)
	}
	return schedule.Next(from), nil
}
