package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polysettle/internal/instrumentation"
)

type recordingArchiver struct {
	cutoffs []time.Time
	n       int64
	err     error
}

func (r *recordingArchiver) ArchiveMarkets(_ context.Context, before time.Time) (int64, error) {
	r.cutoffs = append(r.cutoffs, before)
	return r.n, r.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunUsesRetentionCutoff(t *testing.T) {
	rec := &recordingArchiver{n: 3}
	a := NewArchiver(rec, 30*24*time.Hour, discardLogger())
	now := time.Date(2026, 3, 31, 3, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	n, err := a.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.Equal(t, []time.Time{time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)}, rec.cutoffs)
}

func TestRunWrapsFailure(t *testing.T) {
	boom := errors.New("bucket gone")
	a := NewArchiver(&recordingArchiver{err: boom}, time.Hour, discardLogger())
	_, err := a.Run(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestRunCronRejectsBadExpression(t *testing.T) {
	a := NewArchiver(&recordingArchiver{}, time.Hour, discardLogger())
	err := a.RunCron(context.Background(), "every tuesday")
	require.Error(t, err)
}

func TestRunCronStopsOnCancel(t *testing.T) {
	a := NewArchiver(&recordingArchiver{}, time.Hour, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := a.RunCron(ctx, "0 3 1 * *")
	require.ErrorIs(t, err, context.Canceled)
}

func TestNextRun(t *testing.T) {
	from := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	next, err := NextRun("0 3 1 * *", from)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC), next)

	next, err = NextRun("*/15 * * * *", from)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 15, 12, 15, 0, 0, time.UTC), next)
}

func TestRunRecordsMetrics(t *testing.T) {
	m := instrumentation.NewMetrics(prometheus.NewRegistry())

	a := NewArchiver(&recordingArchiver{n: 4}, time.Hour, discardLogger()).WithMetrics(m)
	_, err := a.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4.0, testutil.ToFloat64(m.MarketsArchived))

	failing := NewArchiver(&recordingArchiver{n: 1, err: errors.New("timeout")}, time.Hour, discardLogger()).WithMetrics(m)
	_, err = failing.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, 5.0, testutil.ToFloat64(m.MarketsArchived))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("archiver", "internal")))
}
