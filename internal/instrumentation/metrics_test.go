package instrumentation

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordTransition(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordTransition("place_bet", "ok", 3*time.Millisecond)
	m.RecordTransition("place_bet", "ok", time.Millisecond)
	m.RecordTransition("place_bet", "insufficient_funds", time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("place_bet", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("place_bet", "insufficient_funds")))
}

func TestRecordVolumes(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordBet(100_000_000, 158_489_319)
	m.RecordPayout(95_000_000)
	m.RecordFee(5_000_000)

	require.Equal(t, 100_000_000.0, testutil.ToFloat64(m.BetVolume))
	require.Equal(t, 158_489_319.0, testutil.ToFloat64(m.SharesIssued))
	require.Equal(t, 95_000_000.0, testutil.ToFloat64(m.PayoutVolume))
	require.Equal(t, 5_000_000.0, testutil.ToFloat64(m.FeeVolume))
}

func TestRecordHTTP(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordHTTP("POST", "/api/markets", 201, time.Millisecond)
	m.RecordHTTP("POST", "/api/markets", 409, time.Millisecond)
	m.RecordHTTP("POST", "/api/markets", 404, time.Millisecond)

	require.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("POST", "/api/markets", "2xx")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("POST", "/api/markets", "4xx")))
}

func TestSeparateRegistries(t *testing.T) {
	require.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}
