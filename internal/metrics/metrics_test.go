package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveIndicator("MA", "ready", time.Millisecond)
	m.ObserveLoad("init", 10)
	m.ObservePagination("forward")
	m.ObserveAdjust(time.Microsecond, true)
	m.ObserveRejectedUpsert()
	m.ObserveStoreError("sqlite")
	m.ObserveSQLiteQuery(time.Millisecond)
	m.ObserveLiveBar(true)
	m.SetGatewayClients(2)
	m.ObserveGatewayDrop()
	m.ObserveGatewayCommand("scroll")
}

func TestMetrics_LiveBar(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveLiveBar(false)
	m.ObserveLiveBar(false)
	m.ObserveLiveBar(true)
	if got := testutil.ToFloat64(m.LiveBarsTotal); got != 2 {
		t.Errorf("expected 2 live bars, got %v", got)
	}
	if got := testutil.ToFloat64(m.RingBufOverflow); got != 1 {
		t.Errorf("expected 1 overflow, got %v", got)
	}
}

func TestMetrics_Observe(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveIndicator("MA", "ready", time.Millisecond)
	m.ObserveIndicator("MA", "stale", time.Millisecond)
	m.ObserveLoad("init", 42)
	m.ObserveAdjust(time.Microsecond, true)
	m.ObserveAdjust(time.Microsecond, false)

	if got := testutil.ToFloat64(m.IndicatorOutcomes.WithLabelValues("MA", "stale")); got != 1 {
		t.Errorf("expected 1 stale outcome, got %v", got)
	}
	if got := testutil.ToFloat64(m.BarsInWindow); got != 42 {
		t.Errorf("expected 42 bars in window, got %v", got)
	}
	if got := testutil.ToFloat64(m.RangeChanges); got != 1 {
		t.Errorf("expected 1 range change, got %v", got)
	}
}

func TestHealthStatus_ServeHTTP(t *testing.T) {
	h := NewHealthStatus("NIFTY")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 before sqlite is ok, got %d", rec.Code)
	}

	h.SetSQLiteOK(true)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
