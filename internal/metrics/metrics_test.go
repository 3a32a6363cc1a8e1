package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg)
	if err != nil {
		t.Fatalf("NewPrometheusRecorder failed: %v", err)
	}
	rec.IncCounter(EventInputRejected, map[string]string{"code": "high"})
	rec.IncCounter(EventInputRejected, map[string]string{"code": "high"})
	rec.IncCounter(EventApprovalOpened, map[string]string{"chain": "base"})
	rec.ObserveLatency("screen", 15*time.Millisecond, nil)

	if got := testutil.ToFloat64(rec.counters.WithLabelValues(EventInputRejected, "", "high")); got != 2 {
		t.Fatalf("expected 2 rejections, got %v", got)
	}
	if got := testutil.ToFloat64(rec.counters.WithLabelValues(EventApprovalOpened, "base", "")); got != 1 {
		t.Fatalf("expected 1 approval, got %v", got)
	}
	if n := testutil.CollectAndCount(rec.histogram); n != 1 {
		t.Fatalf("expected one latency series, got %d", n)
	}
}

func TestPrometheusRecorderRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPrometheusRecorder(reg); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	if _, err := NewPrometheusRecorder(reg); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg)
	if err != nil {
		t.Fatalf("NewPrometheusRecorder failed: %v", err)
	}
	rec.IncCounter(EventScreened, nil)

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(w.Result().Body)
	if !strings.Contains(string(body), `swapguard_events_total{chain="",code="",type="input_screened"} 1`) {
		t.Fatalf("metric missing from output:\n%s", body)
	}
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.IncCounter(EventScreened, nil)
	r.ObserveLatency("screen", time.Second, nil)
}
