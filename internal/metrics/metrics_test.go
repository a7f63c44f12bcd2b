package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/felixgeelhaar/kata/internal/domain"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewWithRegistry(prometheus.NewRegistry())
}

func TestObserveEvaluation(t *testing.T) {
	m := newTestMetrics(t)

	m.ObserveEvaluation("local", domain.VerdictPass, 120*time.Millisecond)
	m.ObserveEvaluation("local", domain.VerdictPass, 80*time.Millisecond)
	m.ObserveEvaluation("docker", domain.VerdictTimeout, 3*time.Second)

	if got := testutil.ToFloat64(m.EvaluationsTotal.WithLabelValues("local", "pass")); got != 2 {
		t.Errorf("local pass = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.EvaluationsTotal.WithLabelValues("docker", "timeout")); got != 1 {
		t.Errorf("docker timeout = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.EvaluationDuration); got != 2 {
		t.Errorf("duration series = %d, want 2", got)
	}
}

func TestReconcilerCounters(t *testing.T) {
	m := newTestMetrics(t)

	m.ObserveTransition(domain.IntentLike)
	m.ObserveTransition(domain.IntentLike)
	m.ObserveTransition(domain.IntentStar)
	m.ObserveConflict()
	m.ObserveConflict()
	m.ObserveConflict()
	m.ObserveExhausted()
	m.ObserveBusy()

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"like transitions", m.TransitionsTotal.WithLabelValues("like"), 2},
		{"star transitions", m.TransitionsTotal.WithLabelValues("star"), 1},
		{"conflicts", m.ConflictsTotal, 3},
		{"exhausted", m.ExhaustedTotal, 1},
		{"busy", m.BusyTotal, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.c); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandler(t *testing.T) {
	m := newTestMetrics(t)
	m.ObserveRequest(http.MethodPost, "/v1/exercises/{id}/submissions", http.StatusOK, 50*time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		"kata_http_requests_total",
		`route="/v1/exercises/{id}/submissions"`,
		"kata_http_request_duration_seconds_bucket",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestNew_RegistersRuntimeCollectors(t *testing.T) {
	m := New()
	families, err := m.registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "go_goroutines" {
			found = true
		}
	}
	if !found {
		t.Error("go runtime collector not registered")
	}
}
