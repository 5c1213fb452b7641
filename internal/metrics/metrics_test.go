package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

type fakePoolStats struct{ pending, active int }

func (f fakePoolStats) PendingJobs() int { return f.pending }
func (f fakePoolStats) ActiveJobs() int  { return f.active }

// sampleValue returns the first sample of name whose labels match.
func sampleValue(t *testing.T, g prometheus.Gatherer, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := g.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			if m.GetGauge() != nil {
				return m.GetGauge().GetValue()
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestCollector(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(NewCollector(nil, fakePoolStats{pending: 3, active: 2}))

	if got := sampleValue(t, reg, "stt_worker_pool_pending_jobs", nil); got != 3 {
		t.Errorf("pending = %v, want 3", got)
	}
	if got := sampleValue(t, reg, "stt_worker_pool_active_jobs", nil); got != 2 {
		t.Errorf("active = %v, want 2", got)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		if mf.GetName() == "stt_db_pool_total_conns" {
			t.Error("db pool series exported without a pool")
		}
	}
}

func TestInstrumentHandlerUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(InstrumentHandler)
	r.Get("/api/stt/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("ok"))
	})

	labels := map[string]string{"method": "GET", "path_pattern": "/api/stt/status", "status_code": "202"}
	before := sampleValue(t, prometheus.DefaultGatherer, "stt_http_requests_total", labels)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/stt/status?name=x", nil))
	after := sampleValue(t, prometheus.DefaultGatherer, "stt_http_requests_total", labels)

	if after-before != 1 {
		t.Errorf("request counter delta = %v, want 1", after-before)
	}
}
