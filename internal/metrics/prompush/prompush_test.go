package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"lemonetl/internal/metrics"
)

func TestBackend_CollectsKnownMetrics(t *testing.T) {
	b, err := NewBackend("lemon_import", "http://localhost:9091")
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}

	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "clean", "status": "ok"})
	b.IncCounter(metrics.RecordsTotal, 5, metrics.Labels{"kind": "inserted"})
	b.IncCounter(metrics.RecordsTotal, 5, metrics.Labels{})
	b.IncCounter("etl_unknown_total", 1, nil)
	b.ObserveHistogram(metrics.StepDurationSeconds, 0.2, metrics.Labels{"step": "clean", "status": "ok"})

	families, err := b.reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	got := map[string][]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				got[mf.GetName()] = append(got[mf.GetName()], m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				got[mf.GetName()] = append(got[mf.GetName()], float64(m.GetHistogram().GetSampleCount()))
			}
		}
	}
	if v := got[metrics.StepTotal]; len(v) != 1 || v[0] != 1 {
		t.Fatalf("step counter=%v", v)
	}
	if v := got[metrics.RecordsTotal]; len(v) != 1 || v[0] != 5 {
		t.Fatalf("records without kind must be dropped, got %v", v)
	}
	if v := got[metrics.StepDurationSeconds]; len(v) != 1 || v[0] != 1 {
		t.Fatalf("duration samples=%v", v)
	}
	if len(got) != 3 {
		t.Fatalf("unknown metrics must be ignored, got %v", got)
	}
}

func TestBackend_FlushPushesToGateway(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		path, body = r.URL.Path, string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b, err := NewBackend("lemon_import", srv.URL)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "commit", "status": "ok"})
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(path, "/metrics/job/lemon_import") {
		t.Fatalf("unexpected push path %q", path)
	}
	if body == "" {
		t.Fatalf("expected a pushed payload")
	}
}

func TestNewBackend_RequiresJobAndURL(t *testing.T) {
	if _, err := NewBackend("", "http://x"); err == nil {
		t.Fatalf("expected error for empty job")
	}
	if _, err := NewBackend("job", " "); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
