package prometheus

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/credware/authcore"
)

type fakeSource struct {
	snapshot authcore.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() authcore.MetricsSnapshot { return f.snapshot }
func (f *fakeSource) AuditDropped() uint64                      { return f.dropped }

func TestRenderCounters(t *testing.T) {
	src := &fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess: 5,
				authcore.MetricLoginLocked:  2,
			},
			Histograms: map[authcore.MetricID][]uint64{},
		},
		dropped: 3,
	}

	out := NewExporterFromSource(src).Render()

	for _, want := range []string{
		"# TYPE authcore_login_success_total counter",
		"authcore_login_success_total 5",
		"authcore_login_locked_total 2",
		"authcore_audit_dropped_total 3",
		// Zero counters are still present with a zero value.
		"authcore_login_failure_total 0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestRenderHistogramCumulative(t *testing.T) {
	src := &fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{},
			Histograms: map[authcore.MetricID][]uint64{
				// Raw per-bucket counts; exposition must be cumulative.
				authcore.MetricLoginLatency: {1, 2, 0, 0, 0, 0, 0, 1},
			},
		},
	}

	out := NewExporterFromSource(src).Render()

	for _, want := range []string{
		"# TYPE authcore_login_latency_seconds histogram",
		`authcore_login_latency_seconds_bucket{le="0.005"} 1`,
		`authcore_login_latency_seconds_bucket{le="0.01"} 3`,
		`authcore_login_latency_seconds_bucket{le="+Inf"} 4`,
		"authcore_login_latency_seconds_count 4",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestRenderEmptySnapshot(t *testing.T) {
	src := &fakeSource{snapshot: authcore.MetricsSnapshot{
		Counters:   map[authcore.MetricID]uint64{},
		Histograms: map[authcore.MetricID][]uint64{},
	}}

	if out := NewExporterFromSource(src).Render(); out != "" {
		t.Fatalf("empty snapshot should render nothing, got:\n%s", out)
	}
}

func TestHandler(t *testing.T) {
	src := &fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters:   map[authcore.MetricID]uint64{authcore.MetricLoginSuccess: 1},
			Histograms: map[authcore.MetricID][]uint64{},
		},
	}

	rec := httptest.NewRecorder()
	NewExporterFromSource(src).Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Fatalf("content type = %q", got)
	}
	if !strings.Contains(rec.Body.String(), "authcore_login_success_total 1") {
		t.Fatalf("body missing counter:\n%s", rec.Body.String())
	}
}
