package prometheus_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	commonprom "github.com/YaganovValera/dxfeed-go/common/prometheus"
)

func TestMustRegisterMany_ExposedByHandler(t *testing.T) {
	a := prometheus.NewCounter(prometheus.CounterOpts{Name: "common_prom_test_a_total", Help: "a"})
	b := prometheus.NewGauge(prometheus.GaugeOpts{Name: "common_prom_test_b", Help: "b"})
	commonprom.MustRegisterMany(a, b)
	a.Inc()
	b.Set(3)

	rec := httptest.NewRecorder()
	commonprom.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"common_prom_test_a_total 1", "common_prom_test_b 3"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
