package dxfeed

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/event"
	"github.com/YaganovValera/dxfeed-go/pkg/dxfeed/native"
)

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var metrics = struct {
	Connections    prometheus.Gauge
	Subscriptions  prometheus.Gauge
	ConnectErrors  *prometheus.CounterVec
	StatusChanges  *prometheus.CounterVec
	Terminations   prometheus.Counter
	Delivered      *prometheus.CounterVec
	DecodeErrors   *prometheus.CounterVec
	Stale          prometheus.Counter
	ListenerPanics prometheus.Counter
	DeferredOps    *prometheus.CounterVec
	ReleaseErrors  *prometheus.CounterVec
}{
	Connections: prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dxfeed", Name: "connections",
		Help: "Open native connections",
	}),
	Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dxfeed", Name: "subscriptions",
		Help: "Registered subscriptions",
	}),
	ConnectErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dxfeed", Name: "connect_errors_total",
		Help: "Failed Connect calls by cause",
	}, []string{"cause"}),
	StatusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dxfeed", Name: "status_changes_total",
		Help: "Native connection status transitions by new status",
	}, []string{"status"}),
	Terminations: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dxfeed", Name: "terminations_total",
		Help: "Native termination notifications",
	}),
	Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dxfeed", Name: "events_delivered_total",
		Help: "Events decoded and passed to listeners",
	}, []string{"kind"}),
	DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dxfeed", Name: "decode_errors_total",
		Help: "Native records rejected by the decoder",
	}, []string{"reason"}),
	Stale: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dxfeed", Name: "stale_deliveries_total",
		Help: "Deliveries dropped for closed or unknown tokens",
	}),
	ListenerPanics: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dxfeed", Name: "listener_panics_total",
		Help: "Panics recovered from listeners",
	}),
	DeferredOps: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dxfeed", Name: "deferred_ops_total",
		Help: "Operations queued from delivery context to the control loop",
	}, []string{"op"}),
	ReleaseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dxfeed", Name: "release_errors_total",
		Help: "Native release failures (logged, not returned)",
	}, []string{"op"}),
}

var registerOnce sync.Once

// RegisterMetrics регистрирует метрики пакета в reg. Повторные вызовы
// ничего не делают.
func RegisterMetrics(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			metrics.Connections,
			metrics.Subscriptions,
			metrics.ConnectErrors,
			metrics.StatusChanges,
			metrics.Terminations,
			metrics.Delivered,
			metrics.DecodeErrors,
			metrics.Stale,
			metrics.ListenerPanics,
			metrics.DeferredOps,
			metrics.ReleaseErrors,
		)
	})
}

// deliveredByKind хранит счётчики, разрешённые заранее; на потоке доставки
// нет поиска по лейблам.
var deliveredByKind = func() (out [native.EventIDCount]prometheus.Counter) {
	for id := range out {
		out[id] = metrics.Delivered.WithLabelValues(event.Kind(1 << id).String())
	}
	return out
}()

func countDelivered(k event.Kind) {
	if id, ok := native.EventID(int32(k)); ok {
		deliveredByKind[id].Inc()
	}
}
