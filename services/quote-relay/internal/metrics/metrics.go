package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// EventsTotal: события, принятые слушателем, по типу.
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quote_relay",
		Subsystem: "feed",
		Name:      "events_total",
		Help:      "Total number of events received from the dxFeed subscription",
	}, []string{"kind"})

	// ListenerErrors: ошибки, пришедшие в OnError (декодирование, отложенная подписка).
	ListenerErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quote_relay",
		Subsystem: "feed",
		Name:      "listener_errors_total",
		Help:      "Total number of errors delivered to the listener",
	})

	// BufferDrops: события, отброшенные из-за переполнения буфера.
	BufferDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quote_relay",
		Subsystem: "pipeline",
		Name:      "buffer_drops_total",
		Help:      "Number of events dropped because the pipeline buffer was full",
	})

	// BufferDepth: текущее заполнение буфера.
	BufferDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "quote_relay",
		Subsystem: "pipeline",
		Name:      "buffer_depth",
		Help:      "Events waiting in the pipeline buffer",
	})

	// SinkWrites: записи в sink-и по результату.
	SinkWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quote_relay",
		Subsystem: "sink",
		Name:      "writes_total",
		Help:      "Sink writes by sink and result",
	}, []string{"sink", "result"})

	// SinkLatency: задержка от получения события до записи в sink.
	SinkLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "quote_relay",
		Subsystem: "sink",
		Name:      "latency_seconds",
		Help:      "Latency from event receipt to sink write (seconds)",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"sink"})

	// WSClients: подключённые websocket-клиенты.
	WSClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "quote_relay",
		Subsystem: "websocket",
		Name:      "clients",
		Help:      "Connected WebSocket clients",
	})

	// WSDrops: сообщения, не доставленные медленным клиентам.
	WSDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quote_relay",
		Subsystem: "websocket",
		Name:      "drops_total",
		Help:      "Messages dropped for slow WebSocket clients",
	})
)

// Register регистрирует все метрики в заданном реестре.
// Можно вызвать без аргументов, чтобы зарегистрировать в DefaultRegisterer.
func Register(registerers ...prometheus.Registerer) {
	once.Do(func() {
		var reg prometheus.Registerer
		if len(registerers) > 0 && registerers[0] != nil {
			reg = registerers[0]
		} else {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(
			EventsTotal,
			ListenerErrors,
			BufferDrops,
			BufferDepth,
			SinkWrites,
			SinkLatency,
			WSClients,
			WSDrops,
		)
	})
}
