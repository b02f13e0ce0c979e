package realtime

import (
	domain "github.com/NordCoder/Questline/internal/domain/realtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "realtime_connection_status",
		Help: "1 for the current realtime connection status, 0 otherwise.",
	}, []string{"status"})
	reconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_reconnect_attempts_total",
		Help: "Reconnect attempts scheduled after a transport drop.",
	})
	reconnectExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_reconnect_exhausted_total",
		Help: "Times the reconnect budget ran out.",
	})
	eventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_events_dispatched_total",
		Help: "Decoded domain events handed to local handlers.",
	}, []string{"kind"})
	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_events_dropped_total",
		Help: "Inbound payloads that could not be decoded.",
	}, []string{"channel"})
	handlerPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_handler_panics_total",
		Help: "Recovered panics in local event handlers.",
	}, []string{"kind"})
)

var allStatuses = []domain.Status{
	domain.StatusConnecting, domain.StatusOpen, domain.StatusClosed, domain.StatusError,
}

func statusGauge(cur domain.Status) {
	for _, s := range allStatuses {
		v := 0.0
		if s == cur {
			v = 1
		}
		connectionStatus.WithLabelValues(string(s)).Set(v)
	}
}
