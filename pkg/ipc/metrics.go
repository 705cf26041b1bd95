package ipc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricWSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatrelay",
		Subsystem: "gateway",
		Name:      "ws_clients",
		Help:      "Number of connected WebSocket clients.",
	})
	metricEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatrelay",
		Subsystem: "gateway",
		Name:      "events_dropped_total",
		Help:      "Events dropped because a client fell behind.",
	})
	metricConnRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatrelay",
		Subsystem: "gateway",
		Name:      "ws_rejected_total",
		Help:      "WebSocket connections rejected by the connection limit.",
	})
	metricMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatrelay",
		Subsystem: "gateway",
		Name:      "messages_total",
		Help:      "Client messages handed to the relay by transport and status.",
	}, []string{"transport", "status"})
)
