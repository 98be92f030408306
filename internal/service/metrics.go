package service

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the Prometheus collectors for the gate.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	Scans           *prometheus.CounterVec
	ModeTransitions *prometheus.CounterVec
	SlotTransitions *prometheus.CounterVec
	SessionsSwept   *prometheus.CounterVec
	Notifications   *prometheus.CounterVec
	ActiveSlots     prometheus.Gauge
	OnlineDevices   prometheus.Gauge
	PollDuration    prometheus.Histogram
}

// NewMetrics registers the gate collectors on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	scans := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_scans_total",
		Help: "RFID scans by placement and result",
	}, []string{"placement", "result"})

	modeTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_mode_transitions_total",
		Help: "Daily-mode transitions by from/to",
	}, []string{"from", "to"})

	slotTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_slot_transitions_total",
		Help: "Per-room slot transitions by status",
	}, []string{"to"})

	sessionsSwept := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_sessions_swept_total",
		Help: "Sessions self-healed by the background sweep",
	}, []string{"outcome"})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gate_notifications_total",
		Help: "Absence notification attempts by outcome",
	}, []string{"outcome"})

	activeSlots := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gate_active_slots",
		Help: "Rooms currently holding a live slot",
	})

	onlineDevices := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gate_online_devices",
		Help: "Readers currently connected",
	})

	pollDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gate_poll_duration_seconds",
		Help:    "Duration of teacher-arrival snapshot runs",
		Buckets: prometheus.DefBuckets,
	})

	registry.MustRegister(
		collectors.NewGoCollector(),
		scans, modeTransitions, slotTransitions, sessionsSwept,
		notifications, activeSlots, onlineDevices, pollDuration,
	)

	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Scans:           scans,
		ModeTransitions: modeTransitions,
		SlotTransitions: slotTransitions,
		SessionsSwept:   sessionsSwept,
		Notifications:   notifications,
		ActiveSlots:     activeSlots,
		OnlineDevices:   onlineDevices,
		PollDuration:    pollDuration,
	}
}

// Handler exposes the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return m.handler
}
