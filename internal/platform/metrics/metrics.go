package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application. Registration is
// against an injected registerer so tests can build isolated instances.
type Metrics struct {
	CommandsReceived  *prometheus.CounterVec
	CommandsRejected  *prometheus.CounterVec
	EventsPersisted   prometheus.Counter
	NotificationsSent prometheus.Counter
	ActiveZones       prometheus.Gauge
	Passivations      prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CommandsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "liquidity_zone_commands_received_total",
			Help: "Total number of zone commands received, by command kind",
		}, []string{"command"}),
		CommandsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "liquidity_zone_commands_rejected_total",
			Help: "Total number of zone commands rejected by validation, by command kind",
		}, []string{"command"}),
		EventsPersisted: factory.NewCounter(prometheus.CounterOpts{
			Name: "liquidity_zone_events_persisted_total",
			Help: "Total number of zone events appended to the journal",
		}),
		NotificationsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "liquidity_zone_notifications_sent_total",
			Help: "Total number of notifications delivered to connected clients",
		}),
		ActiveZones: factory.NewGauge(prometheus.GaugeOpts{
			Name: "liquidity_active_zones",
			Help: "Current number of live zone validators on this node",
		}),
		Passivations: factory.NewCounter(prometheus.CounterOpts{
			Name: "liquidity_zone_passivations_total",
			Help: "Total number of idle zone validators stopped by passivation",
		}),
	}
}
