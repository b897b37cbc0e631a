package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all Prometheus metrics
type Registry struct {
	itemsCreated           prometheus.Counter
	itemsTerminated        prometheus.Counter
	notificationsPublished prometheus.Counter
	publishErrors          prometheus.Counter
	commandsReceived       prometheus.Counter
	commandErrors          prometheus.Counter
	liveItems              prometheus.Gauge
	publishDuration        prometheus.Histogram
	sourceReadDuration     prometheus.Histogram
}

// NewRegistry creates a new metrics registry
func NewRegistry() *Registry {
	return &Registry{
		itemsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "opcua_server_monitored_items_created_total",
			Help: "Total number of monitored items created",
		}),
		itemsTerminated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "opcua_server_monitored_items_terminated_total",
			Help: "Total number of monitored items terminated",
		}),
		notificationsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "opcua_server_notifications_published_total",
			Help: "Total number of notifications drained and published",
		}),
		publishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "opcua_server_publish_errors_total",
			Help: "Total number of failed publish cycles",
		}),
		commandsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "opcua_server_write_commands_received_total",
			Help: "Total number of write commands received via MQTT",
		}),
		commandErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "opcua_server_write_command_errors_total",
			Help: "Total number of write commands that failed",
		}),
		liveItems: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "opcua_server_live_monitored_items",
			Help: "Monitored items currently bound to a sampler",
		}),
		publishDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "opcua_server_publish_duration_seconds",
			Help:    "Duration of notification publish cycles",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		sourceReadDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "opcua_server_source_read_duration_seconds",
			Help:    "Duration of upstream sampling reads",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}),
	}
}

// IncItemsCreated increments the items created counter
func (r *Registry) IncItemsCreated() {
	r.itemsCreated.Inc()
}

// IncItemsTerminated increments the items terminated counter
func (r *Registry) IncItemsTerminated() {
	r.itemsTerminated.Inc()
}

// AddNotificationsPublished adds to the notifications published counter
func (r *Registry) AddNotificationsPublished(count int64) {
	r.notificationsPublished.Add(float64(count))
}

// IncPublishErrors increments the publish errors counter
func (r *Registry) IncPublishErrors() {
	r.publishErrors.Inc()
}

// IncCommandsReceived increments the write commands received counter
func (r *Registry) IncCommandsReceived() {
	r.commandsReceived.Inc()
}

// IncCommandErrors increments the write command errors counter
func (r *Registry) IncCommandErrors() {
	r.commandErrors.Inc()
}

// SetLiveItems sets the live monitored items gauge
func (r *Registry) SetLiveItems(count float64) {
	r.liveItems.Set(count)
}

// ObservePublishDuration records a publish cycle duration
func (r *Registry) ObservePublishDuration(seconds float64) {
	r.publishDuration.Observe(seconds)
}

// ObserveSourceReadDuration records an upstream read duration
func (r *Registry) ObserveSourceReadDuration(seconds float64) {
	r.sourceReadDuration.Observe(seconds)
}
