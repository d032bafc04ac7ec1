// Package metrics implements hublifetime.Metrics with Prometheus
// collectors, registered the way the teacher's go-server-3 registry does.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/feckardt/hublifetime/internal/hublifetime"
)

// Registry is a hublifetime.Metrics implementation backed by Prometheus
// collectors.
type Registry struct {
	connectionsActive prometheus.Gauge
	groupsActive      prometheus.Gauge

	messagesPublished prometheus.Counter
	messagesDelivered prometheus.Counter
	broadcastDropped  prometheus.Counter
	ackTimeouts       prometheus.Counter
	ackLatency        prometheus.Histogram
	brokerErrors      *prometheus.CounterVec
}

// NewRegistry creates and registers every collector.
func NewRegistry() *Registry {
	return &Registry{
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hublifetime_connections_active",
			Help: "Number of connections currently registered with this server.",
		}),
		groupsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hublifetime_groups_active",
			Help: "Number of groups with at least one locally terminated connection.",
		}),
		messagesPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hublifetime_messages_published_total",
			Help: "Total number of frames (invocations, group commands and acks) published to the broker.",
		}),
		messagesDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hublifetime_messages_delivered_total",
			Help: "Total number of invocations written to a connection successfully.",
		}),
		broadcastDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hublifetime_messages_dropped_total",
			Help: "Total number of invocations dropped because writing to a connection failed.",
		}),
		ackTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hublifetime_group_command_ack_timeouts_total",
			Help: "Total number of AddGroup/RemoveGroup calls that timed out waiting for a remote ack.",
		}),
		ackLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "hublifetime_group_command_ack_latency_seconds",
			Help:    "Latency of AddGroup/RemoveGroup round trips that required a remote ack.",
			Buckets: prometheus.DefBuckets,
		}),
		brokerErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hublifetime_broker_errors_total",
			Help: "Total number of broker operation failures, labeled by operation.",
		}, []string{"op"}),
	}
}

func (r *Registry) IncrementConnections() { r.connectionsActive.Inc() }
func (r *Registry) DecrementConnections() { r.connectionsActive.Dec() }
func (r *Registry) IncrementGroups()      { r.groupsActive.Inc() }
func (r *Registry) DecrementGroups()      { r.groupsActive.Dec() }

func (r *Registry) IncrementMessagesPublished() { r.messagesPublished.Inc() }
func (r *Registry) IncrementMessagesDelivered() { r.messagesDelivered.Inc() }
func (r *Registry) IncrementBroadcastDropped()  { r.broadcastDropped.Inc() }

func (r *Registry) RecordAckLatency(d time.Duration) { r.ackLatency.Observe(d.Seconds()) }
func (r *Registry) IncrementAckTimeouts()            { r.ackTimeouts.Inc() }
func (r *Registry) RecordBrokerError(op string)      { r.brokerErrors.WithLabelValues(op).Inc() }

// Handler returns an HTTP handler exposing these collectors.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}

var _ hublifetime.Metrics = (*Registry)(nil)
