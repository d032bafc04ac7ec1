package hublifetime

import "time"

// Metrics is the narrow observability surface the manager reports
// through. internal/metrics implements it with Prometheus collectors;
// NopMetrics is used when the caller doesn't care.
type Metrics interface {
	IncrementConnections()
	DecrementConnections()
	IncrementGroups()
	DecrementGroups()
	IncrementMessagesPublished()
	IncrementMessagesDelivered()
	IncrementBroadcastDropped()
	RecordAckLatency(time.Duration)
	IncrementAckTimeouts()
	RecordBrokerError(op string)
}

type nopMetrics struct{}

func (nopMetrics) IncrementConnections()          {}
func (nopMetrics) DecrementConnections()          {}
func (nopMetrics) IncrementGroups()               {}
func (nopMetrics) DecrementGroups()               {}
func (nopMetrics) IncrementMessagesPublished()     {}
func (nopMetrics) IncrementMessagesDelivered()     {}
func (nopMetrics) IncrementBroadcastDropped()      {}
func (nopMetrics) RecordAckLatency(time.Duration)  {}
func (nopMetrics) IncrementAckTimeouts()           {}
func (nopMetrics) RecordBrokerError(string)        {}

// NopMetrics is a Metrics implementation that discards everything.
var NopMetrics Metrics = nopMetrics{}
