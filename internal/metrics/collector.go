// Package metrics exposes the station's Prometheus metrics: online
// sessions, message delivery outcomes, queue depths, and broadcast
// expansion volume.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "dim"
	subsystem = "station"
)

// Label names for station metrics.
const (
	labelTransport = "transport" // mtp, mars, ws
	labelStrategy  = "strategy"  // user, bot, group, broadcast, station
	labelReason    = "reason"
	labelKind      = "kind" // everyone, anywhere
)

// -------------------------------------------------------------------------
// Collector — Prometheus Station Metrics
// -------------------------------------------------------------------------

// Collector holds all station Prometheus metrics.
//
//   - Sessions tracks currently online sessions per transport framing.
//   - Delivered/Stored/Dropped track message outcomes across the
//     Dispatcher's Deliver strategies (§4.6).
//   - PushQueueDepth and RoamingQueueDepth track the two background
//     drain loops' backlog (§4.10, §4.5).
//   - BroadcastExpansions counts recipients enumerated per broadcast
//     (§4.7).
type Collector struct {
	// Sessions tracks the number of currently online sessions, labeled
	// by transport framing (mtp/mars/ws).
	Sessions *prometheus.GaugeVec

	// Delivered counts messages successfully handed to a Deliver
	// strategy's push path, labeled by strategy.
	Delivered *prometheus.CounterVec

	// Stored counts messages written to the offline store because no
	// active session could take them.
	Stored prometheus.Counter

	// Dropped counts messages that were discarded before delivery
	// (cycle detected, signature invalid, no reachable peer), labeled
	// by reason.
	Dropped *prometheus.CounterVec

	// PushQueueDepth reports PushCenter's channel backlog (§4.10).
	PushQueueDepth prometheus.Gauge

	// RoamingQueueDepth reports the Dispatcher's pending roaming job
	// count (§4.5).
	RoamingQueueDepth prometheus.Gauge

	// BroadcastExpansions counts recipients enumerated per broadcast
	// expansion, labeled by kind (everyone/anywhere).
	BroadcastExpansions *prometheus.CounterVec
}

// NewCollector creates a Collector with all station metrics registered
// against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Sessions,
		c.Delivered,
		c.Stored,
		c.Dropped,
		c.PushQueueDepth,
		c.RoamingQueueDepth,
		c.BroadcastExpansions,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	return &Collector{
		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_online",
			Help:      "Number of currently online sessions.",
		}, []string{labelTransport}),

		Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_delivered_total",
			Help:      "Total messages handed to a Deliver strategy's push path.",
		}, []string{labelStrategy}),

		Stored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_stored_total",
			Help:      "Total messages written to the offline store.",
		}),

		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_dropped_total",
			Help:      "Total messages discarded before delivery.",
		}, []string{labelReason}),

		PushQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "push_queue_depth",
			Help:      "Current PushCenter channel backlog.",
		}),

		RoamingQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "roaming_queue_depth",
			Help:      "Current Dispatcher pending roaming job count.",
		}),

		BroadcastExpansions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "broadcast_recipients_total",
			Help:      "Total recipients enumerated by broadcast expansion.",
		}, []string{labelKind}),
	}
}

// -------------------------------------------------------------------------
// Session Lifecycle
// -------------------------------------------------------------------------

// RegisterSession increments the online sessions gauge for transport.
// Called when a connection's session starts, before any handshake binds it
// in the SessionCenter.
func (c *Collector) RegisterSession(transport string) {
	c.Sessions.WithLabelValues(transport).Inc()
}

// UnregisterSession decrements the online sessions gauge for transport.
// Called when a connection's session ends.
func (c *Collector) UnregisterSession(transport string) {
	c.Sessions.WithLabelValues(transport).Dec()
}

// -------------------------------------------------------------------------
// Delivery Outcomes
// -------------------------------------------------------------------------

// IncDelivered increments the delivered counter for strategy.
func (c *Collector) IncDelivered(strategy string) {
	c.Delivered.WithLabelValues(strategy).Inc()
}

// IncStored increments the offline-store counter.
func (c *Collector) IncStored() {
	c.Stored.Inc()
}

// IncDropped increments the dropped counter for reason.
func (c *Collector) IncDropped(reason string) {
	c.Dropped.WithLabelValues(reason).Inc()
}

// -------------------------------------------------------------------------
// Queues & Broadcast
// -------------------------------------------------------------------------

// SetPushQueueDepth records PushCenter's current channel backlog.
func (c *Collector) SetPushQueueDepth(n int) {
	c.PushQueueDepth.Set(float64(n))
}

// SetRoamingQueueDepth records the Dispatcher's current pending job count.
func (c *Collector) SetRoamingQueueDepth(n int) {
	c.RoamingQueueDepth.Set(float64(n))
}

// AddBroadcastExpansion records count recipients enumerated for a
// broadcast of the given kind (everyone/anywhere).
func (c *Collector) AddBroadcastExpansion(kind string, count int) {
	c.BroadcastExpansions.WithLabelValues(kind).Add(float64(count))
}
