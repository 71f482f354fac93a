// Package metrics exposes the cart service Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Write side
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_commands_total",
		Help: "Cart commands handled by outcome",
	}, []string{"command", "outcome"}) // outcome=ok|invalid_argument|invalid_state|conflict|unavailable|ambiguous

	commandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cart_command_duration_seconds",
		Help:    "Time from mailbox delivery to reply for cart commands",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"command"})

	activeEntities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cart_active_entities",
		Help: "Carts currently held in memory on this node",
	})

	activationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_activations_total",
		Help: "Cart activations by outcome",
	}, []string{"outcome"}) // outcome=ok|error

	replayedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cart_replayed_events_total",
		Help: "Journal records folded during cart activation",
	})

	passivationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_passivations_total",
		Help: "Cart passivations by reason",
	}, []string{"reason"}) // reason=idle|failure|lease_lost|shutdown

	journalAppends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_journal_appends_total",
		Help: "Journal append attempts by outcome",
	}, []string{"outcome"}) // outcome=ok|conflict|error

	// Read side
	projectionApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_projection_applied_total",
		Help: "Journal records processed by the popularity projection",
	}, []string{"tag", "result"}) // result=applied|skipped

	projectionRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_projection_retries_total",
		Help: "Failed projection attempts that were retried",
	}, []string{"tag"})

	projectionCursor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cart_projection_cursor_ordinal",
		Help: "Last journal ordinal committed by the projection per tag",
	}, []string{"tag"})

	projectionHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cart_projection_healthy",
		Help: "Whether the projection worker for a tag is healthy (1) or failing (0)",
	}, []string{"tag"})

	// Cluster
	forwardsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_forwards_total",
		Help: "Commands forwarded to the owning peer by outcome",
	}, []string{"peer", "outcome"})

	leaseEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_lease_events_total",
		Help: "Ownership lease transitions",
	}, []string{"event"}) // event=acquired|held_elsewhere|renew_failed|released
)

// RecordCommand records a handled command and its latency.
func RecordCommand(command, outcome string, elapsed time.Duration) {
	commandsTotal.WithLabelValues(command, outcome).Inc()
	commandDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

// EntityActivated records an activation attempt and the records it replayed.
func EntityActivated(ok bool, replayed int) {
	if !ok {
		activationsTotal.WithLabelValues("error").Inc()
		return
	}
	activationsTotal.WithLabelValues("ok").Inc()
	activeEntities.Inc()
	replayedEvents.Add(float64(replayed))
}

// EntityPassivated records an entity leaving memory.
func EntityPassivated(reason string) {
	passivationsTotal.WithLabelValues(reason).Inc()
	activeEntities.Dec()
}

// RecordAppend records a journal append outcome.
func RecordAppend(outcome string) {
	journalAppends.WithLabelValues(outcome).Inc()
}

// RecordProjection records one processed record for tag.
func RecordProjection(tag string, applied bool, ordinal uint64) {
	result := "skipped"
	if applied {
		result = "applied"
	}
	projectionApplied.WithLabelValues(tag, result).Inc()
	projectionCursor.WithLabelValues(tag).Set(float64(ordinal))
}

// RecordProjectionRetry records a failed projection attempt.
func RecordProjectionRetry(tag string) {
	projectionRetries.WithLabelValues(tag).Inc()
}

// SetProjectionHealthy flips the health gauge for tag.
func SetProjectionHealthy(tag string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1
	}
	projectionHealthy.WithLabelValues(tag).Set(value)
}

// RecordForward records a command forwarded to peer.
func RecordForward(peer, outcome string) {
	forwardsTotal.WithLabelValues(peer, outcome).Inc()
}

// RecordLease records a lease transition.
func RecordLease(event string) {
	leaseEvents.WithLabelValues(event).Inc()
}
