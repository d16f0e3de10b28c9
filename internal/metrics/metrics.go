// Package metrics exposes the Prometheus collectors shared by both the
// single-process and agent-per-device engines. Neither engine starts an
// HTTP server itself; an embedder registers Registry wherever it already
// exposes metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the collector registry both engines register into. Embedders
// that already run a Prometheus exporter can plug this in directly instead
// of using the global default registry.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	ChunksWritten = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raid_chunks_written_total",
			Help: "Total chunks written, by role (data or parity).",
		},
		[]string{"role"},
	)

	ParityRecomputations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raid_parity_recomputations_total",
			Help: "Total incremental parity recomputations performed on update.",
		},
		[]string{"device"},
	)

	SlicesRecovered = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "raid_slices_recovered_total",
			Help: "Total slices reconstructed by a recovery pass.",
		},
	)

	RecoveryDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raid_recovery_duration_seconds",
			Help:    "Wall-clock duration of a full recovery pass.",
			Buckets: prometheus.DefBuckets,
		},
	)

	MailboxDepth = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "raid_agent_mailbox_depth",
			Help: "Number of messages queued in an agent worker's control mailbox.",
		},
		[]string{"device"},
	)

	DevicesLost = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "raid_devices_lost",
			Help: "Number of devices currently marked offline.",
		},
	)
)
