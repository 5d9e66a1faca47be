// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DatapathPacketsTotal counts datapath results by outcome
	DatapathPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipgw_datapath_packets_total",
			Help: "Total number of packets processed by the output datapath",
		},
		[]string{"outcome"},
	)

	// DatapathLatencySeconds measures one datapath Process call
	DatapathLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ipgw_datapath_latency_seconds",
			Help:    "Latency of the output datapath in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0000001, 2, 20), // 100ns to ~50ms
		},
	)

	// ICMPErrorsTotal counts ICMP error generation attempts.
	// result is "generated" or "suppressed".
	ICMPErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipgw_icmp_errors_total",
			Help: "Total number of ICMP error generation attempts",
		},
		[]string{"type", "result"},
	)

	// SourceSkippedTotal counts input frames that never reached the datapath
	SourceSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipgw_source_skipped_total",
			Help: "Total number of input frames skipped by the source",
		},
		[]string{"reason"},
	)

	// SinkErrorsTotal counts failed sink writes
	SinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipgw_sink_errors_total",
			Help: "Total number of sink write errors",
		},
		[]string{"sink", "channel"},
	)
)

// ICMP error results.
const (
	ResultGenerated  = "generated"
	ResultSuppressed = "suppressed"
)

// Skip reasons.
const (
	SkipTooShort     = "too_short"
	SkipNotIPv4      = "not_ipv4"
	SkipDecodeFailed = "decode_failed"
)
