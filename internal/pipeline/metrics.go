package pipeline

import (
	"sync/atomic"

	"firestige.xyz/ipgw/internal/datapath"
)

// Metrics contains per-pipeline counters.
type Metrics struct {
	// Packet counters (using atomic for thread-safety)
	Received           atomic.Uint64
	Discarded          atomic.Uint64
	Forwarded          atomic.Uint64
	Echoed             atomic.Uint64
	TTLExpired         atomic.Uint64
	NeedsFragmentation atomic.Uint64
	OptionErrors       atomic.Uint64
	ErrorsGenerated    atomic.Uint64
	ErrorsSuppressed   atomic.Uint64
	SinkErrors         atomic.Uint64
}

// countOutcome bumps the counter for one datapath outcome.
func (m *Metrics) countOutcome(o datapath.Outcome) {
	switch o {
	case datapath.Discard:
		m.Discarded.Add(1)
	case datapath.Forward:
		m.Forwarded.Add(1)
	case datapath.TTLExpired:
		m.TTLExpired.Add(1)
	case datapath.NeedsFragmentation:
		m.NeedsFragmentation.Add(1)
	case datapath.OptionError:
		m.OptionErrors.Add(1)
	}
}

// Stats represents a snapshot of pipeline statistics.
type Stats struct {
	Received           uint64 `yaml:"received"`
	Discarded          uint64 `yaml:"discarded"`
	Forwarded          uint64 `yaml:"forwarded"`
	Echoed             uint64 `yaml:"echoed"`
	TTLExpired         uint64 `yaml:"ttl_expired"`
	NeedsFragmentation uint64 `yaml:"needs_fragmentation"`
	OptionErrors       uint64 `yaml:"option_errors"`
	ErrorsGenerated    uint64 `yaml:"icmp_errors_generated"`
	ErrorsSuppressed   uint64 `yaml:"icmp_errors_suppressed"`
	SinkErrors         uint64 `yaml:"sink_errors"`
}

func (m *Metrics) snapshot() Stats {
	return Stats{
		Received:           m.Received.Load(),
		Discarded:          m.Discarded.Load(),
		Forwarded:          m.Forwarded.Load(),
		Echoed:             m.Echoed.Load(),
		TTLExpired:         m.TTLExpired.Load(),
		NeedsFragmentation: m.NeedsFragmentation.Load(),
		OptionErrors:       m.OptionErrors.Load(),
		ErrorsGenerated:    m.ErrorsGenerated.Load(),
		ErrorsSuppressed:   m.ErrorsSuppressed.Load(),
		SinkErrors:         m.SinkErrors.Load(),
	}
}
