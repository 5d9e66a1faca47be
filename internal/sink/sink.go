// Package sink defines where routed packets are delivered.
package sink

import (
	"context"
	"errors"
	"fmt"

	"firestige.xyz/ipgw/internal/core"
	"firestige.xyz/ipgw/internal/metrics"
)

// Sink receives packets routed to a channel. Implementations must be safe
// for concurrent use.
type Sink interface {
	Name() string
	Write(ctx context.Context, ch core.Channel, p *core.Packet) error
	Close() error
}

// Multi fans every write out to several sinks.
type Multi struct {
	sinks []Sink
}

// NewMulti returns a sink writing to all of sinks in order.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Name returns the sink name.
func (m *Multi) Name() string {
	return "multi"
}

// Write delivers p to every sink. A failing sink does not stop delivery
// to the others; all errors are joined.
func (m *Multi) Write(ctx context.Context, ch core.Channel, p *core.Packet) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, ch, p); err != nil {
			metrics.SinkErrorsTotal.WithLabelValues(s.Name(), string(ch)).Inc()
			errs = append(errs, fmt.Errorf("%s sink: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s sink: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
