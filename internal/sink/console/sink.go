// Package console implements a debug sink that prints one line per packet.
package console

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"firestige.xyz/ipgw/internal/core"
	"firestige.xyz/ipgw/internal/core/ipv4"
)

const Name = "console"

// Sink logs a summary of every routed packet.
type Sink struct {
	logger *slog.Logger
	count  atomic.Uint64
}

// New returns a console sink writing text lines to w.
func New(w io.Writer) *Sink {
	return &Sink{
		logger: slog.New(slog.NewTextHandler(w, nil)),
	}
}

// Name returns the sink name.
func (s *Sink) Name() string {
	return Name
}

// Write prints a summary of p.
func (s *Sink) Write(ctx context.Context, ch core.Channel, p *core.Packet) error {
	s.count.Add(1)

	attrs := []slog.Attr{
		slog.String("channel", string(ch)),
		slog.Int("len", p.Len()),
	}
	if p.Len() >= ipv4.HeaderMinLen {
		h := ipv4.Header(p.Data)
		attrs = append(attrs,
			slog.String("src", h.Src().String()),
			slog.String("dst", h.Dst().String()),
			slog.Int("ttl", int(h.TTL())),
			slog.Int("proto", int(h.Protocol())),
		)
	}
	if off, ok := p.Meta.ParamOffset(); ok {
		attrs = append(attrs, slog.Int("param_offset", off))
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "packet", attrs...)
	return nil
}

// Count returns the number of packets printed.
func (s *Sink) Count() uint64 {
	return s.count.Load()
}

// Close reports the packet count.
func (s *Sink) Close() error {
	slog.Info("console sink closed", "total", s.count.Load())
	return nil
}
