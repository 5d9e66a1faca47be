// Package pipeline wires a packet source, the output datapath, the ICMP
// error generators and the sinks into one run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"firestige.xyz/ipgw/internal/core"
	"firestige.xyz/ipgw/internal/core/ipv4"
	"firestige.xyz/ipgw/internal/datapath"
	"firestige.xyz/ipgw/internal/icmperr"
	"firestige.xyz/ipgw/internal/metrics"
	"firestige.xyz/ipgw/internal/sink"
)

// Source yields annotated IPv4 datagrams until io.EOF.
type Source interface {
	Next() (*core.Packet, error)
}

// Config contains pipeline configuration. A nil generator disables the
// corresponding ICMP error.
type Config struct {
	Source   Source
	Sink     sink.Sink
	Datapath *datapath.Datapath

	TimeExceeded     *icmperr.Generator
	ParameterProblem *icmperr.Generator
	Redirect         *icmperr.Generator

	Workers    int
	BufferSize int // Source -> worker channel buffer size
}

// Pipeline runs every packet from its source through the datapath and
// routes the results to channels of its sink.
type Pipeline struct {
	cfg     Config
	metrics Metrics
	ran     atomic.Bool
}

// New creates a new pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("%w: pipeline requires a source", core.ErrConfigInvalid)
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("%w: pipeline requires a sink", core.ErrConfigInvalid)
	}
	if cfg.Datapath == nil {
		return nil, fmt.Errorf("%w: pipeline requires a datapath", core.ErrConfigInvalid)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1024
	}
	return &Pipeline{cfg: cfg}, nil
}

// Run reads the source to the end and processes every packet. It returns
// the first source or sink error, or ctx's error if ctx ends first.
// A pipeline runs once; later calls return core.ErrPipelineStopped.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.ran.CompareAndSwap(false, true) {
		return core.ErrPipelineStopped
	}
	slog.Info("pipeline starting", "workers", p.cfg.Workers, "buffer", p.cfg.BufferSize)

	g, gctx := errgroup.WithContext(ctx)
	packets := make(chan *core.Packet, p.cfg.BufferSize)

	g.Go(func() error {
		defer close(packets)
		return p.readLoop(gctx, packets)
	})
	for i := 0; i < p.cfg.Workers; i++ {
		g.Go(func() error {
			return p.processLoop(gctx, packets)
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	stats := p.Stats()
	slog.Info("pipeline stopped",
		"received", stats.Received,
		"forwarded", stats.Forwarded,
		"icmp_errors", stats.ErrorsGenerated,
		"error", err,
	)
	return err
}

// readLoop feeds packets from the source into out.
func (p *Pipeline) readLoop(ctx context.Context, out chan<- *core.Packet) error {
	for {
		pkt, err := p.cfg.Source.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("source failed: %w", err)
		}
		select {
		case out <- pkt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// processLoop is one worker.
func (p *Pipeline) processLoop(ctx context.Context, in <-chan *core.Packet) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pkt, ok := <-in:
			if !ok {
				return nil
			}
			if pkt.Len() < ipv4.HeaderMinLen {
				metrics.SourceSkippedTotal.WithLabelValues(metrics.SkipTooShort).Inc()
				slog.Debug("packet rejected", "error", core.ErrPacketTooShort, "len", pkt.Len())
				continue
			}
			p.metrics.Received.Add(1)
			if err := p.route(ctx, pkt, true); err != nil {
				return err
			}
		}
	}
}

// route runs pkt through the datapath and delivers every result. Generated
// ICMP errors are routed once more when reinject is set.
func (p *Pipeline) route(ctx context.Context, pkt *core.Packet, reinject bool) error {
	start := time.Now()
	res := p.cfg.Datapath.Process(pkt)
	metrics.DatapathLatencySeconds.Observe(time.Since(start).Seconds())
	metrics.DatapathPacketsTotal.WithLabelValues(res.Outcome.String()).Inc()
	p.metrics.countOutcome(res.Outcome)

	if res.Echo != nil {
		p.metrics.Echoed.Add(1)
		if err := p.write(ctx, core.ChannelEcho, res.Echo); err != nil {
			return err
		}
		if err := p.raise(ctx, p.cfg.Redirect, res.Echo, reinject); err != nil {
			return err
		}
	}

	switch res.Outcome {
	case datapath.Forward:
		return p.write(ctx, core.ChannelForward, res.Packet)
	case datapath.TTLExpired:
		if err := p.write(ctx, core.ChannelTTLExpired, res.Packet); err != nil {
			return err
		}
		return p.raise(ctx, p.cfg.TimeExceeded, res.Packet, reinject)
	case datapath.OptionError:
		if err := p.write(ctx, core.ChannelOptionError, res.Packet); err != nil {
			return err
		}
		return p.raise(ctx, p.cfg.ParameterProblem, res.Packet, reinject)
	case datapath.NeedsFragmentation:
		return p.write(ctx, core.ChannelFragment, res.Packet)
	default:
		slog.Debug("packet discarded", "outcome", res.Outcome.String())
		return nil
	}
}

// raise asks gen for an error about offending and delivers it.
func (p *Pipeline) raise(ctx context.Context, gen *icmperr.Generator, offending *core.Packet, reinject bool) error {
	if gen == nil {
		return nil
	}
	typ := strconv.Itoa(int(gen.Config().Type))

	e, ok := gen.Generate(offending)
	if !ok {
		p.metrics.ErrorsSuppressed.Add(1)
		metrics.ICMPErrorsTotal.WithLabelValues(typ, metrics.ResultSuppressed).Inc()
		return nil
	}
	p.metrics.ErrorsGenerated.Add(1)
	metrics.ICMPErrorsTotal.WithLabelValues(typ, metrics.ResultGenerated).Inc()

	if err := p.write(ctx, core.ChannelICMPError, e); err != nil {
		return err
	}
	if !reinject {
		return nil
	}
	return p.route(ctx, e, false)
}

func (p *Pipeline) write(ctx context.Context, ch core.Channel, pkt *core.Packet) error {
	if err := p.cfg.Sink.Write(ctx, ch, pkt); err != nil {
		p.metrics.SinkErrors.Add(1)
		return fmt.Errorf("sink write to %s failed: %w", ch, err)
	}
	return nil
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() Stats {
	return p.metrics.snapshot()
}
