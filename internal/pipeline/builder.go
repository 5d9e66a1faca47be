package pipeline

import (
	"fmt"
	"time"

	"firestige.xyz/ipgw/internal/config"
	"firestige.xyz/ipgw/internal/datapath"
	"firestige.xyz/ipgw/internal/icmperr"
	"firestige.xyz/ipgw/internal/sink"
)

// Builder provides a fluent interface for building pipelines.
// This is an alternative to using Config directly.
type Builder struct {
	config Config
	clock  func() time.Time
	err    error
}

// NewBuilder creates a new pipeline builder.
func NewBuilder() *Builder {
	return &Builder{
		config: Config{
			Workers:    1,
			BufferSize: 1024, // default
		},
	}
}

// WithSource sets the packet source.
func (b *Builder) WithSource(s Source) *Builder {
	b.config.Source = s
	return b
}

// WithSink sets the sink every channel is written to.
func (b *Builder) WithSink(s sink.Sink) *Builder {
	b.config.Sink = s
	return b
}

// WithDatapath sets the output datapath.
func (b *Builder) WithDatapath(d *datapath.Datapath) *Builder {
	b.config.Datapath = d
	return b
}

// WithClock overrides the timestamp option clock used by WithConfig.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// WithWorkers sets the number of worker goroutines.
func (b *Builder) WithWorkers(n int) *Builder {
	b.config.Workers = n
	return b
}

// WithBufferSize sets the source channel buffer size.
func (b *Builder) WithBufferSize(size int) *Builder {
	b.config.BufferSize = size
	return b
}

// WithConfig builds the datapath and the enabled ICMP error generators
// from cfg and applies its runtime settings.
func (b *Builder) WithConfig(cfg *config.GlobalConfig) *Builder {
	if b.err != nil {
		return b
	}

	dp, err := datapath.New(datapath.Config{
		Color:     uint8(cfg.Datapath.Color),
		LocalAddr: cfg.Datapath.LocalAddress,
		MTU:       cfg.Datapath.MTU,
		Clock:     b.clock,
	})
	if err != nil {
		b.err = fmt.Errorf("datapath: %w", err)
		return b
	}
	b.config.Datapath = dp

	gens := []struct {
		name string
		cfg  config.GeneratorConfig
		dst  **icmperr.Generator
	}{
		{"time_exceeded", cfg.ICMP.TimeExceeded, &b.config.TimeExceeded},
		{"parameter_problem", cfg.ICMP.ParameterProblem, &b.config.ParameterProblem},
		{"redirect", cfg.ICMP.Redirect, &b.config.Redirect},
	}
	for _, g := range gens {
		if !g.cfg.Enabled {
			*g.dst = nil
			continue
		}
		gen, err := icmperr.New(icmperr.Config{
			LocalAddr: cfg.ICMP.LocalAddress,
			Type:      uint8(g.cfg.Type),
			Code:      uint8(g.cfg.Code),
		})
		if err != nil {
			b.err = fmt.Errorf("icmp %s: %w", g.name, err)
			return b
		}
		*g.dst = gen
	}

	b.config.Workers = cfg.Workers
	b.config.BufferSize = cfg.QueueSize
	return b
}

// Build creates the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if b.err != nil {
		return nil, b.err
	}
	return New(b.config)
}
