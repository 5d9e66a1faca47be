// Package datapath implements the per-packet IPv4 output transform: link
// broadcast drop, paint echo, option rewrite, source fixup, checksum refresh,
// TTL decrement and the MTU check, run as an ordered list of stages.
package datapath

import (
	"fmt"
	"net/netip"
	"time"

	"firestige.xyz/ipgw/internal/core"
	"firestige.xyz/ipgw/internal/core/ipv4"
)

// Outcome is the routing decision for one packet.
type Outcome uint8

const (
	// Discard means the packet was dropped and no output exists.
	Discard Outcome = iota
	Forward
	TTLExpired
	NeedsFragmentation
	OptionError
)

func (o Outcome) String() string {
	switch o {
	case Discard:
		return "discard"
	case Forward:
		return "forward"
	case TTLExpired:
		return "ttl_expired"
	case NeedsFragmentation:
		return "needs_fragmentation"
	case OptionError:
		return "option_error"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Result is what Process hands back. Packet is nil only for Discard. Echo is
// the paint-echo side output: an unmodified copy taken before any mutation.
type Result struct {
	Outcome Outcome
	Packet  *core.Packet
	Echo    *core.Packet
}

// Config is fixed at construction.
type Config struct {
	Color     uint8            // Paint tag that triggers an echo
	LocalAddr netip.Addr       // Address written into options and fixed-up sources
	MTU       int              // Packets longer than this need fragmentation
	Clock     func() time.Time // Timestamp option clock, time.Now when nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.LocalAddr.Is4() {
		return fmt.Errorf("%w: datapath local address %v is not IPv4", core.ErrConfigInvalid, c.LocalAddr)
	}
	if c.MTU < ipv4.HeaderMinLen {
		return fmt.Errorf("%w: datapath mtu %d below %d", core.ErrConfigInvalid, c.MTU, ipv4.HeaderMinLen)
	}
	return nil
}

// Datapath holds only immutable configuration and is safe for concurrent use
// on distinct packets.
type Datapath struct {
	cfg   Config
	local [4]byte
}

// New validates cfg and returns a Datapath.
func New(cfg Config) (*Datapath, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Datapath{
		cfg:   cfg,
		local: cfg.LocalAddr.As4(),
	}, nil
}

// Config returns the configuration the datapath was built with.
func (d *Datapath) Config() Config {
	return d.cfg
}

// state is the per-call scratch shared by the stages.
type state struct {
	pkt   *core.Packet
	hdr   ipv4.Header
	dirty bool // header checksum needs a full recompute
	res   Result
}

// stage transforms s and reports whether processing continues.
type stage func(d *Datapath, s *state) bool

// stages run in this order; the order is part of the contract.
var stages = []stage{
	(*Datapath).dropBroadcast,
	(*Datapath).checkPaint,
	(*Datapath).rewriteOptions,
	(*Datapath).fixSource,
	(*Datapath).refreshChecksum,
	(*Datapath).decrementTTL,
	(*Datapath).checkMTU,
}

// Process runs p through every stage. The caller hands over exclusive access
// to p, which must hold at least a minimal IPv4 header. p is mutated in place.
func (d *Datapath) Process(p *core.Packet) Result {
	s := &state{
		pkt: p,
		hdr: ipv4.Header(p.Data),
		res: Result{Outcome: Forward, Packet: p},
	}
	for _, run := range stages {
		if !run(d, s) {
			break
		}
	}
	return s.res
}

func (d *Datapath) dropBroadcast(s *state) bool {
	if !s.pkt.Meta.LinkBroadcast {
		return true
	}
	s.res = Result{Outcome: Discard}
	return false
}

func (d *Datapath) checkPaint(s *state) bool {
	if s.pkt.Meta.Color == d.cfg.Color {
		s.res.Echo = s.pkt.Clone()
	}
	return true
}

func (d *Datapath) fixSource(s *state) bool {
	if s.pkt.Meta.FixSrc {
		s.pkt.Meta.FixSrc = false
		s.hdr.SetSrc(d.cfg.LocalAddr)
		s.dirty = true
	}
	return true
}

func (d *Datapath) refreshChecksum(s *state) bool {
	if s.dirty {
		s.hdr.RefreshChecksum()
		s.dirty = false
	}
	return true
}

func (d *Datapath) decrementTTL(s *state) bool {
	ttl := s.hdr.TTL()
	if ttl <= 1 {
		s.res.Outcome = TTLExpired
		return false
	}
	s.hdr.SetTTL(ttl - 1)
	s.hdr.SetChecksum(ipv4.DecrementTTLChecksum(s.hdr.Checksum()))
	return true
}

func (d *Datapath) checkMTU(s *state) bool {
	if s.pkt.Len() > d.cfg.MTU {
		s.res.Outcome = NeedsFragmentation
		return false
	}
	return true
}
