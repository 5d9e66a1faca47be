// Package icmperr synthesizes ICMP error messages (RFC 792) in response to
// datagrams the datapath could not forward.
//
// A Generator never answers an ICMP error, a fragment, a link broadcast, a
// datagram whose source is not unicast, or one sent to a multicast or the
// limited broadcast address. Redirects are not sent for source-routed
// datagrams. It cannot tell whether an address is a subnet-directed
// broadcast, since that needs interface context, and does not try.
package icmperr

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	netipv4 "golang.org/x/net/ipv4"

	"firestige.xyz/ipgw/internal/core"
	"firestige.xyz/ipgw/internal/core/ipv4"
)

const (
	icmpHeaderLen = 8
	// quoteLen is how much of the offending payload is echoed back.
	quoteLen = 8
	sendTTL  = 64

	typeSourceQuench = 4
)

var limitedBroadcast = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// IsErrorType reports whether an ICMP type is an error message.
func IsErrorType(t uint8) bool {
	switch netipv4.ICMPType(t) {
	case netipv4.ICMPTypeDestinationUnreachable,
		typeSourceQuench,
		netipv4.ICMPTypeRedirect,
		netipv4.ICMPTypeTimeExceeded,
		netipv4.ICMPTypeParameterProblem:
		return true
	}
	return false
}

// Config is fixed at construction.
type Config struct {
	LocalAddr netip.Addr
	Type      uint8
	Code      uint8
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.LocalAddr.Is4() {
		return fmt.Errorf("%w: icmp local address %v is not IPv4", core.ErrConfigInvalid, c.LocalAddr)
	}
	return nil
}

// Generator builds ICMP errors of one type and code. It is safe for
// concurrent use.
type Generator struct {
	cfg   Config
	local [4]byte
}

// New validates cfg and returns a Generator.
func New(cfg Config) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{cfg: cfg, local: cfg.LocalAddr.As4()}, nil
}

// Config returns the generator's configuration.
func (g *Generator) Config() Config {
	return g.cfg
}

// Eligible reports whether p may be answered with an ICMP error.
func (g *Generator) Eligible(p *core.Packet) bool {
	if p.Meta.ICMPError || p.Meta.Fragment || p.Meta.LinkBroadcast {
		return false
	}
	h := ipv4.Header(p.Data)
	if !ipv4.IsUnicast(h.Src()) {
		return false
	}
	if dst := h.Dst(); dst.IsMulticast() || dst == limitedBroadcast {
		return false
	}
	if netipv4.ICMPType(g.cfg.Type) == netipv4.ICMPTypeRedirect && h.HasSourceRoute() {
		return false
	}
	return true
}

// Generate returns a new IPv4/ICMP error datagram addressed to the source of
// p, or false when p is not eligible. p is left untouched. The result is
// marked for source fixup so a later output stage can choose the egress
// address.
func (g *Generator) Generate(p *core.Packet) (*core.Packet, bool) {
	if !g.Eligible(p) {
		return nil, false
	}

	in := ipv4.Header(p.Data)
	hlen := in.HeaderLen()
	quoted := min(len(p.Data)-hlen, quoteLen)
	dst := in.Src()

	out := make([]byte, ipv4.HeaderMinLen+icmpHeaderLen+hlen+quoted)
	g.writeIPHeader(out, dst)

	msg := out[ipv4.HeaderMinLen:]
	msg[0] = g.cfg.Type
	msg[1] = g.cfg.Code
	g.writeRest(msg[4:8], p)
	copy(msg[icmpHeaderLen:], p.Data[:hlen+quoted])
	binary.BigEndian.PutUint16(msg[2:4], ipv4.Checksum(msg))

	return &core.Packet{
		Data: out,
		Meta: core.Meta{
			Timestamp: p.Meta.Timestamp,
			DstAddr:   dst,
			FixSrc:    true,
			ICMPError: true,
		},
	}, true
}

func (g *Generator) writeIPHeader(b []byte, dst netip.Addr) {
	h := ipv4.Header(b)
	b[0] = 0x45
	binary.BigEndian.PutUint16(b[2:4], uint16(len(b)))
	b[8] = sendTTL
	b[9] = ipv4.ProtocolICMP
	h.SetSrc(g.cfg.LocalAddr)
	d := dst.As4()
	copy(b[16:20], d[:])
	h.RefreshChecksum()
}

// writeRest fills the type-specific second word of the ICMP header.
func (g *Generator) writeRest(rest []byte, p *core.Packet) {
	switch {
	case netipv4.ICMPType(g.cfg.Type) == netipv4.ICMPTypeParameterProblem && g.cfg.Code == 0:
		if off, ok := p.Meta.ParamOffset(); ok && off >= 0 && off <= 0xFF {
			rest[0] = byte(off)
		}
	case netipv4.ICMPType(g.cfg.Type) == netipv4.ICMPTypeRedirect:
		if p.Meta.DstAddr.Is4() {
			gw := p.Meta.DstAddr.As4()
			copy(rest, gw[:])
		}
	}
}
