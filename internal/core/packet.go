// Package core defines core data structures with zero external dependencies.
package core

import (
	"net/netip"
	"time"
)

// Packet is an IPv4 datagram travelling through the datapath together with
// its metadata record. Data starts at the IP header.
type Packet struct {
	Data []byte
	Meta Meta
}

// Meta is the per-packet annotation record. Components read and write it but
// never allocate it on their own.
type Meta struct {
	Timestamp     time.Time  // Capture timestamp, host use only
	LinkBroadcast bool       // Frame arrived as a link-layer broadcast
	Color         uint8      // Paint tag
	DstAddr       netip.Addr // Destination / next-hop annotation
	FixSrc        bool       // Source address must be rewritten on output
	Fragment      bool       // Datagram is an IP fragment
	ICMPError     bool       // Datagram carries an ICMP error message

	paramOffset    int
	hasParamOffset bool
}

// SetParamOffset records the byte offset of a parameter problem.
func (m *Meta) SetParamOffset(off int) {
	m.paramOffset = off
	m.hasParamOffset = true
}

// ClearParamOffset removes a recorded parameter problem offset.
func (m *Meta) ClearParamOffset() {
	m.paramOffset = 0
	m.hasParamOffset = false
}

// ParamOffset returns the recorded parameter problem offset, if any.
func (m Meta) ParamOffset() (int, bool) {
	return m.paramOffset, m.hasParamOffset
}

// Clone returns a deep copy of p. The copy shares no memory with p.
func (p *Packet) Clone() *Packet {
	data := make([]byte, len(p.Data))
	copy(data, p.Data)
	return &Packet{
		Data: data,
		Meta: p.Meta,
	}
}

// Len returns the datagram length in bytes.
func (p *Packet) Len() int {
	return len(p.Data)
}
