// Package ipv4 implements bounds-safe views over IPv4 headers and their
// options, and the checksum arithmetic the datapath relies on.
package ipv4

import (
	"encoding/binary"
	"net/netip"
)

const (
	// HeaderMinLen is the size of an IPv4 header without options.
	HeaderMinLen = 20
	// HeaderMaxLen is the largest header IHL can describe.
	HeaderMaxLen = 60
	// MaxOptionsLen is the largest options region.
	MaxOptionsLen = HeaderMaxLen - HeaderMinLen

	ProtocolICMP = 1
)

// Field offsets within the fixed header.
const (
	offVersionIHL = 0
	offTotalLen   = 2
	offFlagsFrag  = 6
	offTTL        = 8
	offProtocol   = 9
	offChecksum   = 10
	offSrc        = 12
	offDst        = 16
)

// Header is a non-owning view over the first bytes of an IPv4 datagram.
// Callers guarantee len(h) >= HeaderMinLen.
type Header []byte

// Version returns the IP version nibble.
func (h Header) Version() uint8 {
	return h[offVersionIHL] >> 4
}

// HeaderLen returns IHL*4 clamped to [HeaderMinLen, len(h)].
func (h Header) HeaderLen() int {
	n := int(h[offVersionIHL]&0x0F) * 4
	if n < HeaderMinLen {
		return HeaderMinLen
	}
	if n > len(h) {
		return len(h)
	}
	return n
}

// TotalLen returns the Total Length field.
func (h Header) TotalLen() uint16 {
	return binary.BigEndian.Uint16(h[offTotalLen:])
}

// TTL returns the Time To Live field.
func (h Header) TTL() uint8 {
	return h[offTTL]
}

// SetTTL overwrites the TTL field without touching the checksum.
func (h Header) SetTTL(ttl uint8) {
	h[offTTL] = ttl
}

// Protocol returns the payload protocol number.
func (h Header) Protocol() uint8 {
	return h[offProtocol]
}

// Checksum returns the header checksum field.
func (h Header) Checksum() uint16 {
	return binary.BigEndian.Uint16(h[offChecksum:])
}

// SetChecksum overwrites the header checksum field.
func (h Header) SetChecksum(sum uint16) {
	binary.BigEndian.PutUint16(h[offChecksum:], sum)
}

// Src returns the source address.
func (h Header) Src() netip.Addr {
	return netip.AddrFrom4([4]byte(h[offSrc : offSrc+4]))
}

// SetSrc overwrites the source address without touching the checksum.
func (h Header) SetSrc(addr netip.Addr) {
	a := addr.As4()
	copy(h[offSrc:offSrc+4], a[:])
}

// Dst returns the destination address.
func (h Header) Dst() netip.Addr {
	return netip.AddrFrom4([4]byte(h[offDst : offDst+4]))
}

// IsFragment reports whether MF is set or the fragment offset is non-zero.
func (h Header) IsFragment() bool {
	flagsOffset := binary.BigEndian.Uint16(h[offFlagsFrag:])
	moreFragments := flagsOffset&0x2000 != 0
	return moreFragments || h.FragOffset() != 0
}

// FragOffset returns the fragment offset in 8-byte units.
func (h Header) FragOffset() uint16 {
	return binary.BigEndian.Uint16(h[offFlagsFrag:]) & 0x1FFF
}

// Options returns the options region, possibly empty.
func (h Header) Options() []byte {
	return h[HeaderMinLen:h.HeaderLen()]
}

// Payload returns the bytes following the header.
func (h Header) Payload() []byte {
	return h[h.HeaderLen():]
}

// RefreshChecksum recomputes the header checksum over HeaderLen bytes.
func (h Header) RefreshChecksum() {
	h.SetChecksum(HeaderChecksum(h[:h.HeaderLen()]))
}

// IsUnicast reports whether addr may be the source of a datagram that an
// error is reported to: not "this network", loopback, multicast, class E
// or the limited broadcast address. Subnet-directed broadcasts cannot be
// recognized without interface context and are not rejected.
func IsUnicast(addr netip.Addr) bool {
	if !addr.Is4() {
		return false
	}
	a := addr.As4()
	switch {
	case a[0] == 0:
		return false
	case a[0] == 127:
		return false
	case a[0]&0xF0 == 0xE0: // 224.0.0.0/4 multicast
		return false
	case a[0]&0xF0 == 0xF0: // 240.0.0.0/4 class E and 255.255.255.255
		return false
	}
	return true
}
