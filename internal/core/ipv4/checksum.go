package ipv4

import "encoding/binary"

// Checksum computes the RFC 1071 ones'-complement checksum of b. An odd
// trailing byte is padded with zero.
func Checksum(b []byte) uint16 {
	return ^fold(sum(0, b))
}

// HeaderChecksum computes the checksum of an IPv4 header, treating the
// checksum field itself as zero.
func HeaderChecksum(h []byte) uint16 {
	if len(h) < offChecksum+2 {
		return Checksum(h)
	}
	ac := sum(0, h[:offChecksum])
	ac = sum(ac, h[offChecksum+2:])
	return ^fold(ac)
}

// VerifyHeader reports whether the checksum embedded in h is correct.
func VerifyHeader(h []byte) bool {
	return Checksum(h) == 0
}

// DecrementTTLChecksum returns the header checksum after the TTL byte has
// been decremented by one, following RFC 1141 / RFC 1624. TTL is the high
// byte of its 16-bit word, so the word drops by 0x0100, which in ones'
// complement is the addition of 0xFEFF.
func DecrementTTLChecksum(old uint16) uint16 {
	ac := uint32(^old) + 0xFEFF
	return ^uint16(ac + ac>>16)
}

// sum adds the big-endian 16-bit words of b to ac. Callers must pass
// even-length prefixes except for the final chunk.
func sum(ac uint32, b []byte) uint32 {
	n := len(b)
	i := 0
	for n >= 2 {
		ac += uint32(binary.BigEndian.Uint16(b[i : i+2]))
		n -= 2
		i += 2
	}
	if n == 1 {
		ac += uint32(b[i]) << 8
	}
	return ac
}

func fold(ac uint32) uint16 {
	for ac>>16 > 0 {
		ac = (ac >> 16) + (ac & 0xFFFF)
	}
	return uint16(ac)
}
