package datapath

import (
	"bytes"
	"encoding/binary"

	"firestige.xyz/ipgw/internal/core/ipv4"
)

const (
	millisPerDay = 24 * 60 * 60 * 1000
	maxOverflow  = 15
)

// Byte positions inside Record Route and Timestamp options.
const (
	optPointer = 2
	optOflwFlg = 3
)

// rewriteOptions updates Record Route and Timestamp options in place. On a
// parameter problem it records the offset and stops the pipeline; bytes
// already written stay written and the checksum is not refreshed.
func (d *Datapath) rewriteOptions(s *state) bool {
	if s.hdr.HeaderLen() <= ipv4.HeaderMinLen {
		return true
	}

	c := s.hdr.OptionCursor()
	for {
		step := c.Next()
		if step.Kind != ipv4.StepOption {
			// End of list, malformed length or exhausted region.
			return true
		}

		var dirty, bad bool
		var off int
		switch step.Option.Type {
		case ipv4.OptRecordRoute:
			dirty, off, bad = d.recordRoute(step.Option)
		case ipv4.OptTimestamp:
			dirty, off, bad = d.timestamp(step.Option)
		}
		if dirty {
			s.dirty = true
		}
		if bad {
			s.pkt.Meta.SetParamOffset(off)
			s.res.Outcome = OptionError
			return false
		}
	}
}

// recordRoute appends the local address to a Record Route option. The
// pointer is 1-based from the start of the option.
func (d *Datapath) recordRoute(o ipv4.Option) (dirty bool, off int, bad bool) {
	b := o.Bytes
	if o.Length <= optPointer {
		return false, o.Offset + 1, true
	}

	p := int(b[optPointer]) - 1
	switch {
	case p >= 3 && p+4 <= o.Length:
		copy(b[p:p+4], d.local[:])
		b[optPointer] += 4
		return true, 0, false
	case p == o.Length:
		// Route list already full.
		return false, 0, false
	default:
		return false, o.Offset + optPointer, true
	}
}

// timestamp records the local time, optionally with the local address, in a
// Timestamp option. Flag 3 only registers when the next prespecified address
// is ours.
func (d *Datapath) timestamp(o ipv4.Option) (dirty bool, off int, bad bool) {
	b := o.Bytes
	if o.Length <= optOflwFlg {
		return false, o.Offset + 1, true
	}

	p := int(b[optPointer]) - 1
	oflw := b[optOflwFlg] >> 4
	flg := b[optOflwFlg] & 0x0F
	if p < 4 {
		return false, o.Offset + optPointer, true
	}

	overflowed := false
	switch flg {
	case ipv4.TSOnly:
		if p+4 <= o.Length {
			binary.BigEndian.PutUint32(b[p:], d.millis())
			b[optPointer] += 4
			dirty = true
		} else {
			overflowed = true
		}
	case ipv4.TSAndAddr:
		if p+8 <= o.Length {
			copy(b[p:p+4], d.local[:])
			binary.BigEndian.PutUint32(b[p+4:], d.millis())
			b[optPointer] += 8
			dirty = true
		} else {
			overflowed = true
		}
	case ipv4.TSPrespecified:
		if p+8 <= o.Length && bytes.Equal(b[p:p+4], d.local[:]) {
			binary.BigEndian.PutUint32(b[p+4:], d.millis())
			b[optPointer] += 8
			dirty = true
		}
	}

	if overflowed {
		if oflw >= maxOverflow {
			return dirty, o.Offset + optOflwFlg, true
		}
		b[optOflwFlg] = (oflw+1)<<4 | flg
		dirty = true
	}
	return dirty, 0, false
}

// millis returns milliseconds since midnight UT, as RFC 791 wants.
func (d *Datapath) millis() uint32 {
	t := d.cfg.Clock().UTC()
	h, m, sec := t.Clock()
	ms := ((h*60+m)*60+sec)*1000 + t.Nanosecond()/1e6
	return uint32(ms % millisPerDay)
}
