package ipv4

// Option types handled by the datapath. Everything else passes through.
const (
	OptEnd         = 0
	OptNop         = 1
	OptRecordRoute = 7
	OptTimestamp   = 68
	OptLSRR        = 131 // Loose source and record route
	OptSSRR        = 137 // Strict source and record route
)

// Timestamp option flag values (low nibble of the fourth option byte).
const (
	TSOnly         = 0
	TSAndAddr      = 1
	TSPrespecified = 3
)

// StepKind classifies one step of an option scan.
type StepKind uint8

const (
	// StepDone means the region is exhausted.
	StepDone StepKind = iota
	// StepOption carries a well-formed option.
	StepOption
	// StepEnd is an End-of-Option-List; the scan stops.
	StepEnd
	// StepMalformed means an option's length field is unusable; the scan stops.
	StepMalformed
)

func (k StepKind) String() string {
	switch k {
	case StepDone:
		return "done"
	case StepOption:
		return "option"
	case StepEnd:
		return "end"
	case StepMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Option is one option inside the options region. Bytes aliases the packet,
// type and length bytes included, so writes through it are in place.
type Option struct {
	Type   uint8
	Length int
	Offset int // Absolute offset of the type byte from the start of the header
	Bytes  []byte
}

// Payload returns the option bytes after type and length.
func (o Option) Payload() []byte {
	if len(o.Bytes) < 2 {
		return nil
	}
	return o.Bytes[2:]
}

// Step is the result of OptionCursor.Next.
type Step struct {
	Kind   StepKind
	Option Option
	Offset int // Absolute offset of the offending length byte for StepMalformed
}

// OptionCursor walks an options region left to right. It never reads outside
// the region and never reports faults itself: a malformed option ends the
// scan and the caller decides what it means.
type OptionCursor struct {
	region []byte
	base   int
	pos    int
	done   bool
}

// NewOptionCursor returns a cursor over region. base is the absolute offset
// of region[0] from the start of the IP header, normally HeaderMinLen.
func NewOptionCursor(region []byte, base int) *OptionCursor {
	return &OptionCursor{region: region, base: base}
}

// OptionCursor returns a cursor over the options of h.
func (h Header) OptionCursor() *OptionCursor {
	return NewOptionCursor(h.Options(), HeaderMinLen)
}

// Reset rewinds the cursor to the start of the region.
func (c *OptionCursor) Reset() {
	c.pos = 0
	c.done = false
}

// Next returns the next step of the scan. After StepEnd, StepMalformed or
// StepDone every further call returns StepDone.
func (c *OptionCursor) Next() Step {
	if c.done || c.pos >= len(c.region) {
		c.done = true
		return Step{Kind: StepDone}
	}

	start := c.pos
	typ := c.region[start]

	switch typ {
	case OptEnd:
		c.done = true
		return Step{Kind: StepEnd, Option: c.option(typ, start, 1)}
	case OptNop:
		c.pos++
		return Step{Kind: StepOption, Option: c.option(typ, start, 1)}
	}

	// Every other option carries an explicit length covering type and length.
	if start+1 >= len(c.region) {
		return c.malformed(start)
	}
	length := int(c.region[start+1])
	if length < 2 || start+length > len(c.region) {
		return c.malformed(start)
	}

	c.pos += length
	return Step{Kind: StepOption, Option: c.option(typ, start, length)}
}

func (c *OptionCursor) option(typ uint8, start, length int) Option {
	return Option{
		Type:   typ,
		Length: length,
		Offset: c.base + start,
		Bytes:  c.region[start : start+length],
	}
}

func (c *OptionCursor) malformed(start int) Step {
	c.done = true
	return Step{Kind: StepMalformed, Offset: c.base + start + 1}
}

// HasSourceRoute reports whether the header carries a loose or strict source
// route option. The scan stops at the end of the list or a malformed option.
func (h Header) HasSourceRoute() bool {
	c := h.OptionCursor()
	for {
		step := c.Next()
		if step.Kind != StepOption {
			return false
		}
		if step.Option.Type == OptLSRR || step.Option.Type == OptSSRR {
			return true
		}
	}
}
