package icmperr

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/icmp"
	netipv4 "golang.org/x/net/ipv4"

	"firestige.xyz/ipgw/internal/core"
	"firestige.xyz/ipgw/internal/core/ipv4"
)

var localAddr = netip.MustParseAddr("18.26.4.24")

// offending builds a datagram from src with a 4-byte option block and a
// payload of n bytes counting up from 0xA0.
func offending(src string, n int) *core.Packet {
	hlen := 24
	data := make([]byte, hlen+n)
	data[0] = 0x46
	binary.BigEndian.PutUint16(data[2:4], uint16(len(data)))
	data[8] = 1
	data[9] = 17
	s := netip.MustParseAddr(src).As4()
	copy(data[12:16], s[:])
	copy(data[16:20], []byte{192, 168, 7, 9})
	copy(data[20:24], []byte{ipv4.OptNop, ipv4.OptNop, ipv4.OptNop, ipv4.OptEnd})
	for i := 0; i < n; i++ {
		data[hlen+i] = byte(0xA0 + i)
	}
	ipv4.Header(data).RefreshChecksum()
	return &core.Packet{Data: data, Meta: core.Meta{DstAddr: netip.MustParseAddr("192.168.7.1")}}
}

func setDst(p *core.Packet, a, b, c, d byte) {
	copy(p.Data[16:20], []byte{a, b, c, d})
	ipv4.Header(p.Data).RefreshChecksum()
}

func newGenerator(t *testing.T, typ, code uint8) *Generator {
	t.Helper()
	g, err := New(Config{LocalAddr: localAddr, Type: typ, Code: code})
	require.NoError(t, err)
	return g
}

func TestNewRejectsNonIPv4(t *testing.T) {
	_, err := New(Config{LocalAddr: netip.MustParseAddr("2001:db8::1"), Type: 11})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestIsErrorType(t *testing.T) {
	for _, typ := range []uint8{3, 4, 5, 11, 12} {
		assert.True(t, IsErrorType(typ), "type %d", typ)
	}
	for _, typ := range []uint8{0, 8, 13, 14} {
		assert.False(t, IsErrorType(typ), "type %d", typ)
	}
}

func TestNoErrorOnError(t *testing.T) {
	g := newGenerator(t, 11, 0)
	p := offending("10.0.0.1", 16)
	p.Meta.ICMPError = true

	out, ok := g.Generate(p)
	assert.False(t, ok)
	assert.Nil(t, out)
}

func TestIneligible(t *testing.T) {
	g := newGenerator(t, 11, 0)
	tests := []struct {
		name   string
		src    string
		mutate func(*core.Packet)
	}{
		{"fragment", "10.0.0.1", func(p *core.Packet) { p.Meta.Fragment = true }},
		{"link broadcast", "10.0.0.1", func(p *core.Packet) { p.Meta.LinkBroadcast = true }},
		{"zero source", "0.0.0.0", nil},
		{"loopback source", "127.0.0.1", nil},
		{"multicast source", "224.0.0.5", nil},
		{"class E source", "250.1.1.1", nil},
		{"limited broadcast source", "255.255.255.255", nil},
		{"multicast destination", "10.0.0.1", func(p *core.Packet) { setDst(p, 224, 0, 0, 5) }},
		{"limited broadcast destination", "10.0.0.1", func(p *core.Packet) { setDst(p, 255, 255, 255, 255) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := offending(tt.src, 16)
			if tt.mutate != nil {
				tt.mutate(p)
			}
			_, ok := g.Generate(p)
			assert.False(t, ok)
		})
	}
}

func TestNoRedirectForSourceRoute(t *testing.T) {
	g := newGenerator(t, 5, 1)
	for _, opt := range []uint8{ipv4.OptLSRR, ipv4.OptSSRR} {
		p := offending("10.0.0.1", 16)
		copy(p.Data[20:24], []byte{opt, 3, 4, ipv4.OptEnd})
		ipv4.Header(p.Data).RefreshChecksum()

		_, ok := g.Generate(p)
		assert.False(t, ok, "option %d", opt)
	}

	// The same datagram without a source route is still redirected.
	_, ok := g.Generate(offending("10.0.0.1", 16))
	assert.True(t, ok)

	// Other error types ignore the source route.
	p := offending("10.0.0.1", 16)
	copy(p.Data[20:24], []byte{ipv4.OptLSRR, 3, 4, ipv4.OptEnd})
	ipv4.Header(p.Data).RefreshChecksum()
	_, ok = newGenerator(t, 11, 0).Generate(p)
	assert.True(t, ok)
}

func TestTimeExceededLayout(t *testing.T) {
	g := newGenerator(t, 11, 0)
	p := offending("10.0.0.1", 40)
	before := append([]byte(nil), p.Data...)

	out, ok := g.Generate(p)
	require.True(t, ok)

	assert.Equal(t, before, p.Data, "offending packet must not be modified")
	require.Len(t, out.Data, 20+8+24+8)

	h := ipv4.Header(out.Data)
	assert.EqualValues(t, 0x45, out.Data[0])
	assert.EqualValues(t, len(out.Data), h.TotalLen())
	assert.EqualValues(t, 64, h.TTL())
	assert.EqualValues(t, ipv4.ProtocolICMP, h.Protocol())
	assert.Equal(t, localAddr, h.Src())
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), h.Dst())
	assert.True(t, ipv4.VerifyHeader(out.Data[:20]))

	msg := out.Data[20:]
	assert.EqualValues(t, 11, msg[0])
	assert.EqualValues(t, 0, msg[1])
	assert.Zero(t, ipv4.Checksum(msg), "ICMP checksum must verify")
	assert.Equal(t, []byte{0, 0, 0, 0}, msg[4:8])

	if diff := cmp.Diff(before[:24+8], msg[8:]); diff != "" {
		t.Errorf("quoted datagram mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), out.Meta.DstAddr)
	assert.True(t, out.Meta.FixSrc)
	assert.True(t, out.Meta.ICMPError)
}

func TestShortPayloadQuotedWhole(t *testing.T) {
	g := newGenerator(t, 11, 0)
	p := offending("10.0.0.1", 3)

	out, ok := g.Generate(p)
	require.True(t, ok)
	assert.Len(t, out.Data, 20+8+24+3)
	assert.Equal(t, p.Data, out.Data[28:])
	assert.Zero(t, ipv4.Checksum(out.Data[20:]))
}

func TestParameterProblemPointer(t *testing.T) {
	g := newGenerator(t, 12, 0)
	p := offending("10.0.0.1", 16)
	p.Meta.SetParamOffset(22)

	out, ok := g.Generate(p)
	require.True(t, ok)

	m, err := icmp.ParseMessage(1, out.Data[20:])
	require.NoError(t, err)
	assert.Equal(t, netipv4.ICMPTypeParameterProblem, m.Type)
	body, ok := m.Body.(*icmp.ParamProb)
	require.True(t, ok, "unexpected body %T", m.Body)
	assert.EqualValues(t, 22, body.Pointer)
}

func TestParameterProblemWithoutOffset(t *testing.T) {
	g := newGenerator(t, 12, 0)
	out, ok := g.Generate(offending("10.0.0.1", 16))
	require.True(t, ok)
	assert.EqualValues(t, 0, out.Data[24])
}

func TestRedirectGateway(t *testing.T) {
	g := newGenerator(t, 5, 1)
	p := offending("10.0.0.1", 16)
	p.Meta.DstAddr = netip.MustParseAddr("10.0.0.254")

	out, ok := g.Generate(p)
	require.True(t, ok)

	msg := out.Data[20:]
	assert.EqualValues(t, 5, msg[0])
	assert.EqualValues(t, 1, msg[1])
	assert.Equal(t, []byte{10, 0, 0, 254}, msg[4:8])
	assert.Zero(t, ipv4.Checksum(msg))
}

func TestRedirectCodeNotEnforced(t *testing.T) {
	g := newGenerator(t, 5, 0)
	out, ok := g.Generate(offending("10.0.0.1", 16))
	require.True(t, ok)
	assert.EqualValues(t, 0, out.Data[21])
}

func TestDecodesWithGopacket(t *testing.T) {
	g := newGenerator(t, 11, 0)
	out, ok := g.Generate(offending("172.16.5.4", 32))
	require.True(t, ok)

	pkt := gopacket.NewPacket(out.Data, layers.LayerTypeIPv4, gopacket.Default)
	require.Nil(t, pkt.ErrorLayer())

	ip, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	require.True(t, ok)
	assert.Equal(t, "18.26.4.24", ip.SrcIP.String())
	assert.Equal(t, "172.16.5.4", ip.DstIP.String())
	assert.Equal(t, layers.IPProtocolICMPv4, ip.Protocol)

	ic, ok := pkt.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
	require.True(t, ok)
	assert.Equal(t, layers.CreateICMPv4TypeCode(11, 0), ic.TypeCode)
}

func BenchmarkGenerate(b *testing.B) {
	g, _ := New(Config{LocalAddr: localAddr, Type: 11})
	p := offending("10.0.0.1", 1400)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g.Generate(p)
	}
}
