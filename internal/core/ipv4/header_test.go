package ipv4

import (
	"net/netip"
	"testing"
)

func TestHeaderFields(t *testing.T) {
	data := []byte{
		0x46,       // Version 4, IHL 6
		0x00,       // DSCP, ECN
		0x00, 0x20, // Total Length: 32 bytes
		0x12, 0x34, // Identification
		0x20, 0x00, // Flags (MF=1), Fragment Offset = 0
		0x40,       // TTL: 64
		0x11,       // Protocol: UDP
		0x00, 0x00, // Checksum
		192, 168, 1, 1, // Src IP
		192, 168, 1, 2, // Dst IP
		0x01, 0x01, 0x01, 0x00, // Options: NOP NOP NOP EOL
		0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x11, 0x22, // Payload
	}
	h := Header(data)

	if h.Version() != 4 {
		t.Errorf("Expected version 4, got %d", h.Version())
	}
	if h.HeaderLen() != 24 {
		t.Errorf("Expected header length 24, got %d", h.HeaderLen())
	}
	if h.TotalLen() != 32 {
		t.Errorf("Expected total length 32, got %d", h.TotalLen())
	}
	if h.TTL() != 64 {
		t.Errorf("Expected TTL 64, got %d", h.TTL())
	}
	if h.Protocol() != 17 {
		t.Errorf("Expected protocol 17, got %d", h.Protocol())
	}
	if want := netip.MustParseAddr("192.168.1.1"); h.Src() != want {
		t.Errorf("Expected Src %v, got %v", want, h.Src())
	}
	if want := netip.MustParseAddr("192.168.1.2"); h.Dst() != want {
		t.Errorf("Expected Dst %v, got %v", want, h.Dst())
	}
	if !h.IsFragment() {
		t.Error("Expected fragment with MF flag")
	}
	if len(h.Options()) != 4 {
		t.Errorf("Expected 4 option bytes, got %d", len(h.Options()))
	}
	if len(h.Payload()) != 8 {
		t.Errorf("Expected 8 payload bytes, got %d", len(h.Payload()))
	}

	h.SetSrc(netip.MustParseAddr("10.1.2.3"))
	if h.Src() != netip.MustParseAddr("10.1.2.3") {
		t.Errorf("SetSrc did not take effect: %v", h.Src())
	}
	h.RefreshChecksum()
	if !VerifyHeader(data[:h.HeaderLen()]) {
		t.Error("Expected header to verify after RefreshChecksum")
	}
}

func TestHeaderLenClamped(t *testing.T) {
	tests := []struct {
		name string
		vihl byte
		size int
		want int
	}{
		{"ihl below minimum", 0x43, 40, 20},
		{"ihl beyond buffer", 0x4F, 24, 24},
		{"ihl exact", 0x47, 28, 28},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, tt.size)
			data[0] = tt.vihl
			if got := Header(data).HeaderLen(); got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestIsFragment(t *testing.T) {
	data := make([]byte, 20)
	data[0] = 0x45
	if Header(data).IsFragment() {
		t.Error("Expected non-fragment")
	}
	data[6], data[7] = 0x40, 0x00 // DF only
	if Header(data).IsFragment() {
		t.Error("Expected DF alone to be a non-fragment")
	}
	data[6], data[7] = 0x00, 0x10 // offset 16
	if !Header(data).IsFragment() {
		t.Error("Expected non-zero offset to be a fragment")
	}
	if got := Header(data).FragOffset(); got != 16 {
		t.Errorf("Expected fragment offset 16, got %d", got)
	}
	data[6] = 0x20 // MF with offset 16
	if got := Header(data).FragOffset(); got != 16 {
		t.Errorf("Expected MF to be masked out of the offset, got %d", got)
	}
}

func TestIsUnicast(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"10.0.0.1", true},
		{"192.168.1.255", true}, // directed broadcast is not detected
		{"0.0.0.0", false},
		{"0.1.2.3", false},
		{"127.0.0.1", false},
		{"224.0.0.1", false},
		{"239.255.255.250", false},
		{"240.0.0.1", false},
		{"255.255.255.255", false},
		{"::1", false},
	}
	for _, tt := range tests {
		if got := IsUnicast(netip.MustParseAddr(tt.addr)); got != tt.want {
			t.Errorf("IsUnicast(%s) = %v, want %v", tt.addr, got, tt.want)
		}
	}
	if IsUnicast(netip.Addr{}) {
		t.Error("Expected zero Addr to be rejected")
	}
}
