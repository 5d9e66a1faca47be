// Package pcapfile implements a packet source that replays a pcap capture.
package pcapfile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/ipgw/internal/core"
	"firestige.xyz/ipgw/internal/core/ipv4"
	"firestige.xyz/ipgw/internal/icmperr"
	"firestige.xyz/ipgw/internal/metrics"
)

// Config configures a pcap source.
type Config struct {
	Path    string
	Color   uint8      // Paint applied to every packet
	NextHop netip.Addr // Static route result; zero = header destination
}

// Source reads IPv4 datagrams from a pcap file.
type Source struct {
	cfg      Config
	file     *os.File
	reader   *pcapgo.Reader
	linkType layers.LinkType

	// Decoding scratch, reused between frames.
	eth  layers.Ethernet
	vlan layers.Dot1Q
}

// Open opens the capture at cfg.Path and checks its link type.
func Open(cfg Config) (*Source, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("pcap source requires a path")
	}
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %s: %w", cfg.Path, err)
	}
	r, err := pcapgo.NewReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read pcap header %s: %w", cfg.Path, err)
	}

	lt := r.LinkType()
	switch lt {
	case layers.LinkTypeEthernet, layers.LinkTypeRaw, layers.LinkTypeIPv4:
	default:
		f.Close()
		return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedLinkType, lt)
	}

	slog.Debug("pcap source opened", "path", cfg.Path, "link_type", lt.String())
	return &Source{
		cfg:      cfg,
		file:     f,
		reader:   r,
		linkType: lt,
	}, nil
}

// LinkType returns the capture's link type.
func (s *Source) LinkType() layers.LinkType {
	return s.linkType
}

// Next returns the next IPv4 datagram with its metadata filled in.
// Frames that carry no usable datagram are skipped and counted.
// Returns io.EOF at the end of the capture.
func (s *Source) Next() (*core.Packet, error) {
	for {
		data, ci, err := s.reader.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to read packet: %w", err)
		}

		p, reason := s.decode(data, ci)
		if p != nil {
			return p, nil
		}
		metrics.SourceSkippedTotal.WithLabelValues(reason).Inc()
		slog.Debug("frame skipped", "reason", reason, "len", len(data))
	}
}

// decode strips the link layer and annotates the datagram. On failure it
// returns a nil packet and the skip reason.
func (s *Source) decode(data []byte, ci gopacket.CaptureInfo) (*core.Packet, string) {
	var broadcast bool
	if s.linkType == layers.LinkTypeEthernet {
		if err := s.eth.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
			return nil, metrics.SkipDecodeFailed
		}
		broadcast = bytes.Equal(s.eth.DstMAC, layers.EthernetBroadcast)
		etype, payload := s.eth.EthernetType, s.eth.Payload
		if etype == layers.EthernetTypeDot1Q {
			if err := s.vlan.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
				return nil, metrics.SkipDecodeFailed
			}
			etype, payload = s.vlan.Type, s.vlan.Payload
		}
		if etype != layers.EthernetTypeIPv4 {
			return nil, metrics.SkipNotIPv4
		}
		data = payload
	}

	if len(data) < ipv4.HeaderMinLen {
		return nil, metrics.SkipTooShort
	}
	hdr := ipv4.Header(data)
	if hdr.Version() != 4 {
		return nil, metrics.SkipNotIPv4
	}
	// Drop link-layer padding.
	if tl := int(hdr.TotalLen()); tl >= hdr.HeaderLen() && tl < len(data) {
		data = data[:tl]
		hdr = hdr[:tl]
	}

	dst := s.cfg.NextHop
	if !dst.IsValid() {
		dst = hdr.Dst()
	}
	meta := core.Meta{
		Timestamp:     ci.Timestamp,
		LinkBroadcast: broadcast,
		Color:         s.cfg.Color,
		DstAddr:       dst,
		Fragment:      hdr.IsFragment(),
	}
	if hdr.Protocol() == ipv4.ProtocolICMP && hdr.FragOffset() == 0 {
		if payload := hdr.Payload(); len(payload) > 0 {
			meta.ICMPError = icmperr.IsErrorType(payload[0])
		}
	}

	return &core.Packet{Data: data, Meta: meta}, ""
}

// Close closes the capture file.
func (s *Source) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
