// Package pcapfile implements a sink that writes one pcap file per channel.
package pcapfile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/ipgw/internal/core"
)

const (
	Name    = "pcap"
	snaplen = 65535
)

type channelFile struct {
	file   *os.File
	buf    *bufio.Writer
	writer *pcapgo.Writer
	count  uint64
}

// Sink writes datagrams as raw-IP pcap records, one file per channel.
// Files are created on the first packet of their channel.
type Sink struct {
	dir string

	mu     sync.Mutex
	files  map[core.Channel]*channelFile
	closed bool
}

// New creates the output directory and returns a sink writing into it.
func New(dir string) (*Sink, error) {
	if dir == "" {
		return nil, fmt.Errorf("pcap sink requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sink directory %s: %w", dir, err)
	}
	return &Sink{
		dir:   dir,
		files: make(map[core.Channel]*channelFile),
	}, nil
}

// Name returns the sink name.
func (s *Sink) Name() string {
	return Name
}

// Path returns the file a channel is written to.
func (s *Sink) Path(ch core.Channel) string {
	return filepath.Join(s.dir, string(ch)+".pcap")
}

// Write appends p to its channel's file.
func (s *Sink) Write(_ context.Context, ch core.Channel, p *core.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return core.ErrSinkClosed
	}

	cf, err := s.open(ch)
	if err != nil {
		return err
	}

	ts := p.Meta.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(p.Data),
		Length:        len(p.Data),
	}
	if err := cf.writer.WritePacket(ci, p.Data); err != nil {
		return fmt.Errorf("failed to write %s packet: %w", ch, err)
	}
	cf.count++
	return nil
}

func (s *Sink) open(ch core.Channel) (*channelFile, error) {
	if cf, ok := s.files[ch]; ok {
		return cf, nil
	}

	f, err := os.Create(s.Path(ch))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s pcap: %w", ch, err)
	}
	buf := bufio.NewWriter(f)
	w := pcapgo.NewWriter(buf)
	if err := w.WriteFileHeader(snaplen, layers.LinkTypeRaw); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write %s pcap header: %w", ch, err)
	}

	cf := &channelFile{file: f, buf: buf, writer: w}
	s.files[ch] = cf
	return cf, nil
}

// Counts returns the number of packets written per channel.
func (s *Sink) Counts() map[core.Channel]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[core.Channel]uint64, len(s.files))
	for ch, cf := range s.files {
		out[ch] = cf.count
	}
	return out
}

// Close flushes and closes every file. Further writes fail.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for ch, cf := range s.files {
		if err := cf.buf.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", ch, err))
		}
		if err := cf.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", ch, err))
		}
	}
	return errors.Join(errs...)
}
