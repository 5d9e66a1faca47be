// Package kafka implements a sink that publishes routed packets to Kafka.
// Each message carries the raw datagram; the key is the channel name.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/ipgw/internal/core"
)

const (
	Name = "kafka"

	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3
)

// Header keys carried on every message.
const (
	HeaderColor       = "ipgw-color"
	HeaderDstAddr     = "ipgw-dst-addr"
	HeaderParamOffset = "ipgw-param-offset"
	HeaderICMPError   = "ipgw-icmp-error"
)

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config represents Kafka sink configuration.
type Config struct {
	Brokers      []string      // required
	Topic        string        // required
	BatchSize    int           // optional, default 100
	BatchTimeout time.Duration // optional, default 100ms
	Compression  string        // optional: none|gzip|snappy|lz4, default snappy
	MaxAttempts  int           // optional, default 3
}

// Sink sends packets to Kafka.
type Sink struct {
	writer messageWriter
	config Config

	// Statistics
	written atomic.Uint64
	errors  atomic.Uint64
}

// New creates a Kafka sink.
func New(cfg Config) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}
	if cfg.Compression == "" {
		cfg.Compression = defaultCompression
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}

	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:          cfg.Brokers,
		Topic:            cfg.Topic,
		Balancer:         &kafka.Hash{}, // Same channel, same partition
		BatchSize:        cfg.BatchSize,
		BatchTimeout:     cfg.BatchTimeout,
		MaxAttempts:      cfg.MaxAttempts,
		CompressionCodec: codec,
	})

	slog.Info("kafka sink created",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"batch_timeout", cfg.BatchTimeout,
		"compression", cfg.Compression,
	)
	return newWithWriter(cfg, w), nil
}

func newWithWriter(cfg Config, w messageWriter) *Sink {
	return &Sink{writer: w, config: cfg}
}

func compressionCodec(name string) (kafka.CompressionCodec, error) {
	switch name {
	case "none":
		return nil, nil
	case "gzip":
		return compress.Gzip.Codec(), nil
	case "snappy":
		return compress.Snappy.Codec(), nil
	case "lz4":
		return compress.Lz4.Codec(), nil
	default:
		return nil, fmt.Errorf("invalid compression type: %s", name)
	}
}

// Name returns the sink name.
func (s *Sink) Name() string {
	return Name
}

// Write publishes p to the configured topic.
func (s *Sink) Write(ctx context.Context, ch core.Channel, p *core.Packet) error {
	if err := s.writer.WriteMessages(ctx, message(ch, p)); err != nil {
		s.errors.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}
	s.written.Add(1)
	return nil
}

// message builds the Kafka record for p. The value is a copy of the datagram.
func message(ch core.Channel, p *core.Packet) kafka.Message {
	value := make([]byte, len(p.Data))
	copy(value, p.Data)

	headers := []kafka.Header{
		{Key: HeaderColor, Value: []byte(strconv.Itoa(int(p.Meta.Color)))},
		{Key: HeaderICMPError, Value: []byte(strconv.FormatBool(p.Meta.ICMPError))},
	}
	if p.Meta.DstAddr.IsValid() {
		headers = append(headers, kafka.Header{Key: HeaderDstAddr, Value: []byte(p.Meta.DstAddr.String())})
	}
	if off, ok := p.Meta.ParamOffset(); ok {
		headers = append(headers, kafka.Header{Key: HeaderParamOffset, Value: []byte(strconv.Itoa(off))})
	}

	return kafka.Message{
		Key:     []byte(ch),
		Value:   value,
		Time:    p.Meta.Timestamp,
		Headers: headers,
	}
}

// Close flushes pending messages and closes the writer.
func (s *Sink) Close() error {
	if err := s.writer.Close(); err != nil {
		slog.Error("error closing kafka writer", "error", err)
		return err
	}
	slog.Info("kafka sink closed",
		"total_written", s.written.Load(),
		"total_errors", s.errors.Load(),
	)
	return nil
}
