package config

import (
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"firestige.xyz/ipgw/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return configPath
}

func TestLoadValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
ipgw:
  datapath:
    color: 2
    local_address: "18.26.4.24"
    mtu: 1400
  next_hop: "18.26.4.1"
  icmp:
    redirect:
      enabled: true
  source:
    path: "/tmp/in.pcap"
    color: 2
  sink:
    dir: "/tmp/out"
    kafka:
      enabled: true
      brokers:
        - "localhost:9092"
      batch_timeout: "250ms"
  workers: 4
  log:
    level: "debug"
    format: "json"
  metrics:
    enabled: true
    listen: "127.0.0.1:9100"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Datapath.LocalAddress != netip.MustParseAddr("18.26.4.24") {
		t.Errorf("Expected local address 18.26.4.24, got %v", cfg.Datapath.LocalAddress)
	}
	if cfg.Datapath.MTU != 1400 {
		t.Errorf("Expected MTU 1400, got %d", cfg.Datapath.MTU)
	}
	if cfg.Datapath.Color != 2 {
		t.Errorf("Expected color 2, got %d", cfg.Datapath.Color)
	}
	if cfg.NextHop != netip.MustParseAddr("18.26.4.1") {
		t.Errorf("Expected next hop 18.26.4.1, got %v", cfg.NextHop)
	}
	if cfg.ICMP.LocalAddress != cfg.Datapath.LocalAddress {
		t.Errorf("Expected ICMP local address to default to datapath's, got %v", cfg.ICMP.LocalAddress)
	}
	if !cfg.ICMP.Redirect.Enabled || cfg.ICMP.Redirect.Type != 5 || cfg.ICMP.Redirect.Code != 1 {
		t.Errorf("Unexpected redirect generator %+v", cfg.ICMP.Redirect)
	}
	if !cfg.ICMP.TimeExceeded.Enabled || cfg.ICMP.TimeExceeded.Type != 11 {
		t.Errorf("Unexpected time exceeded generator %+v", cfg.ICMP.TimeExceeded)
	}
	if cfg.ICMP.ParameterProblem.Type != 12 || cfg.ICMP.ParameterProblem.Code != 0 {
		t.Errorf("Unexpected parameter problem generator %+v", cfg.ICMP.ParameterProblem)
	}
	if cfg.Sink.Kafka.Topic != "ipgw-packets" {
		t.Errorf("Expected default Kafka topic, got %q", cfg.Sink.Kafka.Topic)
	}
	if cfg.Sink.Kafka.Compression != "snappy" {
		t.Errorf("Expected default compression snappy, got %q", cfg.Sink.Kafka.Compression)
	}
	if cfg.Sink.Kafka.BatchTimeout != 250*time.Millisecond {
		t.Errorf("Expected batch timeout 250ms, got %v", cfg.Sink.Kafka.BatchTimeout)
	}
	if cfg.Workers != 4 {
		t.Errorf("Expected 4 workers, got %d", cfg.Workers)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Unexpected log config %+v", cfg.Log)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Unexpected metrics config %+v", cfg.Metrics)
	}
}

func TestLoadDefaults(t *testing.T) {
	configPath := writeConfig(t, `
ipgw:
  datapath:
    local_address: "10.0.0.1"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Datapath.MTU != 1500 {
		t.Errorf("Expected default MTU 1500, got %d", cfg.Datapath.MTU)
	}
	if cfg.NextHop.IsValid() {
		t.Errorf("Expected no next hop, got %v", cfg.NextHop)
	}
	if cfg.ICMP.Redirect.Enabled {
		t.Error("Expected redirect generator disabled by default")
	}
	if cfg.Workers != 1 || cfg.QueueSize != 1024 {
		t.Errorf("Unexpected runtime defaults workers=%d queue=%d", cfg.Workers, cfg.QueueSize)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Unexpected log defaults %+v", cfg.Log)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing local address", `
ipgw:
  datapath:
    mtu: 1500
`},
		{"ipv6 local address", `
ipgw:
  datapath:
    local_address: "2001:db8::1"
`},
		{"mtu too small", `
ipgw:
  datapath:
    local_address: "10.0.0.1"
    mtu: 19
`},
		{"color out of range", `
ipgw:
  datapath:
    local_address: "10.0.0.1"
    color: 256
`},
		{"icmp code out of range", `
ipgw:
  datapath:
    local_address: "10.0.0.1"
  icmp:
    time_exceeded:
      code: -1
`},
		{"invalid log level", `
ipgw:
  datapath:
    local_address: "10.0.0.1"
  log:
    level: "invalid"
`},
		{"invalid log format", `
ipgw:
  datapath:
    local_address: "10.0.0.1"
  log:
    format: "xml"
`},
		{"kafka without brokers", `
ipgw:
  datapath:
    local_address: "10.0.0.1"
  sink:
    kafka:
      enabled: true
`},
		{"unknown kafka compression", `
ipgw:
  datapath:
    local_address: "10.0.0.1"
  sink:
    kafka:
      enabled: true
      brokers: ["localhost:9092"]
      compression: "brotli"
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !errors.Is(err, core.ErrConfigInvalid) {
				t.Errorf("Expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestLoadMalformedAddress(t *testing.T) {
	_, err := Load(writeConfig(t, `
ipgw:
  datapath:
    local_address: "not-an-address"
`))
	if err == nil {
		t.Error("Expected error for malformed address, got nil")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	if err == nil {
		t.Error("Expected error for missing file, got nil")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	configPath := writeConfig(t, `
ipgw:
  datapath:
    local_address: "10.0.0.1"
  log:
    level: "info"
`)
	t.Setenv("IPGW_LOG_LEVEL", "debug")
	t.Setenv("IPGW_DATAPATH_MTU", "576")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug from env var, got %s", cfg.Log.Level)
	}
	if cfg.Datapath.MTU != 576 {
		t.Errorf("Expected MTU 576 from env var, got %d", cfg.Datapath.MTU)
	}
}

func TestDump(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
ipgw:
  datapath:
    local_address: "10.0.0.1"
    mtu: 1280
`))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	out, err := Dump(cfg)
	if err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	s := string(out)
	for _, want := range []string{"ipgw:", "local_address: 10.0.0.1", "mtu: 1280", "time_exceeded:"} {
		if !strings.Contains(s, want) {
			t.Errorf("Expected dump to contain %q, got:\n%s", want, s)
		}
	}
}
