// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"firestige.xyz/ipgw/internal/core"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `ipgw:` root key in YAML.
type GlobalConfig struct {
	Datapath  DatapathConfig `mapstructure:"datapath" yaml:"datapath"`
	NextHop   netip.Addr     `mapstructure:"next_hop" yaml:"next_hop"` // Static route result; zero = header destination
	ICMP      ICMPConfig     `mapstructure:"icmp" yaml:"icmp"`
	Source    SourceConfig   `mapstructure:"source" yaml:"source"`
	Sink      SinkConfig     `mapstructure:"sink" yaml:"sink"`
	Workers   int            `mapstructure:"workers" yaml:"workers"`       // 0 = 1
	QueueSize int            `mapstructure:"queue_size" yaml:"queue_size"` // Source -> worker channel capacity
	Log       LogConfig      `mapstructure:"log" yaml:"log"`
	Metrics   MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

// ─── Datapath ───

// DatapathConfig configures the output datapath.
type DatapathConfig struct {
	Color        int        `mapstructure:"color" yaml:"color"` // Paint tag echoed to the redirect path
	LocalAddress netip.Addr `mapstructure:"local_address" yaml:"local_address"`
	MTU          int        `mapstructure:"mtu" yaml:"mtu"`
}

// ─── ICMP ───

// ICMPConfig configures the three error generators the pipeline wires.
type ICMPConfig struct {
	LocalAddress     netip.Addr      `mapstructure:"local_address" yaml:"local_address"` // Zero = datapath.local_address
	TimeExceeded     GeneratorConfig `mapstructure:"time_exceeded" yaml:"time_exceeded"`
	ParameterProblem GeneratorConfig `mapstructure:"parameter_problem" yaml:"parameter_problem"`
	Redirect         GeneratorConfig `mapstructure:"redirect" yaml:"redirect"`
}

// GeneratorConfig configures one ICMP error generator.
type GeneratorConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Type    int  `mapstructure:"type" yaml:"type"`
	Code    int  `mapstructure:"code" yaml:"code"`
}

// ─── Source & Sinks ───

// SourceConfig configures the pcap replay source.
type SourceConfig struct {
	Path  string `mapstructure:"path" yaml:"path"`
	Color int    `mapstructure:"color" yaml:"color"` // Paint applied to every ingress packet
}

// SinkConfig configures where routed packets go.
type SinkConfig struct {
	Dir     string          `mapstructure:"dir" yaml:"dir"` // One pcap per channel; empty = disabled
	Console bool            `mapstructure:"console" yaml:"console"`
	Kafka   KafkaSinkConfig `mapstructure:"kafka" yaml:"kafka"`
}

// KafkaSinkConfig configures the Kafka sink.
type KafkaSinkConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Brokers      []string      `mapstructure:"brokers" yaml:"brokers"`
	Topic        string        `mapstructure:"topic" yaml:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout"`
	Compression  string        `mapstructure:"compression" yaml:"compression"` // none / gzip / snappy / lz4
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `ipgw: ...`.
type configRoot struct {
	IPGW GlobalConfig `mapstructure:"ipgw" yaml:"ipgw"`
}

// Load loads configuration from file.
// The YAML file uses `ipgw:` as root key; env vars use the IPGW_ prefix
// (e.g. IPGW_LOG_LEVEL, IPGW_DATAPATH_MTU).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// The `ipgw.` key prefix maps to `IPGW_` in env vars via the key replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&root, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.IPGW

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "ipgw." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	v.SetDefault("ipgw.datapath.color", 2) // Generated errors carry paint 0
	v.SetDefault("ipgw.datapath.mtu", 1500)

	v.SetDefault("ipgw.icmp.time_exceeded.enabled", true)
	v.SetDefault("ipgw.icmp.time_exceeded.type", 11)
	v.SetDefault("ipgw.icmp.time_exceeded.code", 0)
	v.SetDefault("ipgw.icmp.parameter_problem.enabled", true)
	v.SetDefault("ipgw.icmp.parameter_problem.type", 12)
	v.SetDefault("ipgw.icmp.parameter_problem.code", 0)
	v.SetDefault("ipgw.icmp.redirect.enabled", false)
	v.SetDefault("ipgw.icmp.redirect.type", 5)
	v.SetDefault("ipgw.icmp.redirect.code", 1) // RFC 1812: host redirects only

	v.SetDefault("ipgw.source.color", 1)

	v.SetDefault("ipgw.sink.console", false)
	v.SetDefault("ipgw.sink.kafka.enabled", false)
	v.SetDefault("ipgw.sink.kafka.topic", "ipgw-packets")
	v.SetDefault("ipgw.sink.kafka.batch_timeout", "100ms")
	v.SetDefault("ipgw.sink.kafka.compression", "snappy")

	v.SetDefault("ipgw.workers", 1)
	v.SetDefault("ipgw.queue_size", 1024)

	v.SetDefault("ipgw.log.level", "info")
	v.SetDefault("ipgw.log.format", "text")
	v.SetDefault("ipgw.log.outputs.file.enabled", false)
	v.SetDefault("ipgw.log.outputs.file.path", "/var/log/ipgw/ipgw.log")
	v.SetDefault("ipgw.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("ipgw.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("ipgw.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("ipgw.log.outputs.file.rotation.compress", true)

	v.SetDefault("ipgw.metrics.enabled", false)
	v.SetDefault("ipgw.metrics.listen", ":9091")
	v.SetDefault("ipgw.metrics.path", "/metrics")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: invalid log format: %s (must be json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}

	// ── Datapath ──
	if !cfg.Datapath.LocalAddress.Is4() {
		return fmt.Errorf("%w: datapath.local_address is required and must be IPv4", core.ErrConfigInvalid)
	}
	if cfg.Datapath.MTU < 20 || cfg.Datapath.MTU > 65535 {
		return fmt.Errorf("%w: datapath.mtu %d out of range [20, 65535]", core.ErrConfigInvalid, cfg.Datapath.MTU)
	}
	if err := checkByte("datapath.color", cfg.Datapath.Color); err != nil {
		return err
	}
	if cfg.NextHop.IsValid() && !cfg.NextHop.Is4() {
		return fmt.Errorf("%w: next_hop must be IPv4", core.ErrConfigInvalid)
	}

	// ── ICMP ──
	if !cfg.ICMP.LocalAddress.IsValid() {
		cfg.ICMP.LocalAddress = cfg.Datapath.LocalAddress
	}
	if !cfg.ICMP.LocalAddress.Is4() {
		return fmt.Errorf("%w: icmp.local_address must be IPv4", core.ErrConfigInvalid)
	}
	gens := map[string]GeneratorConfig{
		"icmp.time_exceeded":     cfg.ICMP.TimeExceeded,
		"icmp.parameter_problem": cfg.ICMP.ParameterProblem,
		"icmp.redirect":          cfg.ICMP.Redirect,
	}
	for name, g := range gens {
		if err := checkByte(name+".type", g.Type); err != nil {
			return err
		}
		if err := checkByte(name+".code", g.Code); err != nil {
			return err
		}
	}

	// ── Source ──
	if err := checkByte("source.color", cfg.Source.Color); err != nil {
		return err
	}

	// ── Sinks ──
	if cfg.Sink.Kafka.Enabled {
		if len(cfg.Sink.Kafka.Brokers) == 0 {
			return fmt.Errorf("%w: sink.kafka.brokers is required when sink.kafka.enabled=true", core.ErrConfigInvalid)
		}
		if cfg.Sink.Kafka.Topic == "" {
			return fmt.Errorf("%w: sink.kafka.topic is required when sink.kafka.enabled=true", core.ErrConfigInvalid)
		}
		switch cfg.Sink.Kafka.Compression {
		case "", "none", "gzip", "snappy", "lz4":
		default:
			return fmt.Errorf("%w: invalid sink.kafka.compression: %s", core.ErrConfigInvalid, cfg.Sink.Kafka.Compression)
		}
	}

	// ── Runtime ──
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1024
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	return nil
}

func checkByte(name string, v int) error {
	if v < 0 || v > 255 {
		return fmt.Errorf("%w: %s %d out of range [0, 255]", core.ErrConfigInvalid, name, v)
	}
	return nil
}

// Dump renders cfg as YAML under the `ipgw:` root key.
func Dump(cfg *GlobalConfig) ([]byte, error) {
	out, err := yaml.Marshal(configRoot{IPGW: *cfg})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return out, nil
}
