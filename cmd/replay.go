package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/ipgw/internal/config"
	"firestige.xyz/ipgw/internal/log"
	"firestige.xyz/ipgw/internal/metrics"
	"firestige.xyz/ipgw/internal/pipeline"
	"firestige.xyz/ipgw/internal/sink"
	"firestige.xyz/ipgw/internal/sink/console"
	"firestige.xyz/ipgw/internal/sink/kafka"
	sinkpcap "firestige.xyz/ipgw/internal/sink/pcapfile"
	"firestige.xyz/ipgw/internal/source/pcapfile"
)

// replayCmd represents the replay command
var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Run a pcap capture through the output datapath",
	Long: `Replay every IPv4 datagram of a pcap capture through the output datapath.

The replay will:
  1. Load configuration and initialize logging and metrics
  2. Read the capture (Ethernet or raw IPv4 link type)
  3. Route each result to its channel: forward, echo, ttl-expired,
     fragment, option-error and icmp-error
  4. Print a summary of outcome counts

Examples:
  ipgw replay -c config.yml --input in.pcap --out ./out
  ipgw replay -c config.yml --console`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		applyReplayFlags(cmd, cfg)

		if err := log.Init(cfg.Log); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Metrics.Enabled {
			srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
			if err := srv.Start(ctx); err != nil {
				return fmt.Errorf("failed to start metrics server: %w", err)
			}
			defer srv.Stop(context.Background())
		}

		_, err = runReplay(ctx, cfg, cmd.OutOrStdout())
		return err
	},
}

var (
	replayInput   string
	replayOutDir  string
	replayConsole bool
)

func init() {
	replayCmd.Flags().StringVarP(&replayInput, "input", "i", "",
		"pcap file to replay (overrides source.path)")
	replayCmd.Flags().StringVarP(&replayOutDir, "out", "o", "",
		"directory for per-channel pcap files (overrides sink.dir)")
	replayCmd.Flags().BoolVar(&replayConsole, "console", false,
		"print every routed packet (overrides sink.console)")
}

// applyReplayFlags lets explicitly set flags win over the config file.
func applyReplayFlags(cmd *cobra.Command, cfg *config.GlobalConfig) {
	if cmd.Flags().Changed("input") {
		cfg.Source.Path = replayInput
	}
	if cmd.Flags().Changed("out") {
		cfg.Sink.Dir = replayOutDir
	}
	if cmd.Flags().Changed("console") {
		cfg.Sink.Console = replayConsole
	}
}

// runReplay runs the capture named by cfg through a pipeline and writes a
// YAML summary to out.
func runReplay(ctx context.Context, cfg *config.GlobalConfig, out io.Writer) (pipeline.Stats, error) {
	src, err := pcapfile.Open(pcapfile.Config{
		Path:    cfg.Source.Path,
		Color:   uint8(cfg.Source.Color),
		NextHop: cfg.NextHop,
	})
	if err != nil {
		return pipeline.Stats{}, err
	}
	defer src.Close()

	snk, err := buildSink(cfg, out)
	if err != nil {
		return pipeline.Stats{}, err
	}

	p, err := pipeline.NewBuilder().
		WithConfig(cfg).
		WithSource(src).
		WithSink(snk).
		Build()
	if err != nil {
		snk.Close()
		return pipeline.Stats{}, err
	}

	runErr := p.Run(ctx)
	if err := snk.Close(); err != nil {
		runErr = errors.Join(runErr, err)
	}

	stats := p.Stats()
	summary, err := yaml.Marshal(stats)
	if err != nil {
		return stats, errors.Join(runErr, err)
	}
	fmt.Fprintf(out, "# replay of %s\n", cfg.Source.Path)
	out.Write(summary)

	return stats, runErr
}

// buildSink assembles the sinks enabled in cfg. Console lines go to out.
func buildSink(cfg *config.GlobalConfig, out io.Writer) (*sink.Multi, error) {
	var sinks []sink.Sink

	if cfg.Sink.Dir != "" {
		s, err := sinkpcap.New(cfg.Sink.Dir)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Sink.Console {
		sinks = append(sinks, console.New(out))
	}
	if cfg.Sink.Kafka.Enabled {
		s, err := kafka.New(kafka.Config{
			Brokers:      cfg.Sink.Kafka.Brokers,
			Topic:        cfg.Sink.Kafka.Topic,
			BatchTimeout: cfg.Sink.Kafka.BatchTimeout,
			Compression:  cfg.Sink.Kafka.Compression,
		})
		if err != nil {
			closeAll(sinks)
			return nil, fmt.Errorf("kafka sink: %w", err)
		}
		sinks = append(sinks, s)
	}

	if len(sinks) == 0 {
		slog.Warn("no sink enabled, only counting outcomes")
	}
	return sink.NewMulti(sinks...), nil
}

func closeAll(sinks []sink.Sink) {
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			slog.Error("sink close failed", "sink", s.Name(), "error", err)
		}
	}
}
