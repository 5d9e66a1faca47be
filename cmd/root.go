// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ipgw",
	Short: "ipgw - IPv4 router output datapath and ICMP error synthesis",
	Long: `ipgw runs IPv4 datagrams through a router's output datapath: link broadcast
drop, paint echo, Record Route / Timestamp option processing, source fixup,
checksum refresh, TTL decrement and the MTU check. Datagrams that cannot be
forwarded are answered with ICMP Time Exceeded, Parameter Problem or Redirect
messages.

Packets are replayed from a pcap capture and every result is written to a
per-channel sink (pcap files, console, Kafka).`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/ipgw/config.yml",
		"config file path")

	// Add subcommands
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(validateCmd)
}
