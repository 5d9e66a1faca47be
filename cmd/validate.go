package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/ipgw/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Validate the configuration file and print the effective configuration,
defaults and environment overrides included, as YAML.

Examples:
  ipgw validate -c /etc/ipgw/config.yml
  IPGW_DATAPATH_MTU=1400 ipgw validate -c config.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, cmd.OutOrStdout())
	},
}

func runValidate(path string, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	data, err := config.Dump(cfg)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "# VALID: %s\n", path)
	_, err = out.Write(data)
	return err
}
