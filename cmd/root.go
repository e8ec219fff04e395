// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/buffwatch/internal/config"
	"firestige.xyz/buffwatch/internal/log"
)

var (
	// Global flags
	configFile string
	logLevel   string

	// globalCfg is loaded once by the root pre-run hook.
	globalCfg *config.GlobalConfig
	closeLog  = func() error { return nil }
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "buffwatch",
	Short: "buffwatch - passive buff event observer",
	Long: `buffwatch passively observes game client traffic, reassembles the TCP
streams, decodes the nested buff event records carried in AOI delta
notifications and tracks which buffs are active and which internal
cooldowns are ready.

Sources:
  - live capture from a device (libpcap or AF_PACKET)
  - offline pcap/pcapng files
  - dumped buff payload files`,
	Version:            "0.1.0",
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults only when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"override log.level (debug|info|warn|error)")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(liveCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(pcapCmd)
	rootCmd.AddCommand(validateCmd)
}

// setup loads the configuration and initializes logging for every command
// except validate, which reports load errors itself.
func setup(cmd *cobra.Command, args []string) error {
	if cmd == validateCmd {
		return nil
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	closeFn, err := log.Init(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to init logging: %w", err)
	}
	closeLog = closeFn
	globalCfg = cfg
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	return closeLog()
}
