package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/buffwatch/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a configuration file",
	Long: `Load and validate a configuration file without capturing.

The file is read from the argument, or from --config when no argument is given.

Examples:
  buffwatch validate configs/buffwatch.yml
  buffwatch -c configs/buffwatch.yml validate`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFile
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			return fmt.Errorf("no configuration file given")
		}
		return runValidate(cmd.OutOrStdout(), path)
	},
}

func runValidate(w io.Writer, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(w, "INVALID: %v\n", err)
		return err
	}

	fmt.Fprintf(w, "VALID: engine=%s, %d reporter(s), %d cooldown(s)\n",
		cfg.Capture.Engine,
		len(cfg.EnabledReporters()),
		len(cfg.Tracker.Cooldowns),
	)
	return nil
}
