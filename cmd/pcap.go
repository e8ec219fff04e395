package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/buffwatch/internal/pipeline"
)

var pcapCmd = &cobra.Command{
	Use:   "pcap <file>",
	Short: "Run the pipeline over a capture file",
	Long: `Run the full pipeline over a pcap or pcapng file, using packet timestamps
as the clock, then print the final cooldown and active-buff panels.

Examples:
  buffwatch pcap session.pcapng
  buffwatch pcap session.pcap -f "tcp port 7777"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPcap(cmd, args[0])
	},
}

var pcapFilter string

func init() {
	pcapCmd.Flags().StringVarP(&pcapFilter, "filter", "f", "",
		"BPF filter (overrides capture.bpf_filter)")
}

func runPcap(cmd *cobra.Command, path string) error {
	cfg := *globalCfg
	filter := cfg.Capture.BPFFilter
	if cmd.Flags().Changed("filter") {
		filter = pcapFilter
	}

	capturer, err := pipeline.NewCapturer("pcapfile", map[string]any{
		"path":       path,
		"bpf_filter": filter,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := runPipeline(ctx, &cfg, capturer, cfg.Pipeline.StatusInterval, func(p *pipeline.Pipeline) {
		logStatus(p, capturer)
	})
	if p == nil {
		return err
	}

	logStatus(p, capturer)
	out := cmd.OutOrStdout()
	renderCooldowns(out, p.Tracker().Cooldowns(p.Stats().Clock))
	renderActive(out, p.Tracker().Active())
	return err
}
