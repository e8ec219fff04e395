package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/buffwatch/internal/pipeline"
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Capture from a device and track buffs",
	Long: `Capture from a device, decode buff events and track buff state until interrupted.

Every status interval a status line is logged and the cooldown and
active-buff panels are printed.

Examples:
  buffwatch live                      # first device
  buffwatch live -d 2                 # device index from "buffwatch list"
  buffwatch live -d ethernet --engine afpacket`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLive(cmd)
	},
}

var (
	liveDevice   string
	liveEngine   string
	liveFilter   string
	liveNoPanels bool
)

func init() {
	liveCmd.Flags().StringVarP(&liveDevice, "device", "d", "",
		"device index or name/description substring (overrides capture.device)")
	liveCmd.Flags().StringVar(&liveEngine, "engine", "",
		"capture engine: pcap|afpacket (overrides capture.engine)")
	liveCmd.Flags().StringVarP(&liveFilter, "filter", "f", "",
		"BPF filter (overrides capture.bpf_filter)")
	liveCmd.Flags().BoolVar(&liveNoPanels, "no-panels", false,
		"log status only, without the buff panels")
}

func runLive(cmd *cobra.Command) error {
	cfg := *globalCfg
	if cmd.Flags().Changed("device") {
		cfg.Capture.Device = liveDevice
	}
	if cmd.Flags().Changed("engine") {
		cfg.Capture.Engine = liveEngine
	}
	if cmd.Flags().Changed("filter") {
		cfg.Capture.BPFFilter = liveFilter
	}

	capturer, err := pipeline.NewCapturer(cfg.Capture.Engine, cfg.Capture.PluginConfig())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	_, err = runPipeline(ctx, &cfg, capturer, cfg.Pipeline.StatusInterval, func(p *pipeline.Pipeline) {
		logStatus(p, capturer)
		if liveNoPanels {
			return
		}
		now := trackerClock(p.Stats())
		renderCooldowns(out, p.Tracker().Cooldowns(now))
		renderActive(out, p.Tracker().Active())
	})
	return err
}
