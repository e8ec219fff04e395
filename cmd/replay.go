package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/buffwatch/internal/buff"
	"firestige.xyz/buffwatch/internal/wire"
)

var replayCmd = &cobra.Command{
	Use:   "replay <file.bin>",
	Short: "Decode a dumped buff payload",
	Long: `Decode one payload written by the dump reporter, print its events and the
resulting active-buff and cooldown panels.

Example:
  buffwatch replay dumps/dump_buff_1714564800123.bin`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		cooldowns, err := globalCfg.Tracker.CooldownTable()
		if err != nil {
			return err
		}
		runReplay(cmd.OutOrStdout(), data, buff.NewTracker(cooldowns), time.Now())
		return nil
	},
}

// runReplay decodes one event-list payload into tracker at now and prints
// the events followed by the panels.
func runReplay(w io.Writer, data []byte, tracker *buff.Tracker, now time.Time) {
	events := wire.DecodeBuffEvents(data)
	tracker.Feed(events, now)

	for i := range events {
		fmt.Fprintln(w, buff.FormatEvent(&events[i]))
	}
	if len(events) == 0 {
		fmt.Fprintln(w, "no buff events decoded")
	}

	renderActive(w, tracker.Active())
	renderCooldowns(w, tracker.Cooldowns(now))
}
