package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"firestige.xyz/buffwatch/internal/buff"
)

// renderCooldowns prints the cooldown panel. Untriggered cooldowns show the
// full configured duration as remaining.
func renderCooldowns(w io.Writer, cooldowns []buff.Cooldown) {
	fmt.Fprintln(w, "Cooldowns")
	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Buff ID", "Cooldown", "Remain", "Procs", "State"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, c := range cooldowns {
		tw.Append([]string{
			strconv.Itoa(int(c.BuffID)),
			c.Duration.String(),
			fmt.Sprintf("%.2fs", c.Remaining.Seconds()),
			strconv.Itoa(c.Procs),
			cooldownState(c),
		})
	}
	tw.Render()
}

func cooldownState(c buff.Cooldown) string {
	switch {
	case !c.Triggered:
		return "not yet"
	case c.Remaining == 0:
		return "ready"
	default:
		return "cooling"
	}
}

// renderActive prints the active-buff panel.
func renderActive(w io.Writer, active []buff.ActiveBuff) {
	fmt.Fprintf(w, "Active buffs (%d)\n", len(active))
	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Owner:Slot", "Buff ID", "Stack", "Duration ms", "Entity"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, a := range active {
		entity := "-"
		if a.EntityUUID != 0 {
			entity = strconv.FormatUint(a.EntityUUID, 10)
		}
		tw.Append([]string{
			a.Key,
			strconv.Itoa(int(a.BuffID)),
			a.Stack.String(),
			a.DurationMs.String(),
			entity,
		})
	}
	tw.Render()
}
