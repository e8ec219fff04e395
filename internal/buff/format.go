package buff

import (
	"fmt"

	"firestige.xyz/buffwatch/internal/core"
)

// FormatEvent renders one event as a console line.
func FormatEvent(e *core.BuffEvent) string {
	if e.IsLite() {
		return fmt.Sprintf("[BUFF] slot=%s (no buffId)", e.Slot)
	}
	return fmt.Sprintf("[BUFF] slot=%s owner=%s buffId=%s stack=%s dur=%s",
		e.Slot, e.OwnerSlot, e.BuffID, e.Stack, e.DurationMs)
}

// String renders the cooldown as "buffId=B remain=X.XXs", marking cooldowns
// that have not triggered yet.
func (c Cooldown) String() string {
	s := fmt.Sprintf("buffId=%d remain=%.2fs", c.BuffID, c.Remaining.Seconds())
	if !c.Triggered {
		s += " (not yet)"
	}
	return s
}

// String renders the entry as "key buffId=B stack=K dur=D".
func (a ActiveBuff) String() string {
	return fmt.Sprintf("%s buffId=%d stack=%s dur=%s", a.Key, a.BuffID, a.Stack, a.DurationMs)
}
