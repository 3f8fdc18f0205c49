package turn

import (
	"context"
	"fmt"
	"strings"
)

// Control commands are single-token instructions intercepted before
// trigger admission. They never create a run and are never billed.
const (
	cmdStop     = "/stop"
	cmdSpend    = "/spend"
	cmdProvider = "/provider"
)

func isControlCommand(text string) bool {
	switch firstToken(text) {
	case cmdStop, cmdSpend, cmdProvider:
		return true
	}
	return false
}

func firstToken(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func (c *Coordinator) handleControl(ctx context.Context, text string) error {
	fields := strings.Fields(text)
	switch fields[0] {
	case cmdStop:
		if !c.Busy() {
			c.sendText(ctx, "Nothing is running.")
			return nil
		}
		c.Cancel()
		c.sendText(ctx, "Stopped.")
		return nil

	case cmdSpend:
		snapshot, err := c.deps.Tracker.Snapshot(ctx)
		if err != nil {
			c.sendText(ctx, "Couldn't read the spend ledger right now.")
			return fmt.Errorf("turn: spend snapshot failed: %w", err)
		}
		c.sendText(ctx, fmt.Sprintf(
			"Spend: $%.2f this turn, $%.2f today (limit $%.2f), $%.2f this month (limit $%.2f).",
			snapshot.TurnUSD,
			snapshot.DayUSD, snapshot.Limits.DailyUSD,
			snapshot.MonthUSD, snapshot.Limits.MonthlyUSD))
		return nil

	case cmdProvider:
		if len(fields) != 3 {
			c.sendText(ctx, "Usage: /provider <setting> <value>")
			return nil
		}
		if c.deps.Settings == nil {
			c.sendText(ctx, "Provider settings are not available.")
			return nil
		}
		key, value := fields[1], fields[2]
		if err := c.deps.Settings.SetSetting(ctx, "provider:"+key, value); err != nil {
			c.sendText(ctx, "Couldn't save that setting.")
			return fmt.Errorf("turn: failed to save provider setting: %w", err)
		}
		c.sendText(ctx, fmt.Sprintf("Set %s to %s. Takes effect on restart.", key, value))
		return nil
	}
	return nil
}
