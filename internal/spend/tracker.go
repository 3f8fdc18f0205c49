// Package spend tracks LLM/tool spending: a per-turn ephemeral counter
// plus daily and monthly cumulative ledgers persisted in the settings
// table so they survive restarts.
package spend

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/scrypster/aide/internal/storage"
)

// Limits holds the USD ceilings. Zero disables a limit.
type Limits struct {
	PerTurnUSD float64
	DailyUSD   float64
	MonthlyUSD float64
}

// Snapshot is a point-in-time view of all counters, used by the /spend
// control command and the status endpoint.
type Snapshot struct {
	TurnUSD  float64 `json:"turn_usd"`
	DayUSD   float64 `json:"day_usd"`
	MonthUSD float64 `json:"month_usd"`
	Limits   Limits  `json:"limits"`
	DayKey   string  `json:"day"`
	MonthKey string  `json:"month"`
}

// Tracker accumulates spend. Per-turn spend is in-memory only and reset
// by BeginTurn; daily/monthly totals are read-modify-written through the
// settings store under the tracker's lock.
type Tracker struct {
	mu       sync.Mutex
	turnUSD  float64
	settings storage.SettingsStore
	limits   Limits
	now      func() time.Time
}

// NewTracker creates a tracker backed by the given settings store.
func NewTracker(settings storage.SettingsStore, limits Limits) *Tracker {
	return &Tracker{
		settings: settings,
		limits:   limits,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// BeginTurn resets the per-turn counter.
func (t *Tracker) BeginTurn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turnUSD = 0
}

// Add records spend for the current turn and folds it into the daily and
// monthly ledgers. Negative amounts are ignored: per-turn spend is
// monotonically non-decreasing within a turn.
func (t *Tracker) Add(ctx context.Context, usd float64) error {
	if usd <= 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.turnUSD += usd

	if err := t.bump(ctx, t.dayKey(), usd); err != nil {
		return err
	}
	return t.bump(ctx, t.monthKey(), usd)
}

// TurnUSD returns the cumulative spend of the current turn.
func (t *Tracker) TurnUSD() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.turnUSD
}

// TurnLimitUSD returns the per-turn cap.
func (t *Tracker) TurnLimitUSD() float64 {
	return t.limits.PerTurnUSD
}

// TurnLimitReached reports whether the per-turn cap has been hit.
func (t *Tracker) TurnLimitReached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limits.PerTurnUSD > 0 && t.turnUSD >= t.limits.PerTurnUSD
}

// CumulativeExceeded reports whether the daily or monthly ledger is over
// its limit, with a short human-readable reason for the apology message.
func (t *Tracker) CumulativeExceeded(ctx context.Context) (bool, string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	day, err := t.read(ctx, t.dayKey())
	if err != nil {
		return false, "", err
	}
	if t.limits.DailyUSD > 0 && day >= t.limits.DailyUSD {
		return true, fmt.Sprintf("daily budget of $%.2f is used up ($%.2f spent today)", t.limits.DailyUSD, day), nil
	}

	month, err := t.read(ctx, t.monthKey())
	if err != nil {
		return false, "", err
	}
	if t.limits.MonthlyUSD > 0 && month >= t.limits.MonthlyUSD {
		return true, fmt.Sprintf("monthly budget of $%.2f is used up ($%.2f spent this month)", t.limits.MonthlyUSD, month), nil
	}

	return false, "", nil
}

// Snapshot returns all counters.
func (t *Tracker) Snapshot(ctx context.Context) (Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	day, err := t.read(ctx, t.dayKey())
	if err != nil {
		return Snapshot{}, err
	}
	month, err := t.read(ctx, t.monthKey())
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		TurnUSD:  t.turnUSD,
		DayUSD:   day,
		MonthUSD: month,
		Limits:   t.limits,
		DayKey:   t.now().Format("2006-01-02"),
		MonthKey: t.now().Format("2006-01"),
	}, nil
}

func (t *Tracker) dayKey() string {
	return "spend_day:" + t.now().Format("2006-01-02")
}

func (t *Tracker) monthKey() string {
	return "spend_month:" + t.now().Format("2006-01")
}

// read returns the ledger value for a key, treating a missing key as
// zero. Date-stamped keys roll the ledgers over naturally.
func (t *Tracker) read(ctx context.Context, key string) (float64, error) {
	value, err := t.settings.GetSetting(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		// A corrupt ledger entry is treated as zero rather than wedging
		// every turn.
		return 0, nil
	}
	return parsed, nil
}

func (t *Tracker) bump(ctx context.Context, key string, usd float64) error {
	current, err := t.read(ctx, key)
	if err != nil {
		return err
	}
	return t.settings.SetSetting(ctx, key, strconv.FormatFloat(current+usd, 'f', 6, 64))
}
