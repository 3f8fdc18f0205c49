package spend

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/aide/internal/storage"
)

// memSettings is an in-memory storage.SettingsStore.
type memSettings struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemSettings() *memSettings {
	return &memSettings{values: make(map[string]string)}
}

func (m *memSettings) GetSetting(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return value, nil
}

func (m *memSettings) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func fixedClock(day string) func() time.Time {
	parsed, _ := time.Parse("2006-01-02", day)
	return func() time.Time { return parsed }
}

func TestTracker_TurnSpendIsMonotonic(t *testing.T) {
	tracker := NewTracker(newMemSettings(), Limits{PerTurnUSD: 0.20})
	ctx := context.Background()

	tracker.BeginTurn()
	require.NoError(t, tracker.Add(ctx, 0.05))
	require.NoError(t, tracker.Add(ctx, -1.0)) // ignored
	require.NoError(t, tracker.Add(ctx, 0.16))

	assert.InDelta(t, 0.21, tracker.TurnUSD(), 1e-9)
	assert.True(t, tracker.TurnLimitReached())

	tracker.BeginTurn()
	assert.Zero(t, tracker.TurnUSD())
	assert.False(t, tracker.TurnLimitReached())
}

func TestTracker_LedgerSurvivesTurnReset(t *testing.T) {
	settings := newMemSettings()
	tracker := NewTracker(settings, Limits{DailyUSD: 1.00})
	tracker.SetClock(fixedClock("2026-08-29"))
	ctx := context.Background()

	tracker.BeginTurn()
	require.NoError(t, tracker.Add(ctx, 0.40))
	tracker.BeginTurn()
	require.NoError(t, tracker.Add(ctx, 0.70))

	exceeded, reason, err := tracker.CumulativeExceeded(ctx)
	require.NoError(t, err)
	assert.True(t, exceeded)
	assert.Contains(t, reason, "daily budget")
}

func TestTracker_DailyLedgerRollsOver(t *testing.T) {
	settings := newMemSettings()
	tracker := NewTracker(settings, Limits{DailyUSD: 0.50})
	tracker.SetClock(fixedClock("2026-08-29"))
	ctx := context.Background()

	tracker.BeginTurn()
	require.NoError(t, tracker.Add(ctx, 0.60))

	exceeded, _, err := tracker.CumulativeExceeded(ctx)
	require.NoError(t, err)
	require.True(t, exceeded)

	// Next day: the daily ledger starts fresh; the monthly one persists.
	tracker.SetClock(fixedClock("2026-08-30"))
	exceeded, _, err = tracker.CumulativeExceeded(ctx)
	require.NoError(t, err)
	assert.False(t, exceeded)
}

func TestTracker_MonthlyLimitOutlivesDays(t *testing.T) {
	settings := newMemSettings()
	tracker := NewTracker(settings, Limits{MonthlyUSD: 1.00})
	tracker.SetClock(fixedClock("2026-08-01"))
	ctx := context.Background()

	tracker.BeginTurn()
	require.NoError(t, tracker.Add(ctx, 1.20))

	tracker.SetClock(fixedClock("2026-08-20"))
	exceeded, reason, err := tracker.CumulativeExceeded(ctx)
	require.NoError(t, err)
	assert.True(t, exceeded)
	assert.Contains(t, reason, "monthly budget")

	tracker.SetClock(fixedClock("2026-09-01"))
	exceeded, _, err = tracker.CumulativeExceeded(ctx)
	require.NoError(t, err)
	assert.False(t, exceeded)
}

func TestTracker_Snapshot(t *testing.T) {
	tracker := NewTracker(newMemSettings(), Limits{PerTurnUSD: 0.20, DailyUSD: 2, MonthlyUSD: 20})
	tracker.SetClock(fixedClock("2026-08-29"))
	ctx := context.Background()

	tracker.BeginTurn()
	require.NoError(t, tracker.Add(ctx, 0.05))

	snap, err := tracker.Snapshot(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, snap.TurnUSD, 1e-9)
	assert.InDelta(t, 0.05, snap.DayUSD, 1e-9)
	assert.InDelta(t, 0.05, snap.MonthUSD, 1e-9)
	assert.Equal(t, "2026-08-29", snap.DayKey)
	assert.Equal(t, "2026-08", snap.MonthKey)
}
