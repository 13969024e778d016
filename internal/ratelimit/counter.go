package ratelimit

import (
	"errors"
	"time"

	"github.com/developingchet/replybot/internal/metrics"
	"github.com/developingchet/replybot/internal/storage"
	"github.com/rs/zerolog"
)

// Window names persisted in the counter store.
const (
	WindowPolls          = "polls"
	WindowReplies        = "replies"
	WindowRepliesMonthly = "replies_monthly"
)

const (
	Day   = 24 * time.Hour
	Month = 30 * Day
)

// WindowSpec is the configured shape of a rate window.
type WindowSpec struct {
	Length time.Duration
	Limit  int
}

// State is the set of rate windows after rollover has been applied.
type State map[string]storage.RateWindow

// CounterStore loads and saves rate windows, applying lazy rollover on load.
// Read and write failures never propagate: a corrupt window starts fresh
// while the others keep their counts, an unreadable store yields fresh
// windows, and a failed save is logged.
type CounterStore struct {
	store storage.Store
	specs map[string]WindowSpec
	now   func() time.Time
	log   zerolog.Logger
}

// NewCounterStore creates a CounterStore for the given window specs.
func NewCounterStore(store storage.Store, specs map[string]WindowSpec, now func() time.Time, log zerolog.Logger) *CounterStore {
	if now == nil {
		now = time.Now
	}
	return &CounterStore{
		store: store,
		specs: specs,
		now:   now,
		log:   log,
	}
}

// Load returns the current windows. Windows missing from storage start empty
// at now; expired windows are cleared and their start advanced.
func (c *CounterStore) Load() State {
	now := c.now()
	stored, err := c.store.LoadWindows()
	switch {
	case errors.Is(err, storage.ErrCorrupt):
		metrics.StateErrors.WithLabelValues("counters", "load").Inc()
		c.log.Warn().Err(err).Int("kept", len(stored)).Msg("corrupt counter windows reset")
	case err != nil:
		metrics.StateErrors.WithLabelValues("counters", "load").Inc()
		c.log.Warn().Err(err).Msg("counter store unreadable; starting from empty windows")
		stored = nil
	}

	state := make(State, len(c.specs))
	for name, spec := range c.specs {
		w, ok := stored[name]
		if !ok || w.Start.IsZero() || w.Start.After(now) {
			w = storage.RateWindow{Start: now}
		}
		w.Length = spec.Length
		w.Limit = spec.Limit
		state[name] = rollover(w, now)
	}
	return state
}

// Save persists state. Failures are logged and counted, never returned.
func (c *CounterStore) Save(state State) {
	if err := c.store.SaveWindows(state); err != nil {
		metrics.StateErrors.WithLabelValues("counters", "save").Inc()
		c.log.Warn().Err(err).Msg("counter store save failed; keeping last persisted state")
	}
}

// rollover clears w once more than one window length has elapsed since its
// start. The start advances by whole window lengths so the window boundary
// stays anchored to the original start time.
func rollover(w storage.RateWindow, now time.Time) storage.RateWindow {
	if w.Length <= 0 {
		return w
	}
	elapsed := now.Sub(w.Start)
	if elapsed <= w.Length {
		return w
	}
	periods := elapsed / w.Length
	if elapsed%w.Length == 0 {
		periods--
	}
	w.Start = w.Start.Add(periods * w.Length)
	w.Events = nil
	return w
}
