package ledger

import (
	"fmt"
	"time"

	"github.com/developingchet/replybot/internal/metrics"
	"github.com/developingchet/replybot/internal/storage"
	"github.com/rs/zerolog"
)

// StatsEpoch is how long per-account counters accumulate before every
// account is reset together.
const StatsEpoch = 30 * 24 * time.Hour

// Stats is the durable per-account polling ledger.
type Stats struct {
	store storage.Store
	now   func() time.Time
	log   zerolog.Logger
}

// NewStats creates a Stats ledger. A nil now defaults to time.Now.
func NewStats(store storage.Store, now func() time.Time, log zerolog.Logger) *Stats {
	if now == nil {
		now = time.Now
	}
	return &Stats{
		store: store,
		now:   now,
		log:   log.With().Str("component", "stats").Logger(),
	}
}

// Update records one poll of account that found postsFound posts, postsNew of
// them new, and returns the updated counters.
func (s *Stats) Update(account string, postsFound, postsNew int) (storage.AccountStats, error) {
	state := s.load()

	st := state.Accounts[account]
	st.TotalPolls++
	st.TotalPostsSeen += postsFound
	st.NewPostsSeen += postsNew
	st.HitRate = float64(st.NewPostsSeen) / float64(st.TotalPolls)
	state.Accounts[account] = st

	metrics.AccountHitRate.WithLabelValues(account).Set(st.HitRate)

	if err := s.store.SaveStats(state); err != nil {
		metrics.StateErrors.WithLabelValues("stats", "save").Inc()
		return st, fmt.Errorf("save stats: %w", err)
	}
	return st, nil
}

// Snapshot returns the ledger after applying any due epoch reset.
func (s *Stats) Snapshot() storage.StatsState {
	return s.load()
}

// load reads the ledger, degrading to an empty one when missing or
// unreadable, and clears every account once the epoch has elapsed.
func (s *Stats) load() storage.StatsState {
	now := s.now().UTC()
	fresh := storage.StatsState{LastReset: now, Accounts: make(map[string]storage.AccountStats)}

	state, err := s.store.LoadStats()
	if err != nil {
		metrics.StateErrors.WithLabelValues("stats", "load").Inc()
		s.log.Warn().Err(err).Msg("stats ledger unreadable; starting a new epoch")
		return fresh
	}
	if state == nil {
		return fresh
	}
	if now.Sub(state.LastReset) > StatsEpoch {
		s.log.Info().Time("last_reset", state.LastReset).Int("accounts", len(state.Accounts)).
			Msg("stats epoch elapsed; resetting all accounts")
		metrics.AccountHitRate.Reset()
		return fresh
	}
	if state.Accounts == nil {
		state.Accounts = make(map[string]storage.AccountStats)
	}
	return *state
}
