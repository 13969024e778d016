package storage

import (
	"errors"
	"time"
)

// ErrCorrupt is wrapped by load operations when a persisted record cannot be decoded.
var ErrCorrupt = errors.New("corrupt record")

// WindowEvent is a single counted action inside a RateWindow.
type WindowEvent struct {
	At time.Time
	ID string // opaque: ULID for polls, post id for replies
}

// RateWindow is a named counting window with lazy rollover.
type RateWindow struct {
	Events []WindowEvent
	Start  time.Time
	Length time.Duration
	Limit  int
}

// Count returns the number of events recorded in the current window.
func (w RateWindow) Count() int {
	return len(w.Events)
}

// SeenRecord tracks a post observed on an account.
type SeenRecord struct {
	FirstSeen time.Time
	LastSeen  time.Time // refreshed each time the post shows up again
	Replied   bool
	RepliedAt time.Time // zero until Replied
}

// LastActivity is LastSeen, or FirstSeen for records written before
// LastSeen existed.
func (r SeenRecord) LastActivity() time.Time {
	if r.LastSeen.After(r.FirstSeen) {
		return r.LastSeen
	}
	return r.FirstSeen
}

// AccountStats holds per-account polling counters.
type AccountStats struct {
	TotalPolls     int
	TotalPostsSeen int
	NewPostsSeen   int
	HitRate        float64
}

// StatsState is the whole stats ledger, reset together once per epoch.
type StatsState struct {
	LastReset time.Time
	Accounts  map[string]AccountStats
}

// Store is the persistence interface for the bot.
type Store interface {
	// Counter windows, keyed by window name. LoadWindows returns the
	// decodable windows alongside an ErrCorrupt error; SaveWindows
	// replaces the whole set.
	LoadWindows() (map[string]RateWindow, error)
	SaveWindows(windows map[string]RateWindow) error

	// Seen ledger
	GetSeen(account, postID string) (*SeenRecord, error)
	PutSeen(account, postID string, rec SeenRecord) error
	CountSeen() (int, error)
	PruneSeen(before time.Time) (int, error)

	// Stats ledger
	LoadStats() (*StatsState, error)
	SaveStats(state StatsState) error

	// Per-account newest seen post id. Survives seen-record pruning.
	GetWatermark(account string) (string, error)
	SetWatermark(account, postID string) error

	// Scheduler cursors (round-robin position)
	GetCursor(name string) (int, error)
	SetCursor(name string, pos int) error

	// Utility
	SizeBytes() (int64, error)
	Close() error
}
