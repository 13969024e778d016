package ratelimit

import (
	"sync"
	"time"

	"github.com/developingchet/replybot/internal/metrics"
	"github.com/developingchet/replybot/internal/storage"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Config holds the poll and reply budgets.
type Config struct {
	PollLimitPerDay    int
	ReplyLimitPerDay   int
	ReplyLimitPerMonth int
}

// Usage is a snapshot of one window for logging and the stats command.
type Usage struct {
	Window string
	Used   int
	Limit  int
	Start  time.Time
	Resets time.Time
}

// Limiter answers "may I poll / reply now?" over the persisted counter store.
//
// CanPoll/RecordPoll and CanReply/RecordReply are separate check-then-act
// steps. A single mutex guards every operation so each step sees a consistent
// store; callers running several pollers concurrently should use TryPoll and
// TryReply, which hold the mutex across the check and the record.
type Limiter struct {
	mu       sync.Mutex
	counters *CounterStore
	cfg      Config
	now      func() time.Time
	newID    func() string
	log      zerolog.Logger
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter backed by store.
func New(store storage.Store, cfg Config, log zerolog.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		cfg:   cfg,
		now:   time.Now,
		newID: func() string { return ulid.Make().String() },
		log:   log.With().Str("component", "ratelimit").Logger(),
	}
	for _, o := range opts {
		o(l)
	}
	specs := map[string]WindowSpec{
		WindowPolls:          {Length: Day, Limit: cfg.PollLimitPerDay},
		WindowReplies:        {Length: Day, Limit: cfg.ReplyLimitPerDay},
		WindowRepliesMonthly: {Length: Month, Limit: cfg.ReplyLimitPerMonth},
	}
	for name, spec := range specs {
		metrics.QuotaLimit.WithLabelValues(name).Set(float64(spec.Limit))
	}
	l.counters = NewCounterStore(store, specs, func() time.Time { return l.now() }, l.log)
	return l
}

// CanPoll reports whether the daily poll budget has room.
func (l *Limiter) CanPoll() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canPoll(l.counters.Load())
}

// CanReply reports whether both the daily and monthly reply budgets have room.
func (l *Limiter) CanReply() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canReply(l.counters.Load())
}

// RecordPoll appends one event to the poll window.
func (l *Limiter) RecordPoll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordPoll(l.counters.Load())
}

// RecordReply appends one event carrying postID to both reply windows.
func (l *Limiter) RecordReply(postID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordReply(l.counters.Load(), postID)
}

// TryPoll checks and records a poll atomically.
func (l *Limiter) TryPoll() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := l.counters.Load()
	if !l.canPoll(state) {
		return false
	}
	l.recordPoll(state)
	return true
}

// TryReply checks and records a reply atomically.
func (l *Limiter) TryReply(postID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := l.counters.Load()
	if !l.canReply(state) {
		return false
	}
	l.recordReply(state, postID)
	return true
}

// Usage returns the state of every window, polls first.
func (l *Limiter) Usage() []Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := l.counters.Load()
	out := make([]Usage, 0, len(state))
	for _, name := range []string{WindowPolls, WindowReplies, WindowRepliesMonthly} {
		w := state[name]
		out = append(out, Usage{
			Window: name,
			Used:   w.Count(),
			Limit:  w.Limit,
			Start:  w.Start,
			Resets: w.Start.Add(w.Length),
		})
		metrics.QuotaUsed.WithLabelValues(name).Set(float64(w.Count()))
	}
	return out
}

func (l *Limiter) canPoll(state State) bool {
	w := state[WindowPolls]
	return w.Count() < w.Limit
}

func (l *Limiter) canReply(state State) bool {
	daily := state[WindowReplies]
	monthly := state[WindowRepliesMonthly]
	return daily.Count() < daily.Limit && monthly.Count() < monthly.Limit
}

func (l *Limiter) recordPoll(state State) {
	l.appendEvent(state, WindowPolls, l.newID())
	l.counters.Save(state)
}

func (l *Limiter) recordReply(state State, postID string) {
	l.appendEvent(state, WindowReplies, postID)
	l.appendEvent(state, WindowRepliesMonthly, postID)
	l.counters.Save(state)
}

func (l *Limiter) appendEvent(state State, name, id string) {
	w := state[name]
	w.Events = append(w.Events, storage.WindowEvent{At: l.now(), ID: id})
	state[name] = w
	metrics.QuotaUsed.WithLabelValues(name).Set(float64(w.Count()))
	l.log.Debug().Str("window", name).Str("id", id).Int("used", w.Count()).Int("limit", w.Limit).
		Msg("rate window event recorded")
}
