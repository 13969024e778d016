// Package scheduler drives the poll loop: pick accounts, poll within the
// daily budget, hand new posts to the reply pipeline, then sleep.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/developingchet/replybot/internal/feed"
	"github.com/developingchet/replybot/internal/metrics"
	"github.com/developingchet/replybot/internal/reply"
	"github.com/developingchet/replybot/internal/storage"
	"github.com/rs/zerolog"
)

const (
	defaultMinInterval = 5 * time.Minute
	defaultJitterRange = 0.15
)

// Config holds the scheduler's timing parameters.
type Config struct {
	Pool            []string
	PollLimitPerDay int
	MinInterval     time.Duration
	JitterRange     float64
	AccountDelayMin time.Duration
	AccountDelayMax time.Duration
}

// PollGate is the poll side of the rate limiter.
type PollGate interface {
	CanPoll() bool
	RecordPoll()
}

// SeenChecker answers whether a post was already handled.
type SeenChecker interface {
	IsSeen(account, postID string) (bool, error)
}

// StatsRecorder records the outcome of each poll.
type StatsRecorder interface {
	Update(account string, postsFound, postsNew int) (storage.AccountStats, error)
}

// Processor handles an unseen post.
type Processor interface {
	Process(ctx context.Context, account string, post feed.Post) reply.Result
}

// AccountResult is the outcome of polling one account.
type AccountResult struct {
	Account    string
	PostsFound int
	Newest     string
	New        bool
	Reply      *reply.Result
	Err        error
}

// CycleResult summarises one pass over a batch.
type CycleResult struct {
	QuotaIdle bool
	Aborted   bool
	Batch     []string
	Accounts  []AccountResult
}

// Scheduler runs poll cycles until its context is cancelled.
type Scheduler struct {
	cfg      Config
	gate     PollGate
	selector Selector
	source   feed.Source
	seen     SeenChecker
	stats    StatsRecorder
	pipeline Processor
	log      zerolog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithRand sets the randomness source used for jitter and delays.
func WithRand(rng *rand.Rand) Option {
	return func(s *Scheduler) { s.rng = rng }
}

// WithSleep replaces the context-aware sleep.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) { s.sleep = fn }
}

// New creates a Scheduler.
func New(cfg Config, gate PollGate, selector Selector, source feed.Source, seen SeenChecker,
	stats StatsRecorder, pipeline Processor, log zerolog.Logger, opts ...Option) *Scheduler {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = defaultMinInterval
	}
	if cfg.JitterRange < 0 || cfg.JitterRange >= 1 {
		cfg.JitterRange = defaultJitterRange
	}
	if cfg.AccountDelayMax < cfg.AccountDelayMin {
		cfg.AccountDelayMax = cfg.AccountDelayMin
	}
	s := &Scheduler{
		cfg:      cfg,
		gate:     gate,
		selector: selector,
		source:   source,
		seen:     seen,
		stats:    stats,
		pipeline: pipeline,
		log:      log.With().Str("component", "scheduler").Logger(),
		sleep:    sleepCtx,
	}
	for _, o := range opts {
		o(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return s
}

// BaseInterval is the even spread of the daily poll budget, floored at the
// minimum interval.
func (s *Scheduler) BaseInterval() time.Duration {
	if s.cfg.PollLimitPerDay <= 0 {
		return 24 * time.Hour
	}
	base := 24 * time.Hour / time.Duration(s.cfg.PollLimitPerDay)
	if base < s.cfg.MinInterval {
		return s.cfg.MinInterval
	}
	return base
}

// NextInterval is the base interval scaled by a uniform factor in
// [1-JitterRange, 1+JitterRange].
func (s *Scheduler) NextInterval() time.Duration {
	factor := 1 + s.cfg.JitterRange*(2*s.randFloat()-1)
	return time.Duration(float64(s.BaseInterval()) * factor)
}

// Run loops until ctx is cancelled. It returns nil on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info().Int("accounts", len(s.cfg.Pool)).Dur("base_interval", s.BaseInterval()).
		Msg("scheduler started")
	for {
		if ctx.Err() != nil {
			s.log.Info().Msg("scheduler stopped")
			return nil
		}
		wait := s.cycleAndWait(ctx)
		metrics.NextWaitSeconds.Set(wait.Seconds())
		s.log.Info().Dur("wait", wait).Time("next_cycle", time.Now().Add(wait)).Msg("sleeping until next cycle")
		if err := s.sleep(ctx, wait); err != nil {
			s.log.Info().Msg("scheduler stopped")
			return nil
		}
	}
}

// cycleAndWait runs one cycle and returns how long to wait before the next.
// A panic anywhere in the cycle is recovered and followed by a short wait.
func (s *Scheduler) cycleAndWait(ctx context.Context) (wait time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			metrics.CyclesTotal.WithLabelValues("panic").Inc()
			s.log.Error().Interface("panic", r).Msg("scheduler cycle panicked")
			wait = s.cfg.MinInterval
		}
	}()
	res := s.RunCycle(ctx)
	if res.QuotaIdle {
		return s.BaseInterval()
	}
	return s.NextInterval()
}

// RunCycle checks one batch of accounts.
func (s *Scheduler) RunCycle(ctx context.Context) CycleResult {
	start := time.Now()
	var res CycleResult

	if !s.gate.CanPoll() {
		metrics.CyclesTotal.WithLabelValues("quota_idle").Inc()
		metrics.PollsTotal.WithLabelValues("quota_exhausted").Inc()
		s.log.Info().Msg("quota idle; daily poll budget exhausted")
		res.QuotaIdle = true
		return res
	}

	res.Batch = s.selector.SelectNextBatch(s.cfg.Pool)
	s.log.Info().Strs("batch", res.Batch).Msg("cycle started")

	for i, account := range res.Batch {
		if ctx.Err() != nil {
			res.Aborted = true
			break
		}
		if !s.gate.CanPoll() {
			metrics.PollsTotal.WithLabelValues("quota_exhausted").Inc()
			s.log.Info().Str("account", account).Int("remaining", len(res.Batch)-i).
				Msg("poll budget reached mid-batch; aborting cycle")
			res.Aborted = true
			break
		}

		res.Accounts = append(res.Accounts, s.checkAccount(ctx, account))

		if i < len(res.Batch)-1 {
			if err := s.sleep(ctx, s.accountDelay()); err != nil {
				res.Aborted = true
				break
			}
		}
	}

	outcome := "completed"
	if res.Aborted {
		outcome = "aborted"
	}
	metrics.CyclesTotal.WithLabelValues(outcome).Inc()
	metrics.CycleDuration.Observe(time.Since(start).Seconds())
	s.log.Info().Int("checked", len(res.Accounts)).Bool("aborted", res.Aborted).
		Dur("elapsed", time.Since(start)).Msg("cycle finished")
	return res
}

// checkAccount polls one account. The poll is recorded before the fetch so a
// failed fetch still counts against the budget.
func (s *Scheduler) checkAccount(ctx context.Context, account string) (ar AccountResult) {
	ar.Account = account
	log := s.log.With().Str("account", account).Logger()

	defer func() {
		if r := recover(); r != nil {
			ar.Err = fmt.Errorf("panic: %v", r)
			log.Error().Interface("panic", r).Msg("account check panicked")
		}
		newCount := 0
		if ar.New {
			newCount = 1
		}
		if _, err := s.stats.Update(account, ar.PostsFound, newCount); err != nil {
			log.Warn().Err(err).Msg("stats update failed")
		}
	}()

	s.gate.RecordPoll()

	posts, err := s.source.Fetch(ctx, account)
	if err != nil {
		metrics.PollsTotal.WithLabelValues("error").Inc()
		log.Warn().Err(err).Msg("feed fetch failed")
		ar.Err = err
		return ar
	}
	metrics.PollsTotal.WithLabelValues("ok").Inc()
	ar.PostsFound = len(posts)

	newest, ok := feed.Newest(posts)
	if !ok {
		metrics.PostsEvaluated.WithLabelValues("empty").Inc()
		log.Debug().Msg("feed has no posts")
		return ar
	}
	ar.Newest = newest.ID

	seen, err := s.seen.IsSeen(account, newest.ID)
	if err != nil {
		log.Warn().Err(err).Str("post_id", newest.ID).Msg("seen check failed; skipping post")
		ar.Err = err
		return ar
	}
	if seen {
		metrics.PostsEvaluated.WithLabelValues("seen").Inc()
		log.Debug().Str("post_id", newest.ID).Msg("newest post already seen")
		return ar
	}

	metrics.PostsEvaluated.WithLabelValues("new").Inc()
	ar.New = true
	log.Info().Str("post_id", newest.ID).Msg("new post found")

	r := s.pipeline.Process(ctx, account, newest)
	ar.Reply = &r
	return ar
}

func (s *Scheduler) accountDelay() time.Duration {
	lo, hi := s.cfg.AccountDelayMin, s.cfg.AccountDelayMax
	if hi <= lo {
		return lo
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return lo + time.Duration(s.rng.Int63n(int64(hi-lo)+1))
}

func (s *Scheduler) randFloat() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ErrNoAccounts is returned by Validate for an empty pool.
var ErrNoAccounts = errors.New("account pool is empty")

// Validate checks the configuration before the loop starts.
func (c Config) Validate() error {
	if len(c.Pool) == 0 {
		return ErrNoAccounts
	}
	return nil
}
