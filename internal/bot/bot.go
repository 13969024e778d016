// Package bot wires the scheduler, reply pipeline, and housekeeping into a
// single long-running process.
package bot

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/developingchet/replybot/internal/config"
	"github.com/developingchet/replybot/internal/feed"
	"github.com/developingchet/replybot/internal/generator"
	"github.com/developingchet/replybot/internal/ledger"
	"github.com/developingchet/replybot/internal/publisher"
	"github.com/developingchet/replybot/internal/ratelimit"
	"github.com/developingchet/replybot/internal/reply"
	"github.com/developingchet/replybot/internal/scheduler"
	"github.com/developingchet/replybot/internal/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// BinaryVersion is set at startup from the -X main.Version ldflags value.
var BinaryVersion = "dev"

// rehearsalReply is published (to the log) when test mode runs without a
// generator key.
const rehearsalReply = "Love seeing this progress, keep shipping!"

// Bot owns every long-lived component.
type Bot struct {
	cfg       *config.Config
	store     storage.Store
	limiter   *ratelimit.Limiter
	seen      *ledger.Seen
	stats     *ledger.Stats
	scheduler *scheduler.Scheduler
	janitor   *Janitor
	log       zerolog.Logger

	source    feed.Source
	generator generator.Generator
	publisher publisher.Publisher
	schedOpts []scheduler.Option
}

// Option customises a Bot.
type Option func(*Bot)

// WithSource replaces the RSS feed source.
func WithSource(s feed.Source) Option { return func(b *Bot) { b.source = s } }

// WithGenerator replaces the Anthropic generator.
func WithGenerator(g generator.Generator) Option { return func(b *Bot) { b.generator = g } }

// WithPublisher replaces the X publisher.
func WithPublisher(p publisher.Publisher) Option { return func(b *Bot) { b.publisher = p } }

// WithSchedulerOptions passes options through to the scheduler.
func WithSchedulerOptions(opts ...scheduler.Option) Option {
	return func(b *Bot) { b.schedOpts = append(b.schedOpts, opts...) }
}

// New constructs a fully wired Bot.
func New(cfg *config.Config, store storage.Store, log zerolog.Logger, opts ...Option) (*Bot, error) {
	b := &Bot{cfg: cfg, store: store, log: log}
	for _, o := range opts {
		o(b)
	}

	if b.source == nil {
		src, err := feed.NewRSSSource(feed.RSSConfig{
			URLTemplate: cfg.FeedURLTemplate,
			Timeout:     cfg.FeedHTTPTimeout,
			UserAgent:   cfg.FeedUserAgent + "/" + BinaryVersion,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("build feed source: %w", err)
		}
		b.source = src
	}

	if b.generator == nil {
		if cfg.TestMode && cfg.AnthropicAPIKey == "" {
			log.Warn().Msg("test mode without ANTHROPIC_API_KEY; using a canned reply")
			b.generator = generator.Canned{Reply: rehearsalReply}
		} else {
			b.generator = generator.NewAnthropic(generator.AnthropicConfig{
				BaseURL:      cfg.AnthropicBaseURL,
				APIKey:       cfg.AnthropicAPIKey,
				Model:        cfg.AnthropicModel,
				MaxTokens:    cfg.AnthropicMaxTokens,
				Temperature:  cfg.AnthropicTemperature,
				SystemPrompt: cfg.GeneratorSystemPrompt,
				Timeout:      cfg.AnthropicHTTPTimeout,
				Debug:        cfg.APIDebug,
			}, log)
		}
	}

	if b.publisher == nil {
		if cfg.TestMode {
			b.publisher = publisher.NewNoop(log)
		} else {
			b.publisher = publisher.NewX(publisher.XConfig{
				BaseURL:     cfg.XAPIBaseURL,
				BearerToken: cfg.XBearerToken,
				Timeout:     cfg.PublishHTTPTimeout,
				Debug:       cfg.APIDebug,
			}, log)
		}
	}

	b.limiter = ratelimit.New(store, ratelimit.Config{
		PollLimitPerDay:    cfg.PollLimitPerDay,
		ReplyLimitPerDay:   cfg.ReplyLimitPerDay,
		ReplyLimitPerMonth: cfg.ReplyLimitPerMonth,
	}, log)
	b.seen = ledger.NewSeen(store, nil, log)
	b.stats = ledger.NewStats(store, nil, log)

	selector, err := scheduler.NewSelector(cfg.SelectionPolicy, cfg.AccountsPerCycle, store,
		rand.New(rand.NewSource(time.Now().UnixNano())), log)
	if err != nil {
		return nil, err
	}

	pipeline := reply.New(b.seen, b.limiter, b.generator, b.publisher, log)
	b.scheduler = scheduler.New(scheduler.Config{
		Pool:            cfg.AccountPool,
		PollLimitPerDay: cfg.PollLimitPerDay,
		MinInterval:     cfg.MinInterval,
		JitterRange:     cfg.JitterRange,
		AccountDelayMin: cfg.AccountDelayMin,
		AccountDelayMax: cfg.AccountDelayMax,
	}, b.limiter, selector, b.source, b.seen, b.stats, pipeline, log, b.schedOpts...)

	b.janitor = NewJanitor(store, b.limiter, cfg.JanitorInterval, cfg.SeenRetention, log)
	return b, nil
}

// Run starts all goroutines and blocks until ctx is cancelled or a server fails.
func (b *Bot) Run(ctx context.Context) error {
	b.log.Info().Strs("accounts", b.cfg.AccountPool).Bool("test_mode", b.cfg.TestMode).
		Str("policy", b.cfg.SelectionPolicy).Msg("bot starting")
	b.logUsage()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return b.scheduler.Run(gctx)
	})

	g.Go(func() error {
		return b.janitor.Run(gctx)
	})

	if b.cfg.MetricsEnabled {
		g.Go(func() error {
			return b.serve(gctx, "metrics", b.cfg.MetricsAddr, metricsMux())
		})
	}

	g.Go(func() error {
		return b.serve(gctx, "health", b.cfg.HealthAddr, b.healthMux())
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// RunOnce runs a single scheduler cycle and returns its outcome.
func (b *Bot) RunOnce(ctx context.Context) scheduler.CycleResult {
	res := b.scheduler.RunCycle(ctx)
	b.logUsage()
	return res
}

// Usage returns the current quota windows.
func (b *Bot) Usage() []ratelimit.Usage {
	return b.limiter.Usage()
}

func (b *Bot) logUsage() {
	for _, u := range b.limiter.Usage() {
		b.log.Info().Str("window", u.Window).Int("used", u.Used).Int("limit", u.Limit).
			Time("resets", u.Resets).Msg("quota usage")
	}
}
