// Package reply turns an unseen post into a published reply.
package reply

import (
	"context"
	"fmt"
	"strings"

	"github.com/developingchet/replybot/internal/feed"
	"github.com/developingchet/replybot/internal/generator"
	"github.com/developingchet/replybot/internal/metrics"
	"github.com/developingchet/replybot/internal/publisher"
	"github.com/rs/zerolog"
)

// Status is the terminal state of one pipeline run.
type Status string

const (
	StatusSent    Status = "sent"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Reasons attached to non-sent results.
const (
	ReasonMarkSeen    = "mark_seen"
	ReasonGenerate    = "generate"
	ReasonRateLimited = "rate_limited"
	ReasonPublish     = "publish"
)

// Kind classifies what a post carries.
type Kind string

const (
	KindText  Kind = "text"
	KindMedia Kind = "media"
)

// Result describes what happened to a post.
type Result struct {
	Status Status
	Reason string
	Kind   Kind
	Reply  string
	Err    error
}

// Ledger is the subset of the seen ledger the pipeline writes to.
type Ledger interface {
	MarkSeen(account, postID string, replied bool) error
	MarkReplied(account, postID string) error
}

// Gate is the reply side of the rate limiter.
type Gate interface {
	CanReply() bool
	RecordReply(postID string)
}

// Pipeline runs classify, generate, gate, publish and record for one post.
type Pipeline struct {
	ledger    Ledger
	gate      Gate
	generator generator.Generator
	publisher publisher.Publisher
	log       zerolog.Logger
}

// New creates a Pipeline.
func New(ledger Ledger, gate Gate, gen generator.Generator, pub publisher.Publisher, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		ledger:    ledger,
		gate:      gate,
		generator: gen,
		publisher: pub,
		log:       log.With().Str("component", "reply").Logger(),
	}
}

// Classify returns the post kind and the text handed to the generator.
func Classify(account string, post feed.Post) (Kind, string) {
	text := strings.TrimSpace(strings.TrimSpace(post.Title) + " " + strings.TrimSpace(post.Content))
	if text != "" {
		return KindText, text
	}
	return KindMedia, fmt.Sprintf("@%s shared a photo or video without any text", account)
}

// Process handles a post the caller has already found unseen. The post is
// marked seen before anything else, so a failure later on never causes it to
// be processed again.
func (p *Pipeline) Process(ctx context.Context, account string, post feed.Post) Result {
	log := p.log.With().Str("account", account).Str("post_id", post.ID).Logger()

	if err := p.ledger.MarkSeen(account, post.ID, false); err != nil {
		return p.finish(log, Result{Status: StatusFailed, Reason: ReasonMarkSeen, Err: err})
	}

	kind, postText := Classify(account, post)

	text, err := p.generator.Generate(ctx, postText, account)
	if err == nil && strings.TrimSpace(text) == "" {
		err = generator.ErrEmptyReply
	}
	if err != nil {
		return p.finish(log, Result{Status: StatusFailed, Reason: ReasonGenerate, Kind: kind, Err: err})
	}
	text = strings.TrimSpace(text)

	if !p.gate.CanReply() {
		return p.finish(log, Result{Status: StatusSkipped, Reason: ReasonRateLimited, Kind: kind, Reply: text})
	}

	if err := p.publisher.Publish(ctx, post.ID, text); err != nil {
		return p.finish(log, Result{Status: StatusFailed, Reason: ReasonPublish, Kind: kind, Reply: text, Err: err})
	}

	p.gate.RecordReply(post.ID)
	if err := p.ledger.MarkReplied(account, post.ID); err != nil {
		// The reply is out and counted; only the flag is missing.
		log.Warn().Err(err).Msg("reply published but replied flag not stored")
		metrics.StateErrors.WithLabelValues("seen", "save").Inc()
	}
	return p.finish(log, Result{Status: StatusSent, Kind: kind, Reply: text})
}

func (p *Pipeline) finish(log zerolog.Logger, r Result) Result {
	reason := r.Reason
	if reason == "" {
		reason = "none"
	}
	metrics.RepliesTotal.WithLabelValues(string(r.Status), reason).Inc()

	switch r.Status {
	case StatusSent:
		log.Info().Str("kind", string(r.Kind)).Str("reply", r.Reply).Msg("reply sent")
	case StatusSkipped:
		log.Info().Str("reason", r.Reason).Msg("reply skipped")
	default:
		log.Error().Err(r.Err).Str("stage", r.Reason).Msg("reply failed")
	}
	return r
}
