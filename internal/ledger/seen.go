package ledger

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/developingchet/replybot/internal/feed"
	"github.com/developingchet/replybot/internal/metrics"
	"github.com/developingchet/replybot/internal/storage"
	"github.com/rs/zerolog"
)

// Seen is the durable (account, post id) dedup ledger. Every call is a
// read-modify-write against the store; nothing is cached.
//
// Besides the per-post records, each account keeps a watermark: the highest
// numeric post id ever marked. Posts at or below it count as seen even after
// the janitor has pruned their record.
type Seen struct {
	store storage.Store
	now   func() time.Time
	log   zerolog.Logger
}

// NewSeen creates a Seen ledger. A nil now defaults to time.Now.
func NewSeen(store storage.Store, now func() time.Time, log zerolog.Logger) *Seen {
	if now == nil {
		now = time.Now
	}
	return &Seen{
		store: store,
		now:   now,
		log:   log.With().Str("component", "seen").Logger(),
	}
}

// IsSeen reports whether the post has been observed on account.
// A record that exists but cannot be decoded counts as seen. A hit refreshes
// the record's LastSeen so that posts still in the feed are not pruned.
func (s *Seen) IsSeen(account, postID string) (bool, error) {
	rec, err := s.store.GetSeen(account, postID)
	if errors.Is(err, storage.ErrCorrupt) {
		metrics.StateErrors.WithLabelValues("seen", "load").Inc()
		s.log.Warn().Err(err).Str("account", account).Str("post_id", postID).
			Msg("corrupt seen record; treating post as seen")
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("get seen %s/%s: %w", account, postID, err)
	}
	if rec != nil {
		s.touch(account, postID, *rec)
		return true, nil
	}

	mark, err := s.store.GetWatermark(account)
	if errors.Is(err, storage.ErrCorrupt) {
		metrics.StateErrors.WithLabelValues("seen", "load").Inc()
		s.log.Warn().Err(err).Str("account", account).Msg("corrupt watermark ignored")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get watermark %s: %w", account, err)
	}
	return feed.NotNewer(postID, mark), nil
}

// MarkSeen creates the record or overwrites its replied flag. FirstSeen is
// kept from an existing record.
func (s *Seen) MarkSeen(account, postID string, replied bool) error {
	now := s.now().UTC()
	rec := storage.SeenRecord{FirstSeen: now}
	if existing, err := s.store.GetSeen(account, postID); err == nil && existing != nil {
		rec = *existing
	}
	rec.LastSeen = now
	rec.Replied = replied
	switch {
	case replied && rec.RepliedAt.IsZero():
		rec.RepliedAt = now
	case !replied:
		rec.RepliedAt = time.Time{}
	}
	if err := s.store.PutSeen(account, postID, rec); err != nil {
		return fmt.Errorf("put seen %s/%s: %w", account, postID, err)
	}
	s.raiseWatermark(account, postID)
	return nil
}

// MarkReplied sets replied=true, creating the record if absent.
func (s *Seen) MarkReplied(account, postID string) error {
	return s.MarkSeen(account, postID, true)
}

// Get returns the record for the post, or nil if it was never seen.
func (s *Seen) Get(account, postID string) (*storage.SeenRecord, error) {
	return s.store.GetSeen(account, postID)
}

func (s *Seen) touch(account, postID string, rec storage.SeenRecord) {
	rec.LastSeen = s.now().UTC()
	if err := s.store.PutSeen(account, postID, rec); err != nil {
		metrics.StateErrors.WithLabelValues("seen", "save").Inc()
		s.log.Warn().Err(err).Str("account", account).Str("post_id", postID).
			Msg("refresh last seen failed")
	}
}

// raiseWatermark moves the account's watermark up to postID. Failures are
// logged; the per-post record is already written.
func (s *Seen) raiseWatermark(account, postID string) {
	if _, err := strconv.ParseUint(postID, 10, 64); err != nil {
		return
	}
	mark, err := s.store.GetWatermark(account)
	if err != nil && !errors.Is(err, storage.ErrCorrupt) {
		metrics.StateErrors.WithLabelValues("seen", "load").Inc()
		s.log.Warn().Err(err).Str("account", account).Msg("read watermark failed")
		return
	}
	if err == nil && feed.NotNewer(postID, mark) {
		return
	}
	if err := s.store.SetWatermark(account, postID); err != nil {
		metrics.StateErrors.WithLabelValues("seen", "save").Inc()
		s.log.Warn().Err(err).Str("account", account).Str("post_id", postID).
			Msg("write watermark failed")
	}
}
