package bot

import (
	"context"
	"time"

	"github.com/developingchet/replybot/internal/metrics"
	"github.com/developingchet/replybot/internal/ratelimit"
	"github.com/developingchet/replybot/internal/storage"
	"github.com/rs/zerolog"
)

// QuotaReporter exposes rate window usage.
type QuotaReporter interface {
	Usage() []ratelimit.Usage
}

// Janitor performs periodic housekeeping: pruning old seen records, updating gauges.
type Janitor struct {
	store     storage.Store
	quota     QuotaReporter
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewJanitor creates a Janitor. A zero retention disables pruning.
func NewJanitor(store storage.Store, quota QuotaReporter, interval, retention time.Duration, log zerolog.Logger) *Janitor {
	return &Janitor{
		store:     store,
		quota:     quota,
		interval:  interval,
		retention: retention,
		now:       time.Now,
		log:       log,
	}
}

// Run executes the janitor loop until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run immediately on start
	j.tick()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.tick()
		}
	}
}

func (j *Janitor) tick() {
	if j.retention > 0 {
		cutoff := j.now().Add(-j.retention)
		pruned, err := j.store.PruneSeen(cutoff)
		if err != nil {
			j.log.Warn().Err(err).Msg("janitor: prune seen records failed")
		} else if pruned > 0 {
			j.log.Info().Int("count", pruned).Time("cutoff", cutoff).Msg("janitor: pruned seen records")
		}
	}

	if n, err := j.store.CountSeen(); err != nil {
		j.log.Warn().Err(err).Msg("janitor: count seen records failed")
	} else {
		metrics.SeenRecords.Set(float64(n))
	}

	size, err := j.store.SizeBytes()
	if err != nil {
		j.log.Warn().Err(err).Msg("janitor: read db size failed")
	} else {
		metrics.DBSizeBytes.Set(float64(size))
	}

	// Usage refreshes the quota gauges as a side effect.
	if j.quota != nil {
		for _, u := range j.quota.Usage() {
			j.log.Debug().Str("window", u.Window).Int("used", u.Used).Int("limit", u.Limit).
				Time("resets", u.Resets).Msg("janitor: quota usage")
		}
	}

	j.log.Debug().Msg("janitor: tick complete")
}
