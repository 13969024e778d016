package scheduler

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/rs/zerolog"
)

// Selection policies accepted by NewSelector.
const (
	PolicyRandom     = "random"
	PolicyRoundRobin = "round_robin"
)

const cursorName = "round_robin"

// Selector picks the accounts to check in the next cycle.
type Selector interface {
	SelectNextBatch(pool []string) []string
}

// CursorStore persists the round-robin position.
type CursorStore interface {
	GetCursor(name string) (int, error)
	SetCursor(name string, pos int) error
}

// NewSelector returns the selector for policy.
func NewSelector(policy string, size int, cursors CursorStore, rng *rand.Rand, log zerolog.Logger) (Selector, error) {
	switch policy {
	case PolicyRandom, "":
		return NewRandomSelector(size, rng), nil
	case PolicyRoundRobin:
		return NewRoundRobinSelector(size, cursors, log), nil
	default:
		return nil, fmt.Errorf("unknown selection policy %q", policy)
	}
}

// RandomSelector samples a fixed number of accounts without replacement.
type RandomSelector struct {
	mu   sync.Mutex
	size int
	rng  *rand.Rand
}

// NewRandomSelector returns a RandomSelector drawing size accounts per batch.
// A nil rng is seeded from the clock.
func NewRandomSelector(size int, rng *rand.Rand) *RandomSelector {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &RandomSelector{size: size, rng: rng}
}

func (s *RandomSelector) SelectNextBatch(pool []string) []string {
	n := batchSize(s.size, len(pool))
	if n == 0 {
		return nil
	}
	s.mu.Lock()
	perm := s.rng.Perm(len(pool))
	s.mu.Unlock()

	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = pool[perm[i]]
	}
	return out
}

// RoundRobinSelector walks the pool in order, continuing where the previous
// batch ended. Every account is checked within ceil(len(pool)/size) cycles.
type RoundRobinSelector struct {
	mu      sync.Mutex
	size    int
	cursors CursorStore
	pos     int
	loaded  bool
	log     zerolog.Logger
}

// NewRoundRobinSelector returns a RoundRobinSelector. A nil cursors keeps the
// position in memory only.
func NewRoundRobinSelector(size int, cursors CursorStore, log zerolog.Logger) *RoundRobinSelector {
	return &RoundRobinSelector{size: size, cursors: cursors, log: log}
}

func (s *RoundRobinSelector) SelectNextBatch(pool []string) []string {
	n := batchSize(s.size, len(pool))
	if n == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded && s.cursors != nil {
		pos, err := s.cursors.GetCursor(cursorName)
		if err != nil {
			s.log.Warn().Err(err).Msg("round-robin cursor unreadable; starting from the top")
			pos = 0
		}
		s.pos = pos
	}
	s.loaded = true

	start := s.pos % len(pool)
	if start < 0 {
		start = 0
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = pool[(start+i)%len(pool)]
	}
	s.pos = (start + n) % len(pool)

	if s.cursors != nil {
		if err := s.cursors.SetCursor(cursorName, s.pos); err != nil {
			s.log.Warn().Err(err).Msg("round-robin cursor save failed")
		}
	}
	return out
}

func batchSize(size, poolLen int) int {
	if size <= 0 || size > poolLen {
		return poolLen
	}
	return size
}
