package scheduler

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/developingchet/replybot/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pool = []string{"a", "b", "c", "d", "e"}

func TestRandomSelector_SampleWithoutReplacement(t *testing.T) {
	s := NewRandomSelector(3, rand.New(rand.NewSource(7)))
	for i := 0; i < 50; i++ {
		batch := s.SelectNextBatch(pool)
		require.Len(t, batch, 3)
		uniq := map[string]bool{}
		for _, a := range batch {
			uniq[a] = true
		}
		assert.Len(t, uniq, 3, "batch must not repeat an account")
	}
}

func TestRandomSelector_ReachesEveryAccount(t *testing.T) {
	s := NewRandomSelector(2, rand.New(rand.NewSource(3)))
	hit := map[string]bool{}
	for i := 0; i < 100; i++ {
		for _, a := range s.SelectNextBatch(pool) {
			hit[a] = true
		}
	}
	assert.Len(t, hit, len(pool))
}

func TestRandomSelector_SizeLargerThanPool(t *testing.T) {
	s := NewRandomSelector(10, rand.New(rand.NewSource(1)))
	batch := s.SelectNextBatch(pool)
	sort.Strings(batch)
	assert.Equal(t, pool, batch)
	assert.Nil(t, s.SelectNextBatch(nil))
}

func TestRoundRobinSelector_CoversPoolInOrder(t *testing.T) {
	s := NewRoundRobinSelector(2, nil, zerolog.Nop())
	assert.Equal(t, []string{"a", "b"}, s.SelectNextBatch(pool))
	assert.Equal(t, []string{"c", "d"}, s.SelectNextBatch(pool))
	assert.Equal(t, []string{"e", "a"}, s.SelectNextBatch(pool))
}

func TestRoundRobinSelector_PersistsCursor(t *testing.T) {
	store := testutil.NewMockStore()
	first := NewRoundRobinSelector(2, store, zerolog.Nop())
	first.SelectNextBatch(pool)

	second := NewRoundRobinSelector(2, store, zerolog.Nop())
	assert.Equal(t, []string{"c", "d"}, second.SelectNextBatch(pool))
}

func TestRoundRobinSelector_CursorErrorStartsAtTop(t *testing.T) {
	store := testutil.NewMockStore()
	require.NoError(t, store.SetCursor(cursorName, 3))
	store.SetError("GetCursor", assert.AnError)

	s := NewRoundRobinSelector(1, store, zerolog.Nop())
	assert.Equal(t, []string{"a"}, s.SelectNextBatch(pool))
}

func TestNewSelector(t *testing.T) {
	s, err := NewSelector(PolicyRoundRobin, 2, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &RoundRobinSelector{}, s)

	s, err = NewSelector(PolicyRandom, 2, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &RandomSelector{}, s)

	_, err = NewSelector("weighted", 2, nil, nil, zerolog.Nop())
	assert.Error(t, err)
}
