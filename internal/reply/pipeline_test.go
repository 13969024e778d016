package reply

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/developingchet/replybot/internal/feed"
	"github.com/developingchet/replybot/internal/ledger"
	"github.com/developingchet/replybot/internal/ratelimit"
	"github.com/developingchet/replybot/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *testutil.MockStore
	seen    *ledger.Seen
	limiter *ratelimit.Limiter
	gen     *testutil.MockGenerator
	pub     *testutil.MockPublisher
	p       *Pipeline
}

func newFixture(t *testing.T, cfg ratelimit.Config) *fixture {
	t.Helper()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	f := &fixture{
		store: testutil.NewMockStore(),
		gen:   testutil.NewMockGenerator("Love this, ship it!"),
		pub:   testutil.NewMockPublisher(),
	}
	f.seen = ledger.NewSeen(f.store, clock, zerolog.Nop())
	f.limiter = ratelimit.New(f.store, cfg, zerolog.Nop(), ratelimit.WithClock(clock))
	f.p = New(f.seen, f.limiter, f.gen, f.pub, zerolog.Nop())
	return f
}

func defaultLimits() ratelimit.Config {
	return ratelimit.Config{PollLimitPerDay: 100, ReplyLimitPerDay: 17, ReplyLimitPerMonth: 500}
}

func replyCount(t *testing.T, l *ratelimit.Limiter) int {
	t.Helper()
	for _, u := range l.Usage() {
		if u.Window == ratelimit.WindowReplies {
			return u.Used
		}
	}
	t.Fatal("replies window missing")
	return 0
}

func TestProcess_Sent(t *testing.T) {
	f := newFixture(t, defaultLimits())
	post := feed.Post{ID: "100", Title: "shipped v2", Content: "billing page"}

	res := f.p.Process(context.Background(), "acct1", post)

	require.Equal(t, StatusSent, res.Status)
	assert.Equal(t, KindText, res.Kind)
	assert.Equal(t, "Love this, ship it!", res.Reply)
	assert.Equal(t, []string{"shipped v2 billing page"}, f.gen.Calls())
	assert.Equal(t, []testutil.Published{{PostID: "100", Text: "Love this, ship it!"}}, f.pub.Calls())
	assert.Equal(t, 1, replyCount(t, f.limiter))

	rec, err := f.seen.Get("acct1", "100")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Replied)
}

func TestProcess_MediaPost(t *testing.T) {
	f := newFixture(t, defaultLimits())

	res := f.p.Process(context.Background(), "acct1", feed.Post{ID: "7"})

	require.Equal(t, StatusSent, res.Status)
	assert.Equal(t, KindMedia, res.Kind)
	require.Len(t, f.gen.Calls(), 1)
	assert.Contains(t, f.gen.Calls()[0], "@acct1")
}

func TestProcess_GeneratorFailure(t *testing.T) {
	f := newFixture(t, defaultLimits())
	f.gen.SetError(errors.New("model overloaded"))

	res := f.p.Process(context.Background(), "acct1", feed.Post{ID: "100", Title: "t"})

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, ReasonGenerate, res.Reason)
	assert.Error(t, res.Err)
	assert.Empty(t, f.pub.Calls(), "publisher must not be called")
	assert.Equal(t, 0, replyCount(t, f.limiter))

	rec, err := f.seen.Get("acct1", "100")
	require.NoError(t, err)
	require.NotNil(t, rec, "post must be marked seen before generation")
	assert.False(t, rec.Replied)
}

func TestProcess_EmptyReply(t *testing.T) {
	f := newFixture(t, defaultLimits())
	f.gen.Reply = "   "

	res := f.p.Process(context.Background(), "acct1", feed.Post{ID: "100", Title: "t"})

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, ReasonGenerate, res.Reason)
	assert.Empty(t, f.pub.Calls())
}

func TestProcess_RateLimited(t *testing.T) {
	f := newFixture(t, ratelimit.Config{PollLimitPerDay: 100, ReplyLimitPerDay: 0, ReplyLimitPerMonth: 500})

	res := f.p.Process(context.Background(), "acct1", feed.Post{ID: "100", Title: "t"})

	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, ReasonRateLimited, res.Reason)
	assert.Len(t, f.gen.Calls(), 1, "generation happens before the gate")
	assert.Empty(t, f.pub.Calls())

	ok, err := f.seen.IsSeen("acct1", "100")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProcess_PublishFailure(t *testing.T) {
	f := newFixture(t, defaultLimits())
	f.pub.SetError(errors.New("503"))

	res := f.p.Process(context.Background(), "acct1", feed.Post{ID: "100", Title: "t"})

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, ReasonPublish, res.Reason)
	assert.Equal(t, 0, replyCount(t, f.limiter))
	rec, _ := f.seen.Get("acct1", "100")
	require.NotNil(t, rec)
	assert.False(t, rec.Replied)
}

func TestProcess_MarkSeenFailureStops(t *testing.T) {
	f := newFixture(t, defaultLimits())
	f.store.SetStickyError("PutSeen", errors.New("disk full"))

	res := f.p.Process(context.Background(), "acct1", feed.Post{ID: "100", Title: "t"})

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, ReasonMarkSeen, res.Reason)
	assert.Empty(t, f.gen.Calls())
	assert.Empty(t, f.pub.Calls())
}

func TestProcess_BurstNeverExceedsDailyLimit(t *testing.T) {
	f := newFixture(t, ratelimit.Config{PollLimitPerDay: 100, ReplyLimitPerDay: 3, ReplyLimitPerMonth: 500})

	sent := 0
	for i := 0; i < 10; i++ {
		res := f.p.Process(context.Background(), "acct1", feed.Post{ID: string(rune('a' + i)), Title: "t"})
		if res.Status == StatusSent {
			sent++
		}
	}
	assert.Equal(t, 3, sent)
	assert.Len(t, f.pub.Calls(), 3)
}

func TestClassify(t *testing.T) {
	kind, text := Classify("acct1", feed.Post{Title: "  hi ", Content: ""})
	assert.Equal(t, KindText, kind)
	assert.Equal(t, "hi", text)

	kind, _ = Classify("acct1", feed.Post{Title: " ", Content: "\n"})
	assert.Equal(t, KindMedia, kind)
}
