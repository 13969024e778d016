package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/developingchet/replybot/internal/feed"
	"github.com/developingchet/replybot/internal/generator"
	"github.com/developingchet/replybot/internal/publisher"
)

// MockSource implements feed.Source with per-account canned posts.
type MockSource struct {
	mu     sync.Mutex
	posts  map[string][]feed.Post
	errors map[string]error // account -> next error
	calls  []string
}

// NewMockSource returns an empty MockSource.
func NewMockSource() *MockSource {
	return &MockSource{
		posts:  make(map[string][]feed.Post),
		errors: make(map[string]error),
	}
}

// SetPosts replaces the posts returned for account.
func (m *MockSource) SetPosts(account string, posts ...feed.Post) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts[account] = append([]feed.Post(nil), posts...)
}

// SetError makes the next Fetch for account fail with err.
func (m *MockSource) SetError(account string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[account] = err
}

// Calls returns the accounts fetched, in order.
func (m *MockSource) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockSource) Fetch(_ context.Context, account string) ([]feed.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, account)
	if err, ok := m.errors[account]; ok {
		delete(m.errors, account)
		return nil, err
	}
	return append([]feed.Post(nil), m.posts[account]...), nil
}

// MockGenerator implements generator.Generator.
type MockGenerator struct {
	mu    sync.Mutex
	Reply string
	err   error
	calls []string // post text per call
}

// NewMockGenerator returns a MockGenerator that answers with reply.
func NewMockGenerator(reply string) *MockGenerator {
	return &MockGenerator{Reply: reply}
}

// SetError makes every Generate call fail with err until cleared with nil.
func (m *MockGenerator) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the post text passed to each Generate call.
func (m *MockGenerator) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockGenerator) Generate(_ context.Context, postText, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, postText)
	if m.err != nil {
		return "", m.err
	}
	return strings.TrimSpace(m.Reply), nil
}

// Published is one call recorded by MockPublisher.
type Published struct {
	PostID string
	Text   string
}

// MockPublisher implements publisher.Publisher.
type MockPublisher struct {
	mu    sync.Mutex
	err   error
	calls []Published
}

// NewMockPublisher returns a MockPublisher that accepts every reply.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// SetError makes every Publish call fail with err until cleared with nil.
func (m *MockPublisher) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns every Publish call, including failed ones.
func (m *MockPublisher) Calls() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Published(nil), m.calls...)
}

func (m *MockPublisher) Publish(_ context.Context, postID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Published{PostID: postID, Text: text})
	return m.err
}

var (
	_ feed.Source         = (*MockSource)(nil)
	_ generator.Generator = (*MockGenerator)(nil)
	_ publisher.Publisher = (*MockPublisher)(nil)
)
