package testutil

import (
	"strings"
	"sync"
	"time"

	"github.com/developingchet/replybot/internal/storage"
)

// MockStore implements storage.Store with in-memory maps for testing.
// All methods are safe for concurrent use.
type MockStore struct {
	mu      sync.Mutex
	windows map[string]storage.RateWindow
	seen    map[string]storage.SeenRecord // "account/post" -> record
	stats   *storage.StatsState
	cursors map[string]int
	marks   map[string]string

	// Error injection: method -> next error (consumed on first call)
	errors map[string]error
	// Sticky errors are returned on every call until cleared.
	sticky map[string]error

	calls map[string]int

	// SizeBytes value returned by SizeBytes()
	Size int64
}

// NewMockStore returns a zero-state MockStore ready for use.
func NewMockStore() *MockStore {
	return &MockStore{
		windows: make(map[string]storage.RateWindow),
		seen:    make(map[string]storage.SeenRecord),
		cursors: make(map[string]int),
		marks:   make(map[string]string),
		errors:  make(map[string]error),
		sticky:  make(map[string]error),
		calls:   make(map[string]int),
		Size:    1024,
	}
}

// SetError injects an error to be returned on the next call to the named method.
func (m *MockStore) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = err
}

// SetStickyError makes every call to method fail with err; nil clears it.
func (m *MockStore) SetStickyError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.sticky, method)
		return
	}
	m.sticky[method] = err
}

// Calls returns how many times method has been invoked.
func (m *MockStore) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MockStore) enter(method string) error {
	m.calls[method]++
	if err, ok := m.sticky[method]; ok {
		return err
	}
	err := m.errors[method]
	delete(m.errors, method)
	return err
}

func key(account, postID string) string {
	return strings.ToLower(account) + "/" + postID
}

func copyWindow(w storage.RateWindow) storage.RateWindow {
	if w.Events != nil {
		w.Events = append([]storage.WindowEvent(nil), w.Events...)
	}
	return w
}

// --- Counter windows --------------------------------------------------------

func (m *MockStore) LoadWindows() (map[string]storage.RateWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("LoadWindows"); err != nil {
		return nil, err
	}
	out := make(map[string]storage.RateWindow, len(m.windows))
	for k, w := range m.windows {
		out[k] = copyWindow(w)
	}
	return out, nil
}

func (m *MockStore) SaveWindows(windows map[string]storage.RateWindow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SaveWindows"); err != nil {
		return err
	}
	m.windows = make(map[string]storage.RateWindow, len(windows))
	for k, w := range windows {
		m.windows[k] = copyWindow(w)
	}
	return nil
}

// --- Seen ledger ------------------------------------------------------------

func (m *MockStore) GetSeen(account, postID string) (*storage.SeenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetSeen"); err != nil {
		return nil, err
	}
	rec, ok := m.seen[key(account, postID)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MockStore) PutSeen(account, postID string, rec storage.SeenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("PutSeen"); err != nil {
		return err
	}
	m.seen[key(account, postID)] = rec
	return nil
}

func (m *MockStore) CountSeen() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CountSeen"); err != nil {
		return 0, err
	}
	return len(m.seen), nil
}

func (m *MockStore) PruneSeen(before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("PruneSeen"); err != nil {
		return 0, err
	}
	pruned := 0
	for k, rec := range m.seen {
		if rec.LastActivity().Before(before) {
			delete(m.seen, k)
			pruned++
		}
	}
	return pruned, nil
}

// --- Stats ledger -----------------------------------------------------------

func (m *MockStore) LoadStats() (*storage.StatsState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("LoadStats"); err != nil {
		return nil, err
	}
	if m.stats == nil {
		return nil, nil
	}
	cp := storage.StatsState{
		LastReset: m.stats.LastReset,
		Accounts:  make(map[string]storage.AccountStats, len(m.stats.Accounts)),
	}
	for k, v := range m.stats.Accounts {
		cp.Accounts[k] = v
	}
	return &cp, nil
}

func (m *MockStore) SaveStats(state storage.StatsState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SaveStats"); err != nil {
		return err
	}
	cp := storage.StatsState{
		LastReset: state.LastReset,
		Accounts:  make(map[string]storage.AccountStats, len(state.Accounts)),
	}
	for k, v := range state.Accounts {
		cp.Accounts[k] = v
	}
	m.stats = &cp
	return nil
}

// --- Cursors ----------------------------------------------------------------

func (m *MockStore) GetCursor(name string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetCursor"); err != nil {
		return 0, err
	}
	return m.cursors[name], nil
}

func (m *MockStore) SetCursor(name string, pos int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SetCursor"); err != nil {
		return err
	}
	m.cursors[name] = pos
	return nil
}

// --- Watermarks -------------------------------------------------------------

func (m *MockStore) GetWatermark(account string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetWatermark"); err != nil {
		return "", err
	}
	return m.marks[strings.ToLower(account)], nil
}

func (m *MockStore) SetWatermark(account, postID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SetWatermark"); err != nil {
		return err
	}
	m.marks[strings.ToLower(account)] = postID
	return nil
}

// --- Utility ----------------------------------------------------------------

func (m *MockStore) SizeBytes() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SizeBytes"); err != nil {
		return 0, err
	}
	return m.Size, nil
}

func (m *MockStore) Close() error {
	return nil
}

var _ storage.Store = (*MockStore)(nil)
