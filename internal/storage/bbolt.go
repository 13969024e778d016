package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

const (
	bucketWindows = "windows"
	bucketSeen    = "seen"
	bucketStats   = "stats"
	bucketMeta    = "meta"

	statsKey        = "state"
	cursorPrefix    = "cursor:"
	watermarkPrefix = "watermark:"

	// DBFileName is the bbolt file created inside the data directory.
	DBFileName = "replybot.db"
)

type bboltStore struct {
	db *bolt.DB
}

// NewBboltStore opens (or creates) a bbolt database at dataDir/replybot.db.
func NewBboltStore(dataDir string) (Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, DBFileName)
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt at %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketWindows, bucketSeen, bucketStats, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &bboltStore{db: db}, nil
}

// seenKey joins account and post id. Account handles never contain "/".
func seenKey(account, postID string) []byte {
	return []byte(strings.ToLower(account) + "/" + postID)
}

// ---- Counter windows -------------------------------------------------------

// LoadWindows decodes each window on its own. Undecodable entries are left
// out of the result and reported together in an error wrapping ErrCorrupt,
// so callers still get every window that did decode.
func (s *bboltStore) LoadWindows() (map[string]RateWindow, error) {
	result := make(map[string]RateWindow)
	var corrupt []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketWindows)).ForEach(func(k, v []byte) error {
			var w RateWindow
			if err := msgpack.Unmarshal(v, &w); err != nil {
				corrupt = append(corrupt, string(k))
				return nil
			}
			result[string(k)] = w
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if len(corrupt) > 0 {
		return result, fmt.Errorf("%w: windows %s", ErrCorrupt, strings.Join(corrupt, ","))
	}
	return result, nil
}

// SaveWindows replaces the stored windows in a single transaction so a crash
// never leaves the poll and reply windows out of step. Keys not in windows
// are deleted.
func (s *bboltStore) SaveWindows(windows map[string]RateWindow) error {
	encoded := make(map[string][]byte, len(windows))
	for name, w := range windows {
		data, err := msgpack.Marshal(w)
		if err != nil {
			return fmt.Errorf("marshal window %s: %w", name, err)
		}
		encoded[name] = data
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketWindows))
		var stale [][]byte
		if err := b.ForEach(func(k, _ []byte) error {
			if _, ok := encoded[string(k)]; !ok {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		for name, data := range encoded {
			if err := b.Put([]byte(name), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// ---- Seen ledger -----------------------------------------------------------

func (s *bboltStore) GetSeen(account, postID string) (*SeenRecord, error) {
	var rec SeenRecord
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketSeen)).Get(seenKey(account, postID))
		if v == nil {
			return nil
		}
		found = true
		if err := msgpack.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("%w: seen %s/%s: %v", ErrCorrupt, account, postID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

func (s *bboltStore) PutSeen(account, postID string, rec SeenRecord) error {
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal SeenRecord: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSeen)).Put(seenKey(account, postID), data)
	})
}

func (s *bboltStore) CountSeen() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(bucketSeen)).Stats().KeyN
		return nil
	})
	return n, err
}

// PruneSeen deletes seen records not observed since the cutoff.
// Undecodable records are pruned as well.
func (s *bboltStore) PruneSeen(before time.Time) (int, error) {
	var pruned int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketSeen))
		var toDelete [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			var rec SeenRecord
			if err := msgpack.Unmarshal(v, &rec); err == nil && !rec.LastActivity().Before(before) {
				return nil
			}
			key := make([]byte, len(k))
			copy(key, k)
			toDelete = append(toDelete, key)
			return nil
		}); err != nil {
			return err
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	return pruned, err
}

// ---- Stats ledger ----------------------------------------------------------

func (s *bboltStore) LoadStats() (*StatsState, error) {
	var state StatsState
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketStats)).Get([]byte(statsKey))
		if v == nil {
			return nil
		}
		found = true
		if err := msgpack.Unmarshal(v, &state); err != nil {
			return fmt.Errorf("%w: stats: %v", ErrCorrupt, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	if state.Accounts == nil {
		state.Accounts = make(map[string]AccountStats)
	}
	return &state, nil
}

func (s *bboltStore) SaveStats(state StatsState) error {
	data, err := msgpack.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal StatsState: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketStats)).Put([]byte(statsKey), data)
	})
}

// ---- Cursors ---------------------------------------------------------------

func (s *bboltStore) GetCursor(name string) (int, error) {
	var pos int
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketMeta)).Get([]byte(cursorPrefix + name))
		if v == nil {
			return nil
		}
		if err := msgpack.Unmarshal(v, &pos); err != nil {
			return fmt.Errorf("%w: cursor %s: %v", ErrCorrupt, name, err)
		}
		return nil
	})
	return pos, err
}

func (s *bboltStore) SetCursor(name string, pos int) error {
	data, err := msgpack.Marshal(pos)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketMeta)).Put([]byte(cursorPrefix+name), data)
	})
}

// ---- Watermarks -----------------------------------------------------------

func (s *bboltStore) GetWatermark(account string) (string, error) {
	var id string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketMeta)).Get(watermarkKey(account))
		if v == nil {
			return nil
		}
		if err := msgpack.Unmarshal(v, &id); err != nil {
			return fmt.Errorf("%w: watermark %s: %v", ErrCorrupt, account, err)
		}
		return nil
	})
	return id, err
}

func (s *bboltStore) SetWatermark(account, postID string) error {
	data, err := msgpack.Marshal(postID)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketMeta)).Put(watermarkKey(account), data)
	})
}

func watermarkKey(account string) []byte {
	return []byte(watermarkPrefix + strings.ToLower(account))
}

// ---- Utility ---------------------------------------------------------------

func (s *bboltStore) SizeBytes() (int64, error) {
	info, err := os.Stat(s.db.Path())
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *bboltStore) Close() error {
	return s.db.Close()
}
