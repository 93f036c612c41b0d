package cachestore

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Kind identifies one of the cached resource kinds. Each kind has its own
// directory and expiry policy.
type Kind string

const (
	KindEntries Kind = "entries"
	KindUsers   Kind = "users"
	KindUploads Kind = "uploads"
)

// Kinds lists all resource kinds the store manages.
var Kinds = []Kind{KindEntries, KindUsers, KindUploads}

// Default per-kind expiries. Entry sets churn daily while user identity data
// is near-static.
const (
	DefaultEntriesExpiry = 24 * time.Hour
	DefaultUsersExpiry   = 168 * time.Hour
	DefaultUploadsExpiry = 48 * time.Hour
)

// Entry is the on-disk representation of one cached value. The payload is
// opaque to the store; the timestamp is always the write time.
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// KindStats summarizes the persisted entries of one resource kind.
type KindStats struct {
	Count     int       `json:"count"`
	TotalSize int64     `json:"total_size"`
	Oldest    time.Time `json:"oldest"`
	Newest    time.Time `json:"newest"`
}

// Store is a filesystem-backed key/value cache keyed by (kind, key): one
// directory per kind, one JSON file per key. A read-through in-process hot
// layer avoids re-reading files within a process. Stale entries are treated
// as absent on read but stay on disk until overwritten or cleared.
//
// The store has no cross-process locking; processes sharing a cache
// directory may race on the same key.
type Store struct {
	root   string
	expiry map[Kind]time.Duration
	hot    *gocache.Cache
}

// New creates a store rooted at the given directory with the default
// per-kind expiries. The directory tree is created lazily on first Put.
func New(root string) *Store {
	return &Store{
		root: root,
		expiry: map[Kind]time.Duration{
			KindEntries: DefaultEntriesExpiry,
			KindUsers:   DefaultUsersExpiry,
			KindUploads: DefaultUploadsExpiry,
		},
		hot: gocache.New(gocache.NoExpiration, 10*time.Minute),
	}
}

// SetExpiry overrides the expiry for one resource kind.
func (s *Store) SetExpiry(kind Kind, expiry time.Duration) {
	s.expiry[kind] = expiry
}

// Get returns the payload stored under (kind, key), or absent when there is
// no entry, the entry is older than the kind's expiry, or the persisted
// record is unreadable. Read failures never surface as errors.
func (s *Store) Get(kind Kind, key string) (json.RawMessage, bool) {
	hotKey := string(kind) + "/" + key
	if value, found := s.hot.Get(hotKey); found {
		if payload, ok := value.(json.RawMessage); ok {
			return payload, true
		}
	}

	data, err := os.ReadFile(s.entryPath(kind, key))
	if err != nil {
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Corrupt or partially written record: degrade to a miss.
		slog.Debug("discarding unreadable cache entry", "kind", kind, "key", key, "error", err)
		return nil, false
	}

	remaining := s.expiry[kind] - time.Since(entry.Timestamp)
	if remaining <= 0 {
		return nil, false
	}

	s.hot.Set(hotKey, entry.Payload, remaining)
	return entry.Payload, true
}

// Put writes a new entry stamped with the current time, unconditionally
// overwriting any prior entry for the key.
func (s *Store) Put(kind Kind, key string, payload json.RawMessage) error {
	dir := filepath.Join(s.root, string(kind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	entry := Entry{Timestamp: time.Now(), Payload: payload}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.entryPath(kind, key), data, 0o644); err != nil {
		return err
	}

	s.hot.Set(string(kind)+"/"+key, payload, s.expiry[kind])
	return nil
}

// GetJSON reads the entry under (kind, key) and unmarshals it into v.
// Returns false on a miss or when the payload does not fit v.
func (s *Store) GetJSON(kind Kind, key string, v interface{}) bool {
	payload, found := s.Get(kind, key)
	if !found {
		return false
	}
	if err := json.Unmarshal(payload, v); err != nil {
		slog.Debug("cache payload does not match expected shape", "kind", kind, "key", key, "error", err)
		return false
	}
	return true
}

// PutJSON marshals v and stores it under (kind, key).
func (s *Store) PutJSON(kind Kind, key string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Put(kind, key, payload)
}

// Clear removes all entries for the given kinds, or for every kind when none
// are given.
func (s *Store) Clear(kinds ...Kind) error {
	if len(kinds) == 0 {
		kinds = Kinds
	}
	var lastErr error
	for _, kind := range kinds {
		if err := os.RemoveAll(filepath.Join(s.root, string(kind))); err != nil {
			lastErr = err
		}
		for hotKey := range s.hot.Items() {
			if strings.HasPrefix(hotKey, string(kind)+"/") {
				s.hot.Delete(hotKey)
			}
		}
	}
	return lastErr
}

// Stats reports per-kind counts, sizes and timestamp bounds of the persisted
// entries. Unreadable files are counted but contribute no timestamps.
func (s *Store) Stats() map[Kind]KindStats {
	stats := make(map[Kind]KindStats, len(Kinds))
	for _, kind := range Kinds {
		var ks KindStats
		files, err := os.ReadDir(filepath.Join(s.root, string(kind)))
		if err != nil {
			stats[kind] = ks
			continue
		}
		for _, file := range files {
			if file.IsDir() {
				continue
			}
			ks.Count++
			if info, err := file.Info(); err == nil {
				ks.TotalSize += info.Size()
			}
			data, err := os.ReadFile(filepath.Join(s.root, string(kind), file.Name()))
			if err != nil {
				continue
			}
			var entry Entry
			if err := json.Unmarshal(data, &entry); err != nil {
				continue
			}
			if ks.Oldest.IsZero() || entry.Timestamp.Before(ks.Oldest) {
				ks.Oldest = entry.Timestamp
			}
			if entry.Timestamp.After(ks.Newest) {
				ks.Newest = entry.Timestamp
			}
		}
		stats[kind] = ks
	}
	return stats
}

func (s *Store) entryPath(kind Kind, key string) string {
	return filepath.Join(s.root, string(kind), sanitizeKey(key)+".json")
}

// sanitizeKey maps an arbitrary key onto a safe file name.
func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, key)
}
