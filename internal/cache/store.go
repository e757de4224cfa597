// Package cache holds the process-wide client cache of remote resources and
// the optimistic mutation coordinator that speculatively edits it.
//
// Values are kept as encoded JSON so a snapshot taken before a speculative
// write can be restored byte for byte. Authoritative writes go through
// Confirm and Remove; speculative writes only happen inside Coordinator.
package cache

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/lazyclaw/lazyops/internal/metrics"
)

// Key builds a cache key for one resource, e.g. Key("opportunity", "opp-1")
func Key(kind, id string) string {
	return kind + ":" + id
}

type entry struct {
	data        []byte
	version     uint64
	speculative bool
	deleted     bool // speculative delete pending; hidden from readers
}

type collection struct {
	stale         bool
	invalidations int
	fetchedAt     time.Time
}

// Change describes a store update delivered to the observer
type Change struct {
	Key         string   // empty for collection-only changes
	Collections []string // collections marked stale
}

// Snapshot is the state of one key before a speculative write
type Snapshot struct {
	Key         string
	Data        []byte
	Present     bool
	Version     uint64
	Speculative bool
}

// Store is the shared cache. It is safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	entries     map[string]*entry
	collections map[string]*collection
	pending     map[string]int // in-flight mutations per key
	version     uint64

	observerMu sync.RWMutex
	onChange   func(Change)
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		entries:     make(map[string]*entry),
		collections: make(map[string]*collection),
		pending:     make(map[string]int),
	}
}

// OnChange registers the single change observer
func (s *Store) OnChange(fn func(Change)) {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	s.onChange = fn
}

func (s *Store) emit(c Change) {
	s.observerMu.RLock()
	fn := s.onChange
	s.observerMu.RUnlock()
	if fn != nil {
		fn(c)
	}
}

// Raw returns the encoded value at key
func (s *Store) Raw(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok || e.deleted {
		return nil, false
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, true
}

// IsSpeculative reports whether the visible value at key is an unconfirmed
// optimistic write
func (s *Store) IsSpeculative(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return ok && e.speculative
}

// Keys returns the visible keys with the given prefix, sorted
func (s *Store) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k, e := range s.entries {
		if !e.deleted && strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Confirm writes an authoritative value
func (s *Store) Confirm(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	s.mu.Lock()
	s.version++
	s.entries[key] = &entry{data: data, version: s.version}
	s.mu.Unlock()

	s.emit(Change{Key: key})
	return nil
}

// Remove deletes a key authoritatively
func (s *Store) Remove(key string) {
	s.mu.Lock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	s.version++
	s.mu.Unlock()

	if ok {
		s.emit(Change{Key: key})
	}
}

// ReplaceCollection swaps every key under prefix for the given set of
// authoritative values and marks the collection fresh. Keys with an
// in-flight mutation are left alone.
func (s *Store) ReplaceCollection(name, prefix string, values map[string]any) error {
	encoded := make(map[string][]byte, len(values))
	for k, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", k, err)
		}
		encoded[k] = data
	}

	s.mu.Lock()
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) && s.pending[k] == 0 {
			if _, keep := encoded[k]; !keep {
				delete(s.entries, k)
			}
		}
	}
	for k, data := range encoded {
		if s.pending[k] > 0 {
			continue
		}
		s.version++
		s.entries[k] = &entry{data: data, version: s.version}
	}
	c := s.collectionLocked(name)
	c.stale = false
	c.fetchedAt = time.Now()
	s.mu.Unlock()

	s.emit(Change{})
	return nil
}

// Invalidate marks collections stale so their next read refetches
func (s *Store) Invalidate(collections ...string) {
	if len(collections) == 0 {
		return
	}
	s.mu.Lock()
	for _, name := range collections {
		c := s.collectionLocked(name)
		c.stale = true
		c.invalidations++
		metrics.CacheInvalidations.WithLabelValues(name).Inc()
	}
	s.mu.Unlock()

	s.emit(Change{Collections: collections})
}

// IsStale reports whether a collection needs a refetch. Collections never
// fetched are stale.
func (s *Store) IsStale(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	return !ok || c.stale
}

// MarkFresh clears the stale flag after a refetch
func (s *Store) MarkFresh(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collectionLocked(name)
	c.stale = false
	c.fetchedAt = time.Now()
}

// Invalidations returns how many times a collection was marked stale
func (s *Store) Invalidations(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.collections[name]; ok {
		return c.invalidations
	}
	return 0
}

func (s *Store) collectionLocked(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{}
		s.collections[name] = c
	}
	return c
}

// begin captures key and writes an optimistic value (or hides the key when
// deleted is set) under one lock, so no other write can land between the
// snapshot and the speculative value. It returns the snapshot and the
// version of the speculative write.
func (s *Store) begin(key string, data []byte, deleted bool) (Snapshot, uint64) {
	s.mu.Lock()
	snap := Snapshot{Key: key}
	if e, ok := s.entries[key]; ok && !e.deleted {
		snap.Present = true
		snap.Data = append([]byte(nil), e.data...)
		snap.Version = e.version
		snap.Speculative = e.speculative
	}
	s.version++
	v := s.version
	s.entries[key] = &entry{data: data, version: v, speculative: true, deleted: deleted}
	s.pending[key]++
	s.mu.Unlock()

	s.emit(Change{Key: key})
	return snap, v
}

// settle marks a confirmed speculative write as ordinary. A confirmed
// delete drops the hidden entry.
func (s *Store) settle(key string, version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(key)
	e, ok := s.entries[key]
	if !ok || e.version != version {
		return
	}
	if e.deleted {
		delete(s.entries, key)
		return
	}
	e.speculative = false
}

// rollback restores snap if the speculative write at version is still the
// visible value. It reports false when a newer write superseded it.
func (s *Store) rollback(snap Snapshot, version uint64) bool {
	s.mu.Lock()
	s.releaseLocked(snap.Key)
	e, ok := s.entries[snap.Key]
	if !ok || e.version != version {
		s.mu.Unlock()
		return false
	}
	if snap.Present {
		s.entries[snap.Key] = &entry{
			data:        snap.Data,
			version:     snap.Version,
			speculative: snap.Speculative && s.pending[snap.Key] > 0,
		}
	} else {
		delete(s.entries, snap.Key)
	}
	s.mu.Unlock()

	s.emit(Change{Key: snap.Key})
	return true
}

func (s *Store) releaseLocked(key string) {
	if s.pending[key] <= 1 {
		delete(s.pending, key)
		return
	}
	s.pending[key]--
}

// Pending reports whether key has an in-flight mutation
func (s *Store) Pending(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending[key] > 0
}

// Get decodes the value at key into T
func Get[T any](s *Store, key string) (T, bool, error) {
	var v T
	data, ok := s.Raw(key)
	if !ok {
		return v, false, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, true, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return v, true, nil
}

// List decodes every visible value under prefix, ordered by key
func List[T any](s *Store, prefix string) ([]T, error) {
	keys := s.Keys(prefix)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		v, ok, err := Get[T](s, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// Put is Confirm for a typed value
func Put[T any](s *Store, key string, v T) error {
	return s.Confirm(key, v)
}
