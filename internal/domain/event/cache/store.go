package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vadim/neo-inbox/internal/domain/event/entity"
)

// DefaultExpiry is how long fetched events are trusted without a refetch
const DefaultExpiry = 5 * time.Minute

// entry is the per-conversation aggregate.
//
// Generations: every BeginFetch takes the next value of the store-wide counter.
// A fetch result is applied only if no newer generation was applied before it,
// and only while the entry it was started for still exists (baseGen guards
// against a clear+recreate in between).
type entry struct {
	events        []entity.Event
	lastFetchedAt time.Time
	isLoading     bool
	hydrated      bool // populated by a fetch at least once

	baseGen    uint64
	appliedGen uint64
	inflight   int

	// events written by push/local paths while a fetch was in flight,
	// in arrival order
	pending      []entity.Event
	pendingIndex map[string]int

	// local events whose send failed; the server never saw them, so every
	// fetch result is merged with them until they are sent or discarded
	unsent []entity.Event
}

// EntryInfo is a read-only view of an entry for debugging and metrics
type EntryInfo struct {
	Events        int       `json:"events"`
	LastFetchedAt time.Time `json:"last_fetched_at"`
	Loading       bool      `json:"loading"`
	Hydrated      bool      `json:"hydrated"`
}

// Store is the in-memory holder of per-conversation event sequences.
// All read and write paths (fetch, push, optimistic send) go through it.
type Store struct {
	mu      sync.RWMutex
	clock   clockwork.Clock
	expiry  time.Duration
	nextGen uint64
	entries map[string]*entry
}

// Option configures the Store
type Option func(*Store)

// WithClock sets the clock used for staleness checks
func WithClock(clock clockwork.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// WithExpiry sets the staleness window
func WithExpiry(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// New creates an empty event cache
func New(opts ...Option) *Store {
	s := &Store{
		clock:   clockwork.NewRealClock(),
		expiry:  DefaultExpiry,
		entries: make(map[string]*entry),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Expiry returns the configured staleness window
func (s *Store) Expiry() time.Duration {
	return s.expiry
}

// GetEvents returns the cached events for a conversation.
// It reports false when nothing was fetched yet or the entry is stale;
// a stale entry is evicted so later calls behave as if nothing was cached.
func (s *Store) GetEvents(conversationID string) ([]entity.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[conversationID]
	if e == nil || !e.hydrated {
		return nil, false
	}

	if s.clock.Since(e.lastFetchedAt) > s.expiry {
		delete(s.entries, conversationID)
		return nil, false
	}

	return cloneEvents(e.events), true
}

// Peek returns the last known events regardless of staleness, without evicting.
// Used as a fallback when a fetch fails.
func (s *Store) Peek(conversationID string) ([]entity.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := s.entries[conversationID]
	if e == nil || (!e.hydrated && len(e.events) == 0) {
		return nil, false
	}
	return cloneEvents(e.events), true
}

// LastFetchedAt returns when the conversation was last refreshed
func (s *Store) LastFetchedAt(conversationID string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e := s.entries[conversationID]; e != nil {
		return e.lastFetchedAt
	}
	return time.Time{}
}

// SetEvents replaces the entry wholesale. The caller passes events already
// ordered; they are not re-sorted here.
func (s *Store) SetEvents(conversationID string, events []entity.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.getOrCreate(conversationID)
	e.events = cloneEvents(events)
	e.lastFetchedAt = s.clock.Now()
	e.isLoading = false
	e.hydrated = true
}

// SetLoading creates an empty entry if none exists, otherwise flips the flag only
func (s *Store) SetLoading(conversationID string, loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.getOrCreate(conversationID)
	e.isLoading = loading
}

// IsLoading reports whether a fetch for the conversation is outstanding
func (s *Store) IsLoading(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e := s.entries[conversationID]; e != nil {
		return e.isLoading
	}
	return false
}

// AddEvent appends an event unless one with the same id is already cached.
// It does not re-sort. Reports whether the event was added.
func (s *Store) AddEvent(conversationID string, ev entity.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.getOrCreate(conversationID)
	if entity.IndexByID(e.events, ev.ID) >= 0 {
		return false
	}

	e.events = append(e.events, ev)
	e.lastFetchedAt = s.clock.Now()
	e.recordPending(ev)
	return true
}

// AddEvents is the bulk variant of AddEvent. Ids already cached, and repeats
// inside the batch, are skipped. Returns the number of events appended.
func (s *Store) AddEvents(conversationID string, events []entity.Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.getOrCreate(conversationID)

	seen := make(map[string]struct{}, len(e.events)+len(events))
	for _, ev := range e.events {
		seen[ev.ID] = struct{}{}
	}

	added := 0
	for _, ev := range events {
		if _, ok := seen[ev.ID]; ok {
			continue
		}
		seen[ev.ID] = struct{}{}
		e.events = append(e.events, ev)
		e.recordPending(ev)
		added++
	}

	if added > 0 {
		e.lastFetchedAt = s.clock.Now()
	}
	return added
}

// UpdateEvent replaces the event with the given id in place.
// No-op when the conversation or event is unknown.
func (s *Store) UpdateEvent(conversationID, eventID string, updated entity.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[conversationID]
	if e == nil {
		return false
	}

	idx := entity.IndexByID(e.events, eventID)
	if idx < 0 {
		return false
	}

	if updated.ID == eventID {
		if u := entity.IndexByID(e.unsent, eventID); u >= 0 {
			e.unsent[u] = updated
		}
	} else {
		// a local event took its server id; the old id must not come back
		// through a fetch merge, and the new id may already be cached
		e.forgetPending(eventID)
		e.forgetUnsent(eventID)
		if dup := entity.IndexByID(e.events, updated.ID); dup >= 0 {
			e.events[dup] = updated
			e.events = append(e.events[:idx], e.events[idx+1:]...)
			e.lastFetchedAt = s.clock.Now()
			e.recordPending(updated)
			return true
		}
	}

	e.events[idx] = updated
	e.lastFetchedAt = s.clock.Now()
	e.recordPending(updated)
	return true
}

// UpsertEvent updates an existing event in place or appends a new one.
// This is the push path: a known id is a status change, an unknown id is new history.
func (s *Store) UpsertEvent(conversationID string, ev entity.Event) (inserted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.getOrCreate(conversationID)
	if idx := entity.IndexByID(e.events, ev.ID); idx >= 0 {
		e.events[idx] = ev
	} else {
		e.events = append(e.events, ev)
		inserted = true
	}

	e.lastFetchedAt = s.clock.Now()
	e.recordPending(ev)
	return inserted
}

// HoldUnsent replaces a local event in place with its failed copy and keeps
// it across later fetches until UpdateEvent gives it a server id or
// RemoveEvent discards it. No-op when the event is unknown.
func (s *Store) HoldUnsent(conversationID string, failed entity.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[conversationID]
	if e == nil {
		return false
	}

	idx := entity.IndexByID(e.events, failed.ID)
	if idx < 0 {
		return false
	}

	e.events[idx] = failed
	e.forgetUnsent(failed.ID)
	e.unsent = append(e.unsent, failed)
	e.recordPending(failed)
	return true
}

// RemoveEvent drops one event from the conversation
func (s *Store) RemoveEvent(conversationID, eventID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[conversationID]
	if e == nil {
		return false
	}

	idx := entity.IndexByID(e.events, eventID)
	if idx < 0 {
		return false
	}

	e.events = append(e.events[:idx], e.events[idx+1:]...)
	e.forgetPending(eventID)
	e.forgetUnsent(eventID)
	return true
}

// BeginFetch marks the conversation as loading and returns the generation
// the fetch result must be completed with.
func (s *Store) BeginFetch(conversationID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.getOrCreate(conversationID)
	s.nextGen++
	e.inflight++
	e.isLoading = true
	return s.nextGen
}

// CompleteFetch applies a fetch result started with BeginFetch.
//
// The result is sorted by CreatedAt and replaces the cached sequence. Events
// that arrived through the push path while the fetch was in flight and are
// missing from the result are merged back at their ordered position; when
// both carry the same id, the one updated last wins.
//
// A result is rejected (false) when a newer fetch was already applied or the
// entry was cleared since the fetch began.
func (s *Store) CompleteFetch(conversationID string, gen uint64, events []entity.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[conversationID]
	if e == nil || gen <= e.baseGen {
		return false
	}

	defer e.finishFetch()

	if gen < e.appliedGen {
		return false
	}

	merged := dedupeByID(cloneEvents(events))
	entity.SortByCreatedAt(merged)

	for _, ev := range e.pending {
		if idx := entity.IndexByID(merged, ev.ID); idx >= 0 {
			if ev.UpdatedAt.After(merged[idx].UpdatedAt) {
				merged[idx] = ev
			}
			continue
		}
		merged = insertOrdered(merged, ev)
	}

	for _, ev := range e.unsent {
		if entity.IndexByID(merged, ev.ID) < 0 {
			merged = insertOrdered(merged, ev)
		}
	}

	e.events = merged
	e.lastFetchedAt = s.clock.Now()
	e.hydrated = true
	e.appliedGen = gen
	return true
}

// FailFetch releases the loading state held by a failed fetch
func (s *Store) FailFetch(conversationID string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[conversationID]
	if e == nil || gen <= e.baseGen {
		return
	}
	e.finishFetch()
}

// ClearConversation evicts one conversation
func (s *Store) ClearConversation(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, conversationID)
}

// ClearAll evicts every conversation
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*entry)
}

// Size returns the number of cached conversations
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// Info returns a snapshot of every entry
func (s *Store) Info() map[string]EntryInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]EntryInfo, len(s.entries))
	for id, e := range s.entries {
		out[id] = EntryInfo{
			Events:        len(e.events),
			LastFetchedAt: e.lastFetchedAt,
			Loading:       e.isLoading,
			Hydrated:      e.hydrated,
		}
	}
	return out
}

// getOrCreate must be called with s.mu held
func (s *Store) getOrCreate(conversationID string) *entry {
	e := s.entries[conversationID]
	if e == nil {
		e = &entry{baseGen: s.nextGen}
		s.entries[conversationID] = e
	}
	return e
}

func (e *entry) recordPending(ev entity.Event) {
	if e.inflight == 0 {
		return
	}
	if e.pendingIndex == nil {
		e.pendingIndex = make(map[string]int)
	}
	if idx, ok := e.pendingIndex[ev.ID]; ok {
		e.pending[idx] = ev
		return
	}
	e.pendingIndex[ev.ID] = len(e.pending)
	e.pending = append(e.pending, ev)
}

func (e *entry) forgetUnsent(id string) {
	if idx := entity.IndexByID(e.unsent, id); idx >= 0 {
		e.unsent = append(e.unsent[:idx], e.unsent[idx+1:]...)
	}
}

func (e *entry) forgetPending(id string) {
	idx, ok := e.pendingIndex[id]
	if !ok {
		return
	}
	e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
	delete(e.pendingIndex, id)
	for i := idx; i < len(e.pending); i++ {
		e.pendingIndex[e.pending[i].ID] = i
	}
}

func (e *entry) finishFetch() {
	if e.inflight > 0 {
		e.inflight--
	}
	if e.inflight == 0 {
		e.isLoading = false
		e.pending = nil
		e.pendingIndex = nil
	}
}

// insertOrdered places ev after every event created at or before it
func insertOrdered(events []entity.Event, ev entity.Event) []entity.Event {
	idx := sort.Search(len(events), func(i int) bool {
		return events[i].CreatedAt.After(ev.CreatedAt)
	})
	events = append(events, entity.Event{})
	copy(events[idx+1:], events[idx:])
	events[idx] = ev
	return events
}

// dedupeByID keeps the first position of each id with its last value
func dedupeByID(events []entity.Event) []entity.Event {
	pos := make(map[string]int, len(events))
	out := events[:0]
	for _, ev := range events {
		if i, ok := pos[ev.ID]; ok {
			out[i] = ev
			continue
		}
		pos[ev.ID] = len(out)
		out = append(out, ev)
	}
	return out
}

func cloneEvents(events []entity.Event) []entity.Event {
	if events == nil {
		return nil
	}
	out := make([]entity.Event, len(events))
	copy(out, events)
	return out
}
