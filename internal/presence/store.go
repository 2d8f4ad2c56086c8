package presence

import (
	"sync"
	"time"
)

// EntityID identifies a community member.
type EntityID string

// Entry is a tracked member and the instant it was first seen online.
type Entry struct {
	ID    EntityID
	Since time.Time
}

// Store maps online members to their online-since timestamp.
// All access goes through its methods.
type Store struct {
	mu    sync.Mutex
	since map[EntityID]time.Time
}

func NewStore() *Store {
	return &Store{since: make(map[EntityID]time.Time)}
}

// Upsert records id as online since now unless it is already tracked.
// It reports whether an entry was inserted.
func (s *Store) Upsert(id EntityID, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.since[id]; ok {
		return false
	}
	s.since[id] = now
	return true
}

// Remove drops id and reports whether it was tracked.
func (s *Store) Remove(id EntityID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.since[id]; !ok {
		return false
	}
	delete(s.since, id)
	return true
}

func (s *Store) Contains(id EntityID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.since[id]
	return ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.since)
}

// ReplaceAll discards every entry and installs a copy of entries.
func (s *Store) ReplaceAll(entries map[EntityID]time.Time) {
	next := make(map[EntityID]time.Time, len(entries))
	for id, since := range entries {
		next[id] = since
	}

	s.mu.Lock()
	s.since = next
	s.mu.Unlock()
}

// Snapshot returns a point-in-time copy of all entries.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]Entry, 0, len(s.since))
	for id, since := range s.since {
		entries = append(entries, Entry{ID: id, Since: since})
	}
	return entries
}
