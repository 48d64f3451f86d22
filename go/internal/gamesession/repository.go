package gamesession

import (
	"context"
	"sync"

	"github.com/mcdev12/multigolf/go/internal/models"
)

// sessionEntry pairs a session with the lock that serializes its mutations.
type sessionEntry struct {
	mu      sync.Mutex
	session *models.GameSession
	removed bool
}

// MemoryRepository is the in-memory session store. The map is guarded by an
// RWMutex and every entry has its own mutex, so work on different sessions
// never contends.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

// NewMemoryRepository creates an empty session store
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions: make(map[string]*sessionEntry),
	}
}

// Save stores a new session, replacing any session that already uses its ID.
// It reports whether a session was replaced.
func (r *MemoryRepository) Save(_ context.Context, session *models.GameSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, replaced := r.sessions[session.ID]
	if replaced {
		old.mu.Lock()
		old.removed = true
		old.mu.Unlock()
	}
	r.sessions[session.ID] = &sessionEntry{session: session.Clone()}
	return replaced
}

// Get returns a copy of the session with the given ID
func (r *MemoryRepository) Get(_ context.Context, id string) (*models.GameSession, error) {
	entry := r.entry(id)
	if entry == nil {
		return nil, ErrSessionNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.removed {
		return nil, ErrSessionNotFound
	}
	return entry.session.Clone(), nil
}

// Mutate runs fn against the stored session while holding that session's lock.
// fn sees the live value; any error it returns is passed through unchanged.
func (r *MemoryRepository) Mutate(_ context.Context, id string, fn func(*models.GameSession) error) error {
	entry := r.entry(id)
	if entry == nil {
		return ErrSessionNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	// Evicted or replaced between the map lookup and acquiring the lock.
	if entry.removed {
		return ErrSessionNotFound
	}
	return fn(entry.session)
}

// Delete removes a session
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	entry, exists := r.sessions[id]
	if exists {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !exists {
		return ErrSessionNotFound
	}
	entry.mu.Lock()
	entry.removed = true
	entry.mu.Unlock()
	return nil
}

// DeleteIf removes every session for which pred returns true and reports how
// many were removed. pred runs under the session's lock.
func (r *MemoryRepository) DeleteIf(_ context.Context, pred func(*models.GameSession) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, entry := range r.sessions {
		entry.mu.Lock()
		if pred(entry.session) {
			entry.removed = true
			delete(r.sessions, id)
			removed++
		}
		entry.mu.Unlock()
	}
	return removed
}

// List returns copies of all stored sessions, expired ones included
func (r *MemoryRepository) List(_ context.Context) []*models.GameSession {
	r.mu.RLock()
	entries := make([]*sessionEntry, 0, len(r.sessions))
	for _, entry := range r.sessions {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	result := make([]*models.GameSession, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		if !entry.removed {
			result = append(result, entry.session.Clone())
		}
		entry.mu.Unlock()
	}
	return result
}

// Count returns the number of stored sessions
func (r *MemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *MemoryRepository) entry(id string) *sessionEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}
