// Package registry is the in-memory view of live call sessions.
// Every mutation is written through to the metadata store before the cached
// copy changes, so the store stays the single source of truth across restarts.
package registry

import (
	"context"
	"fmt"
	"sync"

	"voip-callkit/internal/calls"
	"voip-callkit/internal/metastore"
)

type Registry struct {
	store metastore.Store

	mu       sync.RWMutex
	sessions map[string]calls.CallSession
}

func New(store metastore.Store) *Registry {
	return &Registry{
		store:    store,
		sessions: make(map[string]calls.CallSession),
	}
}

// Load replaces the cache with every session the store holds.
// It returns the number of sessions loaded.
func (r *Registry) Load(ctx context.Context) (int, error) {
	list, err := r.store.ListSessions(ctx)
	if err != nil {
		return 0, err
	}
	next := make(map[string]calls.CallSession, len(list))
	for _, s := range list {
		next[s.ID] = s
	}
	r.mu.Lock()
	r.sessions = next
	r.mu.Unlock()
	return len(next), nil
}

// Put persists s and then caches it, replacing any session with the same id.
func (r *Registry) Put(ctx context.Context, s calls.CallSession) error {
	s = s.Clone()
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.SaveSession(ctx, s); err != nil {
		return err
	}
	r.sessions[s.ID] = s
	return nil
}

// Get returns a copy of the session. A cache miss falls back to the store so
// sessions written by a previous process are found without an explicit Load.
func (r *Registry) Get(ctx context.Context, id string) (calls.CallSession, bool, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return s.Clone(), true, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok, err := r.loadLocked(ctx, id)
	if err != nil || !ok {
		return calls.CallSession{}, false, err
	}
	return s.Clone(), true, nil
}

// Update applies fn to a copy of the session and writes the result through.
// If fn fails, nothing is written. Unknown ids fail with calls.ErrNotFound.
func (r *Registry) Update(ctx context.Context, id string, fn func(*calls.CallSession) error) (calls.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok, err := r.loadLocked(ctx, id)
	if err != nil {
		return calls.CallSession{}, err
	}
	if !ok {
		return calls.CallSession{}, fmt.Errorf("%w: %s", calls.ErrNotFound, id)
	}

	next := cur.Clone()
	if err := fn(&next); err != nil {
		return calls.CallSession{}, err
	}
	if next.ID != cur.ID {
		return calls.CallSession{}, fmt.Errorf("%w: session id is immutable", calls.ErrInvalidArgument)
	}
	if err := r.store.SaveSession(ctx, next); err != nil {
		return calls.CallSession{}, err
	}
	r.sessions[id] = next
	return next.Clone(), nil
}

// Remove deletes the session from the store (clearing the current-call pointer
// if it referenced id) and then from the cache. It reports whether it existed.
func (r *Registry) Remove(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existed, err := r.store.DeleteSession(ctx, id)
	if err != nil {
		return false, err
	}
	if _, ok := r.sessions[id]; ok {
		existed = true
		delete(r.sessions, id)
	}
	return existed, nil
}

// Len is the number of cached sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) loadLocked(ctx context.Context, id string) (calls.CallSession, bool, error) {
	if s, ok := r.sessions[id]; ok {
		return s, true, nil
	}
	s, ok, err := r.store.LoadSession(ctx, id)
	if err != nil || !ok {
		return calls.CallSession{}, false, err
	}
	r.sessions[id] = s
	return s, true, nil
}
