package metastore

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"voip-callkit/internal/calls"
)

// MemoryStore keeps encoded records in process memory.
// Records go through the same codec as the durable backends, so a second
// registry built over the same MemoryStore behaves like a restarted process.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string][]byte
	scalars  map[string]string
	closed   bool
	log      *slog.Logger
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]byte),
		scalars:  make(map[string]string),
		log:      slog.Default(),
	}
}

func (m *MemoryStore) SaveSession(ctx context.Context, s calls.CallSession) error {
	data, err := EncodeSession(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.sessions[s.ID] = data
	return nil
}

func (m *MemoryStore) LoadSession(ctx context.Context, id string) (calls.CallSession, bool, error) {
	m.mu.Lock()
	data, ok := m.sessions[id]
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return calls.CallSession{}, false, ErrClosed
	}
	if !ok {
		return calls.CallSession{}, false, nil
	}
	s, err := DecodeSession(data)
	if err != nil {
		logMalformed(m.log, id, err)
		return calls.CallSession{}, false, nil
	}
	return s, true, nil
}

func (m *MemoryStore) ListSessions(ctx context.Context) ([]calls.CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]calls.CallSession, 0, len(ids))
	for _, id := range ids {
		s, err := DecodeSession(m.sessions[id])
		if err != nil {
			logMalformed(m.log, id, err)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	_, existed := m.sessions[id]
	delete(m.sessions, id)
	if m.scalars[keyCurrentCall] == id {
		delete(m.scalars, keyCurrentCall)
	}
	return existed, nil
}

func (m *MemoryStore) CurrentCallID(ctx context.Context) (string, bool, error) {
	return m.getScalar(keyCurrentCall)
}

func (m *MemoryStore) SetCurrentCallID(ctx context.Context, id string) error {
	return m.setScalar(keyCurrentCall, id)
}

func (m *MemoryStore) PushToken(ctx context.Context) (string, bool, error) {
	return m.getScalar(keyPushToken)
}

func (m *MemoryStore) SetPushToken(ctx context.Context, token string) error {
	return m.setScalar(keyPushToken, token)
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// PutRaw stores bytes without encoding. Tests use it to plant malformed records.
func (m *MemoryStore) PutRaw(id string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = data
}

func (m *MemoryStore) getScalar(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", false, ErrClosed
	}
	v, ok := m.scalars[key]
	return v, ok, nil
}

func (m *MemoryStore) setScalar(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.scalars[key] = value
	return nil
}
