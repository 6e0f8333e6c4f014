// Package metastore persists call metadata so a freshly started process can
// recover which calls exist and which one is current.
//
// Layout (every backend):
// - one record per call id, holding the encoded CallSession
// - one scalar for the current-call pointer
// - one scalar for the push token
//
// Absent or malformed session records are reported as "not found".
package metastore

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"voip-callkit/internal/calls"
)

// Store is the durable key-value contract used by the registry and token relay.
// Every mutating method must be durable before it returns nil.
type Store interface {
	SaveSession(ctx context.Context, s calls.CallSession) error
	LoadSession(ctx context.Context, id string) (calls.CallSession, bool, error)
	ListSessions(ctx context.Context) ([]calls.CallSession, error)

	// DeleteSession removes the record and, atomically, clears the current-call
	// pointer when it points at id. It reports whether a record existed.
	DeleteSession(ctx context.Context, id string) (bool, error)

	CurrentCallID(ctx context.Context) (string, bool, error)
	SetCurrentCallID(ctx context.Context, id string) error

	PushToken(ctx context.Context) (string, bool, error)
	SetPushToken(ctx context.Context, token string) error

	Close() error
}

// Scalar key names shared by the backends.
const (
	keyCurrentCall = "current_call"
	keyPushToken   = "voip_token"
)

var ErrClosed = errors.New("metastore: closed")

// handle marks a backend built on a connection it does not own. Close stops
// the store from using the connection; closing the connection itself is left
// to whoever opened it, since the call-UI stream and call history share it.
type handle struct {
	closed atomic.Bool
}

func (h *handle) usable() error {
	if h.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close is idempotent and never touches the shared connection.
func (h *handle) Close() error {
	h.closed.Store(true)
	return nil
}

func logMalformed(log *slog.Logger, id string, err error) {
	if log == nil {
		log = slog.Default()
	}
	log.Warn("metastore: dropping malformed session record", "call_id", id, "err", err)
}
