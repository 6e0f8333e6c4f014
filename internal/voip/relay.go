// Package voip holds the push-registration token delivered by the push relay.
package voip

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"voip-callkit/internal/calls"
	"voip-callkit/internal/dispatch"
	"voip-callkit/internal/metastore"
)

// Relay keeps the last known token (last write wins) and announces changes on
// the dispatcher's token slot.
type Relay struct {
	store    metastore.Store
	notifier *dispatch.Dispatcher
	log      *slog.Logger

	mu     sync.Mutex
	token  string
	loaded bool
}

func NewRelay(store metastore.Store, notifier *dispatch.Dispatcher, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{store: store, notifier: notifier, log: log}
}

// Token returns the last known token. It never waits for one to arrive.
func (r *Relay) Token(ctx context.Context) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(ctx); err != nil {
		return "", false, err
	}
	return r.token, r.token != "", nil
}

// Update persists token and notifies the token listener when it differs from
// the previous one. It reports whether the token changed.
func (r *Relay) Update(ctx context.Context, token string) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, fmt.Errorf("%w: token required", calls.ErrInvalidArgument)
	}

	r.mu.Lock()
	if err := r.loadLocked(ctx); err != nil {
		r.mu.Unlock()
		return false, err
	}
	if r.token == token {
		r.mu.Unlock()
		return false, nil
	}
	if err := r.store.SetPushToken(ctx, token); err != nil {
		r.mu.Unlock()
		return false, err
	}
	r.token = token
	r.mu.Unlock()

	r.log.Debug("voip token updated")
	if r.notifier != nil {
		r.notifier.NotifyToken(token)
	}
	return true, nil
}

func (r *Relay) loadLocked(ctx context.Context) error {
	if r.loaded {
		return nil
	}
	tok, ok, err := r.store.PushToken(ctx)
	if err != nil {
		return err
	}
	if ok {
		r.token = tok
	}
	r.loaded = true
	return nil
}
