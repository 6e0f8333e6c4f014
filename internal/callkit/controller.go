// Package callkit is the call session controller. It owns the session
// registry and the action dispatcher, and drives the OS call-UI.
//
// Locking rules:
// - Every operation runs under one controller mutex, so operations on the
//   same call id are linearizable.
// - Session state is written through to the store before an operation returns.
// - Call-UI requests are issued after the mutex is released; their outcome
//   arrives on the caller's Completion.
// - Listener delivery happens while the mutex is held. Listeners get a session
//   snapshot in the event and must not call back into the Controller
//   synchronously.
package callkit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"voip-callkit/internal/audit"
	"voip-callkit/internal/callui"
	"voip-callkit/internal/calls"
	"voip-callkit/internal/dispatch"
	"voip-callkit/internal/metastore"
	"voip-callkit/internal/registry"
	"voip-callkit/internal/voip"
)

var ErrClosed = errors.New("callkit: controller closed")

type Options struct {
	// Store is required.
	Store metastore.Store

	// Presenter defaults to callui.NopPresenter.
	Presenter callui.Presenter

	// Dispatcher defaults to a fresh dispatch.Dispatcher.
	Dispatcher *dispatch.Dispatcher

	// Audit is optional; history is not recorded without it.
	Audit *audit.Service

	// Display is the initial display config for presented calls.
	Display callui.DisplayConfig

	Logger *slog.Logger
	Clock  func() time.Time
}

type Controller struct {
	store      metastore.Store
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	relay      *voip.Relay
	presenter  callui.Presenter
	display    *callui.DisplaySettings
	audit      *audit.Service
	log        *slog.Logger
	now        func() time.Time

	mu sync.Mutex
	// presenting tracks report requests the call-UI has not answered yet.
	presenting map[string]*presentation
	closed     bool
}

type presentation struct {
	inflight int
	// end is a teardown requested while the call was still being presented.
	end *deferredEnd
}

type deferredEnd struct {
	ctx    context.Context
	reason calls.EndedReason
	done   callui.Completion
}

func New(opts Options) (*Controller, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("callkit: store is required")
	}
	if opts.Presenter == nil {
		opts.Presenter = callui.NewNopPresenter()
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = dispatch.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	log := opts.Logger.With("component", "callkit")
	return &Controller{
		store:      opts.Store,
		registry:   registry.New(opts.Store),
		dispatcher: opts.Dispatcher,
		relay:      voip.NewRelay(opts.Store, opts.Dispatcher, log),
		presenter:  opts.Presenter,
		display:    callui.NewDisplaySettings(opts.Display),
		audit:      opts.Audit,
		log:        log,
		now:        func() time.Time { return opts.Clock().UTC() },
		presenting: make(map[string]*presentation),
	}, nil
}

// Restore loads every persisted session so the controller can serve calls
// reported before the last restart. It returns the number restored.
func (c *Controller) Restore(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := c.registry.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("callkit: restore: %w", err)
	}
	cur, ok, err := c.store.CurrentCallID(ctx)
	if err != nil {
		return n, fmt.Errorf("callkit: restore: %w", err)
	}
	c.log.Info("sessions restored", "count", n, "current_call", cur, "has_current", ok)
	return n, nil
}

// Close detaches the listeners. Further operations fail with ErrClosed.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.dispatcher.Detach()
	return nil
}

// Subscribe installs the single application listener for each stream,
// replacing whatever was there before. Either may be nil. A closed controller
// accepts no listeners.
func (c *Controller) Subscribe(actions dispatch.ActionListener, tokens dispatch.TokenListener) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()
	c.dispatcher.SetActionListener(actions)
	c.dispatcher.SetTokenListener(tokens)
	return nil
}

// Unsubscribe detaches both listeners. Events raised afterwards are dropped.
func (c *Controller) Unsubscribe() {
	c.dispatcher.Detach()
}

// Dispatcher exposes the listener slots for boundary adapters.
func (c *Controller) Dispatcher() *dispatch.Dispatcher { return c.dispatcher }

func (c *Controller) lock() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	return nil
}

func (c *Controller) lookup(ctx context.Context, id string) (calls.CallSession, error) {
	s, ok, err := c.registry.Get(ctx, id)
	if err != nil {
		c.log.Error("session lookup failed", "call_id", id, "err", err)
		return calls.CallSession{}, err
	}
	if !ok {
		return calls.CallSession{}, fmt.Errorf("%w: %s", calls.ErrNotFound, id)
	}
	return s, nil
}

func (c *Controller) record(ctx context.Context, s calls.CallSession, typ audit.EventType, origin calls.Origin, message string) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Record(ctx, s.ID, typ, string(origin), string(s.State), string(s.EndedReason), message); err != nil {
		c.log.Warn("audit append failed", "call_id", s.ID, "type", typ, "err", err)
	}
}

// presentationDone wraps a caller completion so call-UI failures surface as
// *calls.PresentationError.
func (c *Controller) presentationDone(op, id string, done callui.Completion) callui.Completion {
	return func(err error) {
		if err != nil {
			c.log.Warn("callui request failed", "op", op, "call_id", id, "err", err)
		}
		if done != nil {
			done(calls.NewPresentationError(op, id, err))
		}
	}
}

func complete(done callui.Completion, err error) {
	if done != nil {
		done(err)
	}
}
