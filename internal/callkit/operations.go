package callkit

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"voip-callkit/internal/audit"
	"voip-callkit/internal/callui"
	"voip-callkit/internal/calls"
)

// IncomingCallRequest is the push relay's report of a new call invitation.
type IncomingCallRequest struct {
	CallID     string
	CallType   calls.CallType
	CallerID   int64
	CallerName string
	Opponents  []int64
	UserInfo   string
}

func (r IncomingCallRequest) Validate() error {
	if calls.NormalizeID(r.CallID) == "" {
		return fmt.Errorf("%w: session_id required", calls.ErrInvalidArgument)
	}
	if !r.CallType.Valid() {
		return fmt.Errorf("%w: call_type %q", calls.ErrInvalidArgument, r.CallType)
	}
	return nil
}

// ReportIncomingCall registers the call as PENDING, makes it the current call
// and asks the call-UI to present it.
//
// Validation and store failures are returned directly and done is not called.
// Otherwise the presentation outcome is delivered on done; a failed
// presentation leaves the session persisted in PENDING.
//
// Reporting an id that already exists refreshes its caller metadata without
// touching its state. It is presented again only while still PENDING.
func (c *Controller) ReportIncomingCall(ctx context.Context, req IncomingCallRequest, done callui.Completion) error {
	if err := req.Validate(); err != nil {
		return err
	}
	id := calls.NormalizeID(req.CallID)

	if err := c.lock(); err != nil {
		return err
	}
	existing, found, err := c.registry.Get(ctx, id)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	now := c.now()
	s := existing
	if !found {
		s = calls.CallSession{ID: id, State: calls.CallStatePending, CreatedAt: now}
	}
	s.CallType = req.CallType
	s.InitiatorID = req.CallerID
	s.InitiatorName = req.CallerName
	s.OpponentIDs = slices.Clone(req.Opponents)
	s.UserInfo = req.UserInfo
	s.UpdatedAt = now

	if err := c.registry.Put(ctx, s); err != nil {
		c.mu.Unlock()
		c.log.Error("persist reported call failed", "call_id", id, "err", err)
		return err
	}
	if err := c.store.SetCurrentCallID(ctx, id); err != nil {
		c.mu.Unlock()
		c.log.Error("persist current call failed", "call_id", id, "err", err)
		return err
	}
	c.record(ctx, s, audit.EventTypeReported, calls.OriginPush, "")
	c.log.Debug("call reported", "call_id", id, "state", s.State, "existing", found)

	present := s.State == calls.CallStatePending
	var p *presentation
	if present {
		p = c.presenting[id]
		if p == nil {
			p = &presentation{}
			c.presenting[id] = p
		}
		p.inflight++
	}
	display := c.display.Current()
	c.mu.Unlock()

	if !present {
		complete(done, nil)
		return nil
	}
	settleCtx := context.WithoutCancel(ctx)
	c.presenter.ReportIncomingCall(ctx, callui.IncomingCallFrom(s, display), func(err error) {
		c.presentationSettled(settleCtx, id, p, err, done)
	})
	return nil
}

// presentationSettled closes one report request of p. A teardown deferred
// while p was on screen is sent only if the session is still ENDED or has been
// cleared since; a session re-reported under the same id belongs to a newer
// presentation and is left alone.
func (c *Controller) presentationSettled(ctx context.Context, id string, p *presentation, err error, done callui.Completion) {
	c.mu.Lock()
	var end *deferredEnd
	p.inflight--
	if p.inflight <= 0 {
		if c.presenting[id] == p {
			delete(c.presenting, id)
		}
		end, p.end = p.end, nil
	}

	var (
		s         calls.CallSession
		found     bool
		lookupErr error
	)
	if err != nil || end != nil {
		s, found, lookupErr = c.registry.Get(ctx, id)
		if lookupErr != nil {
			c.log.Error("session lookup failed", "call_id", id, "err", lookupErr)
		}
	}
	if err != nil && found {
		c.record(ctx, s, audit.EventTypePresentationFailed, calls.OriginCallUI, err.Error())
	}
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("call presentation failed", "call_id", id, "err", err)
	}

	if end != nil {
		switch {
		case err != nil:
			// Nothing is on screen to tear down.
			complete(end.done, nil)
		case lookupErr != nil:
			complete(end.done, calls.NewPresentationError("end", id, lookupErr))
		case found && s.State != calls.CallStateEnded:
			c.log.Debug("deferred teardown dropped", "call_id", id, "state", s.State)
			complete(end.done, nil)
		default:
			c.presenter.EndCall(end.ctx, id, end.reason, c.presentationDone("end", id, end.done))
		}
	}
	complete(done, calls.NewPresentationError("report", id, err))
}

// AnswerCall accepts a PENDING call on behalf of the application and tells
// the call-UI about it. Answering an ACCEPTED or ENDED call is a no-op.
func (c *Controller) AnswerCall(ctx context.Context, callID string, done callui.Completion) error {
	id := calls.NormalizeID(callID)
	if err := c.lock(); err != nil {
		return err
	}
	s, err := c.lookup(ctx, id)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if s.State != calls.CallStatePending {
		c.mu.Unlock()
		complete(done, nil)
		return nil
	}
	s, err = c.registry.Update(ctx, id, func(s *calls.CallSession) error {
		s.Accept(c.now())
		return nil
	})
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.record(ctx, s, audit.EventTypeAnswered, calls.OriginApp, "")
	c.log.Debug("call answered", "call_id", id, "origin", calls.OriginApp)
	c.mu.Unlock()

	c.presenter.AnswerCall(ctx, id, c.presentationDone("answer", id, done))
	return nil
}

// End finishes the call with the default reason.
func (c *Controller) End(ctx context.Context, callID string, done callui.Completion) error {
	return c.ReportCallEnded(ctx, callID, "", done)
}

// ReportCallEnded moves the call to ENDED and asks the call-UI to tear it
// down. An empty reason records calls.DefaultEndedReason. Ending an ENDED call
// keeps the original reason and issues no teardown.
//
// If the call is still being presented, the teardown is sent once the
// presentation settles.
func (c *Controller) ReportCallEnded(ctx context.Context, callID string, reason calls.EndedReason, done callui.Completion) error {
	if reason != "" && !reason.Valid() {
		return fmt.Errorf("%w: ended reason %q", calls.ErrInvalidArgument, reason)
	}
	id := calls.NormalizeID(callID)
	if err := c.lock(); err != nil {
		return err
	}
	s, err := c.lookup(ctx, id)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if s.State == calls.CallStateEnded {
		c.mu.Unlock()
		complete(done, nil)
		return nil
	}
	s, err = c.registry.Update(ctx, id, func(s *calls.CallSession) error {
		s.End(reason, c.now())
		return nil
	})
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.record(ctx, s, audit.EventTypeEnded, calls.OriginApp, "")
	c.log.Debug("call ended", "call_id", id, "reason", s.EndedReason, "origin", calls.OriginApp)

	if p := c.presenting[id]; p != nil {
		p.end = &deferredEnd{ctx: context.WithoutCancel(ctx), reason: s.EndedReason, done: done}
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.presenter.EndCall(ctx, id, s.EndedReason, c.presentationDone("end", id, done))
	return nil
}

// SetMute records the muted flag and forwards it to the call-UI.
func (c *Controller) SetMute(ctx context.Context, callID string, muted bool, done callui.Completion) error {
	id := calls.NormalizeID(callID)
	if err := c.lock(); err != nil {
		return err
	}
	s, err := c.lookup(ctx, id)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if s.Muted != muted {
		s, err = c.registry.Update(ctx, id, func(s *calls.CallSession) error {
			s.SetMuted(muted, c.now())
			return nil
		})
		if err != nil {
			c.mu.Unlock()
			return err
		}
		c.record(ctx, s, audit.EventTypeMuted, calls.OriginApp, fmt.Sprintf("muted=%t", muted))
	}
	c.mu.Unlock()

	c.presenter.SetMuted(ctx, id, muted, c.presentationDone("mute", id, done))
	return nil
}

// GetCallState never fails: unknown ids, and lookups that could not be
// completed, report calls.CallStateUnknown.
func (c *Controller) GetCallState(ctx context.Context, callID string) calls.CallState {
	s, ok := c.GetCallData(ctx, callID)
	if !ok {
		return calls.CallStateUnknown
	}
	return s.State
}

// SetCallState stores an application sub-state next to the session. The
// core state machine is not affected.
func (c *Controller) SetCallState(ctx context.Context, callID, appState string) error {
	id := calls.NormalizeID(callID)
	appState = strings.TrimSpace(appState)
	if err := c.lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()
	s, err := c.registry.Update(ctx, id, func(s *calls.CallSession) error {
		s.AppState = appState
		s.UpdatedAt = c.now()
		return nil
	})
	if err != nil {
		return err
	}
	c.record(ctx, s, audit.EventTypeStateTagged, calls.OriginApp, appState)
	return nil
}

// GetCallData returns a snapshot of the session.
func (c *Controller) GetCallData(ctx context.Context, callID string) (calls.CallSession, bool) {
	id := calls.NormalizeID(callID)
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok, err := c.registry.Get(ctx, id)
	if err != nil {
		c.log.Error("session lookup failed", "call_id", id, "err", err)
		return calls.CallSession{}, false
	}
	return s, ok
}

// ClearCallData forgets the session. The current-call pointer is cleared with
// it when it referenced id, even if the session itself was already gone.
// A report still being presented is detached so a later report of the same id
// starts fresh.
func (c *Controller) ClearCallData(ctx context.Context, callID string) error {
	id := calls.NormalizeID(callID)
	if err := c.lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()
	s, _, err := c.registry.Get(ctx, id)
	if err != nil {
		c.log.Error("session lookup failed", "call_id", id, "err", err)
	}
	s.ID = id
	delete(c.presenting, id)
	existed, err := c.registry.Remove(ctx, id)
	if err != nil {
		c.log.Error("clear call failed", "call_id", id, "err", err)
		return err
	}
	if !existed {
		return fmt.Errorf("%w: %s", calls.ErrNotFound, id)
	}
	c.record(ctx, s, audit.EventTypeCleared, calls.OriginApp, "")
	c.log.Debug("call cleared", "call_id", id)
	return nil
}

// LastCallID returns the most recently reported call id.
func (c *Controller) LastCallID(ctx context.Context) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok, err := c.store.CurrentCallID(ctx)
	if err != nil {
		c.log.Error("read current call failed", "err", err)
		return "", false
	}
	return id, ok
}

// VoIPToken returns the last push token without waiting for one.
func (c *Controller) VoIPToken(ctx context.Context) (string, bool) {
	tok, ok, err := c.relay.Token(ctx)
	if err != nil {
		c.log.Error("read voip token failed", "err", err)
		return "", false
	}
	return tok, ok
}

// DeliverToken stores a token from the push relay and notifies the token listener on change.
func (c *Controller) DeliverToken(ctx context.Context, token string) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()
	_, err := c.relay.Update(ctx, token)
	return err
}

// UpdateConfig changes the display config for subsequent presentations.
func (c *Controller) UpdateConfig(u callui.DisplayConfigUpdate) callui.DisplayConfig {
	return c.display.Update(u)
}

func (c *Controller) DisplayConfig() callui.DisplayConfig {
	return c.display.Current()
}

