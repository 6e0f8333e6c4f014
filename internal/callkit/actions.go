package callkit

import (
	"context"
	"fmt"

	"voip-callkit/internal/audit"
	"voip-callkit/internal/calls"
)

// HandleAction applies an action raised by the OS call-UI and forwards it to
// the application listener.
//
// accept, end and mute require a known call id (calls.ErrNotFound otherwise)
// and are forwarded only when they changed the session, so duplicate deliveries
// from the OS are absorbed. start and custom actions carry no state and are
// always forwarded. Nothing is echoed back to the call-UI.
func (c *Controller) HandleAction(ctx context.Context, ev calls.Event) error {
	ev.CallID = calls.NormalizeID(ev.CallID)

	var (
		muted  bool
		reason calls.EndedReason
		err    error
	)
	switch ev.Action {
	case calls.ActionStart, calls.ActionCustom:
	case calls.ActionAccept:
	case calls.ActionEnd:
		if reason, err = ev.ReasonArg(); err != nil {
			return err
		}
	case calls.ActionMute:
		if muted, err = ev.MutedArg(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: action %q", calls.ErrInvalidArgument, ev.Action)
	}
	if ev.CallID == "" {
		return fmt.Errorf("%w: session_id required", calls.ErrInvalidArgument)
	}

	if err := c.lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()

	switch ev.Action {
	case calls.ActionStart, calls.ActionCustom:
		if s, ok, err := c.registry.Get(ctx, ev.CallID); err == nil && ok {
			ev.Session = &s
		}
		c.deliver(ev)
		return nil
	}

	s, err := c.lookup(ctx, ev.CallID)
	if err != nil {
		return err
	}

	var typ audit.EventType
	switch ev.Action {
	case calls.ActionAccept:
		if s.State != calls.CallStatePending {
			return nil
		}
		typ = audit.EventTypeAnswered
	case calls.ActionEnd:
		if s.State == calls.CallStateEnded {
			return nil
		}
		if reason == "" {
			reason = osEndReason(s.State)
		}
		typ = audit.EventTypeEnded
	case calls.ActionMute:
		if s.Muted == muted {
			return nil
		}
		typ = audit.EventTypeMuted
	}

	s, err = c.registry.Update(ctx, ev.CallID, func(s *calls.CallSession) error {
		now := c.now()
		switch ev.Action {
		case calls.ActionAccept:
			s.Accept(now)
		case calls.ActionEnd:
			s.End(reason, now)
		case calls.ActionMute:
			s.SetMuted(muted, now)
		}
		return nil
	})
	if err != nil {
		c.log.Error("apply call-ui action failed", "call_id", ev.CallID, "action", ev.Action, "err", err)
		return err
	}
	c.record(ctx, s, typ, calls.OriginCallUI, "")
	c.log.Debug("call-ui action applied", "call_id", ev.CallID, "action", ev.Action, "state", s.State, "origin", calls.OriginCallUI)

	ev.Session = &s
	c.deliver(ev)
	return nil
}

// osEndReason is the reason recorded when the call-UI ends a call without
// saying why: declining a ringing call is a rejection, hanging up an answered
// call is the user's own end.
func osEndReason(state calls.CallState) calls.EndedReason {
	if state == calls.CallStatePending {
		return calls.EndedByReject
	}
	return calls.EndedByUser
}

// deliver must be called with c.mu held.
func (c *Controller) deliver(ev calls.Event) {
	if !c.dispatcher.NotifyAction(ev) {
		c.log.Debug("action dropped, no listener", "call_id", ev.CallID, "action", ev.Action)
	}
}
