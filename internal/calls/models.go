package calls

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// CallSession is one tracked call attempt, from invitation to termination.
//
// Invariants:
// - ID is lowercase and never changes after creation.
// - State only moves forward: pending -> accepted -> ended, or pending -> ended.
// - EndedReason is set iff State == CallStateEnded.
// - Muted is not reset when the call leaves accepted.
//
// AppState is an opaque application sub-state ("ringing", "connecting", ...).
// It is stored alongside the session and never interpreted here.
type CallSession struct {
	ID       string   `json:"session_id"`
	CallType CallType `json:"call_type"`

	InitiatorID   int64   `json:"caller_id"`
	InitiatorName string  `json:"caller_name"`
	OpponentIDs   []int64 `json:"call_opponents"`

	State       CallState   `json:"state"`
	AppState    string      `json:"call_state,omitempty"`
	Muted       bool        `json:"muted"`
	EndedReason EndedReason `json:"ended_reason,omitempty"`

	// UserInfo is passed through unmodified.
	UserInfo string `json:"user_info,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers never share the opponents slice.
func (s CallSession) Clone() CallSession {
	out := s
	out.OpponentIDs = slices.Clone(s.OpponentIDs)
	return out
}

// Accept moves a pending session to accepted.
// It reports whether anything changed; accepted and ended sessions are left as-is.
func (s *CallSession) Accept(now time.Time) bool {
	if s.State != CallStatePending {
		return false
	}
	s.State = CallStateAccepted
	s.UpdatedAt = now
	return true
}

// End moves the session to ended with the given reason.
// A session that is already ended keeps its original reason.
func (s *CallSession) End(reason EndedReason, now time.Time) bool {
	if s.State == CallStateEnded {
		return false
	}
	if reason == "" {
		reason = DefaultEndedReason
	}
	s.State = CallStateEnded
	s.EndedReason = reason
	s.UpdatedAt = now
	return true
}

// SetMuted reports whether the flag changed.
func (s *CallSession) SetMuted(muted bool, now time.Time) bool {
	if s.Muted == muted {
		return false
	}
	s.Muted = muted
	s.UpdatedAt = now
	return true
}

// Validate checks the structural invariants of a session.
func (s CallSession) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: session_id required", ErrInvalidArgument)
	}
	if s.ID != NormalizeID(s.ID) {
		return fmt.Errorf("%w: session_id must be normalized", ErrInvalidArgument)
	}
	if !s.CallType.Valid() {
		return fmt.Errorf("%w: call_type %q", ErrInvalidArgument, s.CallType)
	}
	switch s.State {
	case CallStatePending, CallStateAccepted:
		if s.EndedReason != "" {
			return fmt.Errorf("%w: ended_reason set on %s session", ErrInvalidArgument, s.State)
		}
	case CallStateEnded:
		if !s.EndedReason.Valid() {
			return fmt.Errorf("%w: ended session needs a valid ended_reason", ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("%w: state %q", ErrInvalidArgument, s.State)
	}
	return nil
}

// NormalizeID is the canonical form of a call identifier.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// CallState is the core three-state machine plus the query-only unknown sentinel.
type CallState string

const (
	CallStatePending  CallState = "pending"
	CallStateAccepted CallState = "accepted"
	CallStateEnded    CallState = "ended"

	// CallStateUnknown is only ever returned by queries for absent ids.
	CallStateUnknown CallState = "unknown"
)

type EndedReason string

const (
	EndedByUser       EndedReason = "ended_by_user"
	EndedByReject     EndedReason = "ended_by_reject"
	EndedByUnanswered EndedReason = "ended_by_unanswered"
	EndedByError      EndedReason = "ended_by_error"
	EndedByMissed     EndedReason = "ended_by_missed"
	EndedByRemote     EndedReason = "ended_by_remote"
)

// DefaultEndedReason is recorded when an end request carries no reason.
const DefaultEndedReason = EndedByRemote

func (r EndedReason) Valid() bool {
	switch r {
	case EndedByUser, EndedByReject, EndedByUnanswered, EndedByError, EndedByMissed, EndedByRemote:
		return true
	default:
		return false
	}
}
