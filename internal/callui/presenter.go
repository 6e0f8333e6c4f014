// Package callui is the outbound boundary to the OS call-UI subsystem.
//
// Every request is fire-and-forget: the presenter returns immediately and
// reports the outcome later through the Completion. Implementations must call
// done exactly once when it is non-nil.
package callui

import (
	"context"

	"voip-callkit/internal/calls"
)

// Completion receives the outcome of a presentation request. nil means the
// call-UI accepted it.
type Completion func(err error)

type Presenter interface {
	Name() string

	// ReportIncomingCall shows the system incoming-call screen.
	ReportIncomingCall(ctx context.Context, call IncomingCall, done Completion)

	// EndCall hides the call screen for id.
	EndCall(ctx context.Context, callID string, reason calls.EndedReason, done Completion)

	// AnswerCall tells the call-UI the application answered the call itself.
	AnswerCall(ctx context.Context, callID string, done Completion)

	SetMuted(ctx context.Context, callID string, muted bool, done Completion)
}

// IncomingCall is what the call-UI needs to present a call.
type IncomingCall struct {
	CallID     string         `json:"session_id"`
	CallType   calls.CallType `json:"call_type"`
	CallerID   int64          `json:"caller_id"`
	CallerName string         `json:"caller_name"`
	Opponents  []int64        `json:"call_opponents,omitempty"`
	UserInfo   string         `json:"user_info,omitempty"`

	Display DisplayConfig `json:"display"`
}

// IncomingCallFrom projects a session onto the presentation request.
func IncomingCallFrom(s calls.CallSession, display DisplayConfig) IncomingCall {
	return IncomingCall{
		CallID:     s.ID,
		CallType:   s.CallType,
		CallerID:   s.InitiatorID,
		CallerName: s.InitiatorName,
		Opponents:  s.Clone().OpponentIDs,
		UserInfo:   s.UserInfo,
		Display:    display,
	}
}

func complete(done Completion, err error) {
	if done != nil {
		done(err)
	}
}

// NopPresenter accepts every request without showing anything.
// It backs headless deployments where no OS call-UI is attached.
type NopPresenter struct{}

func NewNopPresenter() *NopPresenter { return &NopPresenter{} }

func (p *NopPresenter) Name() string { return "nop" }

func (p *NopPresenter) ReportIncomingCall(_ context.Context, _ IncomingCall, done Completion) {
	complete(done, nil)
}

func (p *NopPresenter) EndCall(_ context.Context, _ string, _ calls.EndedReason, done Completion) {
	complete(done, nil)
}

func (p *NopPresenter) AnswerCall(_ context.Context, _ string, done Completion) {
	complete(done, nil)
}

func (p *NopPresenter) SetMuted(_ context.Context, _ string, _ bool, done Completion) {
	complete(done, nil)
}
