package calls

import "fmt"

// Action is an OS call-UI action delivered to the application listener.
type Action string

const (
	ActionStart  Action = "start"
	ActionAccept Action = "accept"
	ActionEnd    Action = "end"
	ActionMute   Action = "mute"

	// ActionCustom carries any action the core does not interpret; Event.Name keeps the raw name.
	ActionCustom Action = "custom"
)

// Origin records which collaborator triggered a change.
type Origin string

const (
	OriginApp    Origin = "app"
	OriginCallUI Origin = "call_ui"
	OriginPush   Origin = "push"
)

// Event is what the dispatcher hands to the single action listener.
type Event struct {
	Action Action         `json:"event"`
	Name   string         `json:"name,omitempty"`
	CallID string         `json:"session_id"`
	Args   map[string]any `json:"args,omitempty"`

	// Session is a snapshot taken after the change was committed; nil when no session exists.
	Session *CallSession `json:"session,omitempty"`
}

// NewCustomEvent builds an event for an action name the core does not know.
func NewCustomEvent(name, callID string, args map[string]any) Event {
	return Event{Action: ActionCustom, Name: name, CallID: NormalizeID(callID), Args: args}
}

// MutedArg extracts the required "muted" flag of a mute action.
func (e Event) MutedArg() (bool, error) {
	v, ok := e.Args["muted"]
	if !ok {
		return false, fmt.Errorf("%w: mute action needs args.muted", ErrInvalidArgument)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: args.muted must be a bool, got %T", ErrInvalidArgument, v)
	}
	return b, nil
}

// ReasonArg extracts the optional "reason" of an end action.
// An absent reason yields the zero value so the default applies downstream.
func (e Event) ReasonArg() (EndedReason, error) {
	v, ok := e.Args["reason"]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: args.reason must be a string, got %T", ErrInvalidArgument, v)
	}
	if s == "" {
		return "", nil
	}
	return ParseEndedReason(s)
}
