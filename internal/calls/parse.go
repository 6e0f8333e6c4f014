package calls

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownAction is returned by ParseAction for names outside the closed set.
// Boundaries that accept custom actions check for it and build a custom event instead.
var ErrUnknownAction = fmt.Errorf("%w: unknown action", ErrInvalidArgument)

// Wire codes used by push payloads for call_type.
const (
	callTypeCodeVideo = 1
	callTypeCodeAudio = 2
)

// ParseCallType accepts "audio"/"video" in any case, or the numeric push codes.
func ParseCallType(raw string) (CallType, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch v {
	case string(CallTypeAudio):
		return CallTypeAudio, nil
	case string(CallTypeVideo):
		return CallTypeVideo, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return CallTypeFromCode(n)
	}
	return "", fmt.Errorf("%w: call_type %q", ErrInvalidArgument, raw)
}

func CallTypeFromCode(code int) (CallType, error) {
	switch code {
	case callTypeCodeVideo:
		return CallTypeVideo, nil
	case callTypeCodeAudio:
		return CallTypeAudio, nil
	default:
		return "", fmt.Errorf("%w: call_type code %d", ErrInvalidArgument, code)
	}
}

// ParseEndedReason accepts the wire value in any case.
func ParseEndedReason(raw string) (EndedReason, error) {
	r := EndedReason(strings.ToLower(strings.TrimSpace(raw)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: ended reason %q", ErrInvalidArgument, raw)
	}
	return r, nil
}

func ParseAction(raw string) (Action, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	switch Action(name) {
	case ActionStart, ActionAccept, ActionEnd, ActionMute:
		return Action(name), nil
	case "":
		return "", fmt.Errorf("%w: event required", ErrInvalidArgument)
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownAction, raw)
	}
}

// IsUnknownAction reports whether err came from ParseAction rejecting a name.
func IsUnknownAction(err error) bool { return errors.Is(err, ErrUnknownAction) }

// ParseOpponents parses a comma-separated list of participant ids, keeping input order.
// Empty entries are skipped; anything non-numeric is rejected.
func ParseOpponents(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: call_opponents entry %q", ErrInvalidArgument, p)
		}
		out = append(out, n)
	}
	return out, nil
}
