package metastore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"voip-callkit/internal/calls"
)

var ErrMalformed = errors.New("metastore: malformed record")

// sessionRecord is the stored encoding. Field names are part of the on-disk
// format and must not change; the API projection lives on calls.CallSession.
type sessionRecord struct {
	ID            string  `json:"id"`
	CallType      string  `json:"type"`
	InitiatorID   int64   `json:"initiator_id"`
	InitiatorName string  `json:"initiator_name"`
	Opponents     []int64 `json:"opponents"`
	State         string  `json:"state"`
	AppState      string  `json:"app_state,omitempty"`
	Muted         bool    `json:"muted"`
	EndedReason   string  `json:"ended_reason,omitempty"`
	UserInfo      *string `json:"user_info,omitempty"`
	CreatedAt     int64   `json:"created_at"`
	UpdatedAt     int64   `json:"updated_at"`
}

// EncodeSession validates and serializes a session.
func EncodeSession(s calls.CallSession) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	rec := sessionRecord{
		ID:            s.ID,
		CallType:      string(s.CallType),
		InitiatorID:   s.InitiatorID,
		InitiatorName: s.InitiatorName,
		Opponents:     s.OpponentIDs,
		State:         string(s.State),
		AppState:      s.AppState,
		Muted:         s.Muted,
		EndedReason:   string(s.EndedReason),
		CreatedAt:     s.CreatedAt.UnixMilli(),
		UpdatedAt:     s.UpdatedAt.UnixMilli(),
	}
	if s.UserInfo != "" {
		rec.UserInfo = &s.UserInfo
	}
	return json.Marshal(rec)
}

// DecodeSession is the inverse of EncodeSession. Any structural problem is
// reported as ErrMalformed so callers can treat the record as absent.
func DecodeSession(data []byte) (calls.CallSession, error) {
	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return calls.CallSession{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	s := calls.CallSession{
		ID:            rec.ID,
		CallType:      calls.CallType(rec.CallType),
		InitiatorID:   rec.InitiatorID,
		InitiatorName: rec.InitiatorName,
		OpponentIDs:   rec.Opponents,
		State:         calls.CallState(rec.State),
		AppState:      rec.AppState,
		Muted:         rec.Muted,
		EndedReason:   calls.EndedReason(rec.EndedReason),
		CreatedAt:     time.UnixMilli(rec.CreatedAt).UTC(),
		UpdatedAt:     time.UnixMilli(rec.UpdatedAt).UTC(),
	}
	if rec.UserInfo != nil {
		s.UserInfo = *rec.UserInfo
	}
	if err := s.Validate(); err != nil {
		return calls.CallSession{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return s, nil
}
