package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, e Event) error
	ListByCall(ctx context.Context, callID string) ([]Event, error)
}

// Service records the call history.
//
// Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// WithClock overrides the time source. Tests use it for deterministic timestamps.
func (s *Service) WithClock(clock func() time.Time) *Service {
	if clock != nil {
		s.clock = clock
	}
	return s
}

var (
	ErrInvalidEvent      = errors.New("audit: invalid event")
	ErrRepoNotConfigured = errors.New("audit: repository not configured")
)

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return ErrRepoNotConfigured
	}
	if e.CallID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// Record appends a lifecycle event for callID.
func (s *Service) Record(ctx context.Context, callID string, typ EventType, origin, state, reason, message string) error {
	return s.Append(ctx, Event{
		CallID:  callID,
		Type:    typ,
		Origin:  origin,
		State:   state,
		Reason:  reason,
		Message: message,
	})
}

// History returns the events of one call, oldest first.
func (s *Service) History(ctx context.Context, callID string) ([]Event, error) {
	if s.repo == nil {
		return nil, ErrRepoNotConfigured
	}
	if callID == "" {
		return nil, ErrInvalidEvent
	}
	return s.repo.ListByCall(ctx, callID)
}
