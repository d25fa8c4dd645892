package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service is the enqueue side of the outbox, used by the domain services.
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Enqueue appends a pending event. It runs in the caller's transaction, so
// the event commits atomically with the mutation it describes.
func (s *Service) Enqueue(ctx context.Context, eventType, subjectType string, subjectID uuid.UUID, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	now := s.now()
	e := &Event{
		EventType:     eventType,
		SubjectType:   subjectType,
		SubjectID:     subjectID.String(),
		Payload:       body,
		OccurredAt:    now,
		Status:        StatusPending,
		NextAttemptAt: now,
	}
	if err := s.repo.Enqueue(ctx, e); err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}
	return nil
}
