package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"attendkiosk/internal/queue"
)

// Outcomes recorded for a capture attempt.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// MessageType tags journal messages on the queue.
const MessageType = "capture_attempt"

// Attempt is one finished capture run as seen by the kiosk.
type Attempt struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	StudentID  string    `json:"student_id,omitempty"`
	Mode       string    `json:"mode"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	Message    string    `json:"message"`
	Frames     int       `json:"frames"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// Journal publishes attempts to a queue for the worker to persist.
type Journal struct {
	q queue.Queue
}

// NewJournal creates a journal on top of q.
func NewJournal(q queue.Queue) *Journal {
	return &Journal{q: q}
}

// Record enqueues a finished attempt.
func (j *Journal) Record(ctx context.Context, a Attempt) error {
	if a.SessionID == "" {
		return errors.New("session id required")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode attempt: %w", err)
	}
	return j.q.Publish(ctx, queue.Message{Type: MessageType, Body: body})
}

// Decode parses a journal message body.
func Decode(msg queue.Message) (Attempt, error) {
	if msg.Type != MessageType {
		return Attempt{}, fmt.Errorf("unexpected message type %q", msg.Type)
	}
	var a Attempt
	if err := json.Unmarshal(msg.Body, &a); err != nil {
		return Attempt{}, fmt.Errorf("decode attempt: %w", err)
	}
	return a, nil
}

// Service persists and lists journaled attempts.
type Service struct {
	repo *Repository
}

// NewService creates a service backed by a repository.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// Persist stores an attempt consumed from the queue. Redelivered attempts are ignored.
func (s *Service) Persist(ctx context.Context, a Attempt) error {
	if a.ID == "" || a.SessionID == "" {
		return errors.New("attempt and session id required")
	}
	if a.Outcome != OutcomeSucceeded && a.Outcome != OutcomeFailed {
		return fmt.Errorf("unknown outcome %q", a.Outcome)
	}
	if a.FinishedAt.IsZero() {
		a.FinishedAt = time.Now().UTC()
	}
	return s.repo.InsertAttempt(ctx, a)
}

// Recent lists attempts, newest first.
func (s *Service) Recent(ctx context.Context, studentID string, limit, offset int) ([]Attempt, error) {
	return s.repo.ListAttempts(ctx, studentID, limit, offset)
}
