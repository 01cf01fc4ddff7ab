package attendance

import (
	"context"
	"fmt"
	"log/slog"

	"attendkiosk/internal/queue"
)

// PersistFunc stores one decoded attempt.
type PersistFunc func(ctx context.Context, a Attempt) error

// Drain consumes journal messages from q until ctx ends, handing each
// attempt to persist. Undecodable messages and persist failures are logged
// and skipped.
func Drain(ctx context.Context, q queue.Queue, persist PersistFunc, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume journal: %w", err)
	}
	for msg := range messages {
		a, err := Decode(msg)
		if err != nil {
			logger.Warn("skipping journal message", slog.String("type", msg.Type), slog.Any("error", err))
			continue
		}
		if err := persist(ctx, a); err != nil {
			logger.Error("persist attempt failed",
				slog.String("attempt_id", a.ID),
				slog.String("session_id", a.SessionID),
				slog.Any("error", err))
			continue
		}
		logger.Debug("attempt persisted", slog.String("attempt_id", a.ID), slog.String("outcome", a.Outcome))
	}
	return ctx.Err()
}

// LogOnly is a PersistFunc for stations without a journal database.
func LogOnly(logger *slog.Logger) PersistFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, a Attempt) error {
		logger.Info("capture attempt",
			slog.String("attempt_id", a.ID),
			slog.String("session_id", a.SessionID),
			slog.String("student_id", a.StudentID),
			slog.String("mode", a.Mode),
			slog.String("outcome", a.Outcome),
			slog.String("reason", a.Reason),
			slog.Int("frames", a.Frames))
		return nil
	}
}
