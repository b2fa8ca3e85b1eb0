package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MegaGrindStone/langgraph-web-ui/internal/models"
	"github.com/google/uuid"
)

// ThreadAPI is the part of the remote service the SessionManager talks to.
type ThreadAPI interface {
	GetThread(ctx context.Context, threadID string) (models.Thread, error)
	CreateThread(ctx context.Context, threadID string) (models.Thread, error)
}

// SessionManager owns the thread lifecycle of conversations: it generates thread ids, creates threads and
// reuses existing ones.
type SessionManager struct {
	threads ThreadAPI

	logger *slog.Logger
}

// ErrThreadUnavailable is returned when a thread can neither be fetched nor created.
var ErrThreadUnavailable = errors.New("thread unavailable")

// NewSessionManager creates a SessionManager on top of the given thread API.
func NewSessionManager(threads ThreadAPI, logger *slog.Logger) SessionManager {
	return SessionManager{
		threads: threads,
		logger:  logger.With(slog.String("module", "session")),
	}
}

// GenerateID returns a fresh random UUID to be used as a thread id.
func (s SessionManager) GenerateID() string {
	return uuid.NewString()
}

// CreateThread creates the thread with the given id on the remote service. Any failure matches
// ErrThreadUnavailable.
func (s SessionManager) CreateThread(ctx context.Context, threadID string) (models.Thread, error) {
	thread, err := s.threads.CreateThread(ctx, threadID)
	if err != nil {
		return models.Thread{}, fmt.Errorf("%w: %w", ErrThreadUnavailable, err)
	}
	if thread.ThreadID == "" {
		thread.ThreadID = threadID
	}

	s.logger.Info("Created thread", slog.String("threadID", thread.ThreadID))

	return thread, nil
}

// EnsureThread returns the thread with the given id, creating it when it can't be fetched. A fetch
// failure of any kind, not only a missing thread, leads to a creation attempt. When the creation fails
// too, the returned error matches ErrThreadUnavailable.
func (s SessionManager) EnsureThread(ctx context.Context, threadID string) (models.Thread, error) {
	thread, err := s.threads.GetThread(ctx, threadID)
	if err == nil {
		if thread.ThreadID == "" {
			thread.ThreadID = threadID
		}
		s.logger.Debug("Reusing thread",
			slog.String("threadID", thread.ThreadID),
			slog.String("status", string(thread.Status)))
		return thread, nil
	}

	s.logger.Warn("Thread not found, creating new one",
		slog.String("threadID", threadID),
		slog.String(errLoggerKey, err.Error()))

	return s.CreateThread(ctx, threadID)
}
