// Package cleanup sweeps expired verifier-side records. The verification
// engine is the only subsystem with proactive cleanup; the issuance engine
// expires records lazily at read time instead.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RequestObjectStore exposes cleanup for expired request objects.
type RequestObjectStore interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// ResponseStore exposes cleanup for expired verification responses.
type ResponseStore interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// SessionStore exposes cleanup for expired verification sessions.
type SessionStore interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// CleanupResult summarizes the deletions performed by a cleanup run.
type CleanupResult struct {
	DeletedRequestObjects int
	DeletedResponses      int
	DeletedSessions       int
}

// Total returns the number of records removed in the run.
func (r CleanupResult) Total() int {
	return r.DeletedRequestObjects + r.DeletedResponses + r.DeletedSessions
}

// CleanupService periodically removes expired verification records.
type CleanupService struct {
	requestStore  RequestObjectStore
	responseStore ResponseStore
	sessionStore  SessionStore
	interval      time.Duration
	logger        *slog.Logger
}

// CleanupOption configures CleanupService.
type CleanupOption func(*CleanupService)

// WithCleanupInterval overrides the sweep interval when greater than zero.
func WithCleanupInterval(interval time.Duration) CleanupOption {
	return func(s *CleanupService) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithCleanupLogger overrides the logger used for cleanup errors.
func WithCleanupLogger(logger *slog.Logger) CleanupOption {
	return func(s *CleanupService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a CleanupService with required stores and options applied.
func New(
	requestStore RequestObjectStore,
	responseStore ResponseStore,
	sessionStore SessionStore,
	opts ...CleanupOption,
) (*CleanupService, error) {
	if requestStore == nil || responseStore == nil || sessionStore == nil {
		return nil, fmt.Errorf("requestStore, responseStore, and sessionStore are required")
	}
	svc := &CleanupService{
		requestStore:  requestStore,
		responseStore: responseStore,
		sessionStore:  sessionStore,
		interval:      60 * time.Second,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// Start runs cleanup periodically until ctx is cancelled.
func (s *CleanupService) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			result, err := s.RunOnce(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "verification cleanup failed", "error", err)
				continue
			}
			if result.Total() > 0 {
				s.logger.InfoContext(ctx, "verification cleanup removed expired records",
					"request_objects", result.DeletedRequestObjects,
					"responses", result.DeletedResponses,
					"sessions", result.DeletedSessions)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce performs a single sweep over all three verifier stores. Errors are
// aggregated so one failing store does not block the others.
func (s *CleanupService) RunOnce(ctx context.Context) (CleanupResult, error) {
	now := time.Now()
	var res CleanupResult
	var errs []error

	deletedRequests, err := s.requestStore.DeleteExpired(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("delete expired request objects: %w", err))
	} else {
		res.DeletedRequestObjects = deletedRequests
	}

	deletedResponses, err := s.responseStore.DeleteExpired(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("delete expired responses: %w", err))
	} else {
		res.DeletedResponses = deletedResponses
	}

	deletedSessions, err := s.sessionStore.DeleteExpired(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("delete expired sessions: %w", err))
	} else {
		res.DeletedSessions = deletedSessions
	}

	if len(errs) > 0 {
		return res, errors.Join(errs...)
	}
	return res, nil
}
