// Package capture owns the capture-session lifecycle. The orchestrator is
// the only writer of session state and serializes all mutation per owner,
// so the at-most-one-active-session invariant holds without cross-owner
// contention.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/briefly-app/briefly/internal/extract"
	"github.com/briefly-app/briefly/internal/store"
)

// ErrNoActiveSession is returned for append/close/cancel without an active
// session.
var ErrNoActiveSession = errors.New("capture: no active session")

// SessionTTL is how long a session may stay active before the background
// sweep fails it.
const SessionTTL = 24 * time.Hour

// Analyzer is the extraction boundary the orchestrator depends on.
type Analyzer interface {
	AnalyzeSession(ctx context.Context, session *store.CaptureSession) extract.Result
	Summarize(ctx context.Context, text string) string
}

// Orchestrator mediates session transitions:
// active -> processing -> completed/failed.
type Orchestrator struct {
	sessions store.SessionRepository
	analyzer Analyzer
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewOrchestrator(sessions store.SessionRepository, analyzer Analyzer, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		sessions: sessions,
		analyzer: analyzer,
		logger:   logger,
		locks:    make(map[int64]*sync.Mutex),
	}
}

// ownerLock returns the mutex serializing session mutation for one owner.
func (o *Orchestrator) ownerLock(owner int64) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[owner]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[owner] = lock
	}
	return lock
}

// Start opens a capture session for the owner. If one is already active it
// is returned unchanged, so starting twice is idempotent.
func (o *Orchestrator) Start(ctx context.Context, owner int64) (*store.CaptureSession, error) {
	lock := o.ownerLock(owner)
	lock.Lock()
	defer lock.Unlock()

	existing, err := o.sessions.GetActive(ctx, owner)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("capture: looking up active session: %w", err)
	}

	session, err := o.sessions.Create(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("capture: creating session: %w", err)
	}
	o.logger.Info("capture session started", "user_id", owner, "session_id", session.ID)
	return session, nil
}

// Append records one message fragment on the owner's active session.
func (o *Orchestrator) Append(ctx context.Context, owner int64, text string) error {
	lock := o.ownerLock(owner)
	lock.Lock()
	defer lock.Unlock()

	session, err := o.sessions.GetActive(ctx, owner)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoActiveSession
		}
		return fmt.Errorf("capture: looking up active session: %w", err)
	}

	fragment := store.Fragment{Text: text, CapturedAt: time.Now().UTC()}
	if err := o.sessions.AppendFragment(ctx, session.ID, fragment); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoActiveSession
		}
		return fmt.Errorf("capture: appending fragment: %w", err)
	}
	return nil
}

// Close transitions the owner's active session to processing and returns
// the snapshot handed to extraction.
func (o *Orchestrator) Close(ctx context.Context, owner int64) (*store.CaptureSession, error) {
	lock := o.ownerLock(owner)
	lock.Lock()
	defer lock.Unlock()

	session, err := o.sessions.GetActive(ctx, owner)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoActiveSession
		}
		return nil, fmt.Errorf("capture: looking up active session: %w", err)
	}

	closedAt := time.Now().UTC()
	if err := o.sessions.Close(ctx, session.ID, closedAt); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoActiveSession
		}
		return nil, fmt.Errorf("capture: closing session %d: %w", session.ID, err)
	}

	session.Status = store.StatusProcessing
	session.ClosedAt = &closedAt
	return session, nil
}

// Cancel marks the owner's active or processing session failed. Captured
// fragments are kept for history; the session is never analyzed and a
// late extraction result cannot resurrect it.
func (o *Orchestrator) Cancel(ctx context.Context, owner int64) error {
	lock := o.ownerLock(owner)
	lock.Lock()
	defer lock.Unlock()

	session, err := o.sessions.GetActive(ctx, owner)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("capture: looking up active session: %w", err)
		}
		session = nil
	}

	if session == nil {
		recent, err := o.sessions.ListByUser(ctx, owner, 1)
		if err != nil {
			return fmt.Errorf("capture: looking up recent session: %w", err)
		}
		if len(recent) == 0 || recent[0].Status != store.StatusProcessing {
			return ErrNoActiveSession
		}
		session = &recent[0]
	}

	if err := o.sessions.SetStatus(ctx, session.ID, store.StatusFailed); err != nil {
		return fmt.Errorf("capture: cancelling session %d: %w", session.ID, err)
	}
	o.logger.Info("capture session cancelled", "user_id", owner, "session_id", session.ID)
	return nil
}

// Process closes the owner's active session, runs extraction, and persists
// the result. Extraction never fails outright, so the session always
// reaches a terminal state; a degraded analysis completes the session with
// an explanatory summary and no events.
func (o *Orchestrator) Process(ctx context.Context, owner int64) (*store.CaptureSession, extract.Result, error) {
	session, err := o.Close(ctx, owner)
	if err != nil {
		return nil, extract.Result{}, err
	}

	// The extraction call happens outside the owner lock: the session is
	// already in processing, so concurrent appends are rejected by status.
	result := o.analyzer.AnalyzeSession(ctx, session)

	if err := o.sessions.Complete(ctx, session.ID, result.Summary); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Cancelled while extraction was running; the terminal failed
			// state wins and the result is discarded.
			o.logger.Info("session cancelled during extraction, result discarded",
				"session_id", session.ID)
			return session, extract.Result{}, nil
		}
		return nil, extract.Result{}, fmt.Errorf("capture: completing session %d: %w", session.ID, err)
	}

	session.Status = store.StatusCompleted
	session.Summary = &result.Summary
	o.logger.Info("capture session processed",
		"session_id", session.ID, "events", len(result.Events))
	return session, result, nil
}

// ProcessSummaryOnly closes the owner's active session and completes it
// with a generated summary, skipping event extraction entirely.
func (o *Orchestrator) ProcessSummaryOnly(ctx context.Context, owner int64) (*store.CaptureSession, string, error) {
	session, err := o.Close(ctx, owner)
	if err != nil {
		return nil, "", err
	}

	summary := o.analyzer.Summarize(ctx, session.FullText())

	if err := o.sessions.Complete(ctx, session.ID, summary); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			o.logger.Info("session cancelled during summarization, result discarded",
				"session_id", session.ID)
			return session, "", nil
		}
		return nil, "", fmt.Errorf("capture: completing session %d: %w", session.ID, err)
	}

	session.Status = store.StatusCompleted
	session.Summary = &summary
	o.logger.Info("capture session summarized", "session_id", session.ID)
	return session, summary, nil
}

// History lists the owner's most recent sessions.
func (o *Orchestrator) History(ctx context.Context, owner int64, limit int) ([]store.CaptureSession, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	return o.sessions.ListByUser(ctx, owner, limit)
}

// SweepExpired fails sessions that have been active longer than SessionTTL.
func (o *Orchestrator) SweepExpired(ctx context.Context) (int64, error) {
	return o.sessions.FailExpired(ctx, time.Now().UTC().Add(-SessionTTL))
}

// Run sweeps expired sessions on the given interval until the context is
// cancelled.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := o.SweepExpired(ctx)
			if err != nil {
				o.logger.Error("expired session sweep failed", "error", err)
			} else if count > 0 {
				o.logger.Info("failed expired capture sessions", "count", count)
			}
		}
	}
}
