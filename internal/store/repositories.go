package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a queried row does not exist.
var ErrNotFound = errors.New("store: not found")

// SessionRepository defines persistence operations for capture sessions.
type SessionRepository interface {
	Create(ctx context.Context, userID int64) (*CaptureSession, error)
	GetByID(ctx context.Context, id int64) (*CaptureSession, error)
	GetActive(ctx context.Context, userID int64) (*CaptureSession, error)
	AppendFragment(ctx context.Context, id int64, fragment Fragment) error
	Close(ctx context.Context, id int64, closedAt time.Time) error
	Complete(ctx context.Context, id int64, summary string) error
	SetStatus(ctx context.Context, id int64, status SessionStatus) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]CaptureSession, error)
	FailExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// EventRepository handles extracted-event storage.
type EventRepository interface {
	CreateBatch(ctx context.Context, events []ExtractedEvent) ([]ExtractedEvent, error)
	GetByID(ctx context.Context, userID, id int64) (*ExtractedEvent, error)
	ListByIDs(ctx context.Context, userID int64, ids []int64) ([]ExtractedEvent, error)
	ListBySession(ctx context.Context, sessionID int64) ([]ExtractedEvent, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]ExtractedEvent, error)
	SetCalendarEventID(ctx context.Context, id int64, calendarEventID string) error
	Delete(ctx context.Context, userID, id int64) error
}

// SettingsRepository manages user settings, including the encrypted
// delegated credential.
type SettingsRepository interface {
	Get(ctx context.Context, userID int64) (*UserSettings, error)
	SaveCredential(ctx context.Context, userID int64, encrypted []byte) error
	ClearCredential(ctx context.Context, userID int64) error
	SetCalendarID(ctx context.Context, userID int64, calendarID *string) error
	SetAutoSync(ctx context.Context, userID int64, autoSync bool) error
}
