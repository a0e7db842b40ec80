package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type sessionRepo struct {
	pool *pgxpool.Pool
}

const sessionColumns = `id, user_id, status, fragments, summary, started_at, closed_at`

func scanSession(row pgx.Row) (*CaptureSession, error) {
	var (
		s         CaptureSession
		fragments []byte
	)
	err := row.Scan(&s.ID, &s.UserID, &s.Status, &fragments, &s.Summary, &s.StartedAt, &s.ClosedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(fragments) > 0 {
		if err := json.Unmarshal(fragments, &s.Fragments); err != nil {
			return nil, fmt.Errorf("decode fragments for session %d: %w", s.ID, err)
		}
	}
	return &s, nil
}

func (r *sessionRepo) Create(ctx context.Context, userID int64) (*CaptureSession, error) {
	const q = `INSERT INTO capture_sessions (user_id, status)
VALUES ($1, $2)
RETURNING ` + sessionColumns
	return scanSession(r.pool.QueryRow(ctx, q, userID, StatusActive))
}

func (r *sessionRepo) GetByID(ctx context.Context, id int64) (*CaptureSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM capture_sessions WHERE id=$1`
	return scanSession(r.pool.QueryRow(ctx, q, id))
}

func (r *sessionRepo) GetActive(ctx context.Context, userID int64) (*CaptureSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM capture_sessions
WHERE user_id=$1 AND status=$2`
	return scanSession(r.pool.QueryRow(ctx, q, userID, StatusActive))
}

func (r *sessionRepo) AppendFragment(ctx context.Context, id int64, fragment Fragment) error {
	encoded, err := json.Marshal(fragment)
	if err != nil {
		return fmt.Errorf("encode fragment: %w", err)
	}
	const q = `UPDATE capture_sessions
SET fragments = fragments || $2::jsonb
WHERE id=$1 AND status=$3`
	tag, err := r.pool.Exec(ctx, q, id, encoded, StatusActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sessionRepo) Close(ctx context.Context, id int64, closedAt time.Time) error {
	const q = `UPDATE capture_sessions
SET status=$2, closed_at=$3
WHERE id=$1 AND status=$4`
	tag, err := r.pool.Exec(ctx, q, id, StatusProcessing, closedAt, StatusActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sessionRepo) Complete(ctx context.Context, id int64, summary string) error {
	const q = `UPDATE capture_sessions
SET status=$2, summary=$3
WHERE id=$1 AND status=$4`
	tag, err := r.pool.Exec(ctx, q, id, StatusCompleted, summary, StatusProcessing)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sessionRepo) SetStatus(ctx context.Context, id int64, status SessionStatus) error {
	const q = `UPDATE capture_sessions SET status=$2 WHERE id=$1`
	tag, err := r.pool.Exec(ctx, q, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sessionRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]CaptureSession, error) {
	const q = `SELECT ` + sessionColumns + ` FROM capture_sessions
WHERE user_id=$1
ORDER BY started_at DESC
LIMIT $2`
	rows, err := r.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []CaptureSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func (r *sessionRepo) FailExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `UPDATE capture_sessions
SET status=$1
WHERE status=$2 AND started_at < $3`
	tag, err := r.pool.Exec(ctx, q, StatusFailed, StatusActive, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type eventRepo struct {
	pool *pgxpool.Pool
}

const eventColumns = `id, session_id, user_id, title, event_type, priority,
event_date, event_time, start_at, location, participants, action_items,
calendar_event_id, created_at`

func scanEvent(row pgx.Row) (*ExtractedEvent, error) {
	var e ExtractedEvent
	var participants, actionItems []byte
	err := row.Scan(&e.ID, &e.SessionID, &e.UserID, &e.Title, &e.Type, &e.Priority,
		&e.Date, &e.Time, &e.StartAt, &e.Location, &participants, &actionItems,
		&e.CalendarEventID, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(participants) > 0 {
		if err := json.Unmarshal(participants, &e.Participants); err != nil {
			return nil, fmt.Errorf("decode participants for event %d: %w", e.ID, err)
		}
	}
	if len(actionItems) > 0 {
		if err := json.Unmarshal(actionItems, &e.ActionItems); err != nil {
			return nil, fmt.Errorf("decode action items for event %d: %w", e.ID, err)
		}
	}
	return &e, nil
}

func (r *eventRepo) CreateBatch(ctx context.Context, events []ExtractedEvent) ([]ExtractedEvent, error) {
	if len(events) == 0 {
		return nil, nil
	}

	const q = `INSERT INTO extracted_events
(session_id, user_id, title, event_type, priority, event_date, event_time,
 start_at, location, participants, action_items)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING ` + eventColumns

	created := make([]ExtractedEvent, 0, len(events))
	for _, e := range events {
		participants, err := json.Marshal(emptyIfNil(e.Participants))
		if err != nil {
			return nil, fmt.Errorf("encode participants: %w", err)
		}
		actionItems, err := json.Marshal(emptyIfNil(e.ActionItems))
		if err != nil {
			return nil, fmt.Errorf("encode action items: %w", err)
		}

		row, err := scanEvent(r.pool.QueryRow(ctx, q,
			e.SessionID, e.UserID, e.Title, e.Type, e.Priority, e.Date, e.Time,
			e.StartAt, e.Location, participants, actionItems))
		if err != nil {
			return created, fmt.Errorf("insert event %q: %w", e.Title, err)
		}
		created = append(created, *row)
	}
	return created, nil
}

func (r *eventRepo) GetByID(ctx context.Context, userID, id int64) (*ExtractedEvent, error) {
	const q = `SELECT ` + eventColumns + ` FROM extracted_events
WHERE id=$1 AND user_id=$2`
	return scanEvent(r.pool.QueryRow(ctx, q, id, userID))
}

func (r *eventRepo) ListByIDs(ctx context.Context, userID int64, ids []int64) ([]ExtractedEvent, error) {
	const q = `SELECT ` + eventColumns + ` FROM extracted_events
WHERE user_id=$1 AND id = ANY($2)
ORDER BY created_at`
	return r.queryEvents(ctx, q, userID, ids)
}

func (r *eventRepo) ListBySession(ctx context.Context, sessionID int64) ([]ExtractedEvent, error) {
	const q = `SELECT ` + eventColumns + ` FROM extracted_events
WHERE session_id=$1
ORDER BY created_at`
	return r.queryEvents(ctx, q, sessionID)
}

func (r *eventRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]ExtractedEvent, error) {
	const q = `SELECT ` + eventColumns + ` FROM extracted_events
WHERE user_id=$1
ORDER BY created_at DESC
LIMIT $2`
	return r.queryEvents(ctx, q, userID, limit)
}

func (r *eventRepo) queryEvents(ctx context.Context, q string, args ...any) ([]ExtractedEvent, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ExtractedEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func (r *eventRepo) SetCalendarEventID(ctx context.Context, id int64, calendarEventID string) error {
	const q = `UPDATE extracted_events SET calendar_event_id=$2 WHERE id=$1`
	tag, err := r.pool.Exec(ctx, q, id, calendarEventID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *eventRepo) Delete(ctx context.Context, userID, id int64) error {
	const q = `DELETE FROM extracted_events WHERE id=$1 AND user_id=$2`
	tag, err := r.pool.Exec(ctx, q, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type settingsRepo struct {
	pool *pgxpool.Pool
}

func (r *settingsRepo) Get(ctx context.Context, userID int64) (*UserSettings, error) {
	const q = `SELECT user_id, calendar_connected, refresh_token_enc, calendar_id,
auto_sync, created_at, updated_at
FROM user_settings WHERE user_id=$1`
	var s UserSettings
	err := r.pool.QueryRow(ctx, q, userID).Scan(&s.UserID, &s.CalendarConnected,
		&s.RefreshTokenEnc, &s.CalendarID, &s.AutoSync, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *settingsRepo) SaveCredential(ctx context.Context, userID int64, encrypted []byte) error {
	const q = `INSERT INTO user_settings (user_id, calendar_connected, refresh_token_enc, updated_at)
VALUES ($1, TRUE, $2, NOW())
ON CONFLICT (user_id) DO UPDATE
SET calendar_connected=TRUE, refresh_token_enc=EXCLUDED.refresh_token_enc, updated_at=NOW()`
	_, err := r.pool.Exec(ctx, q, userID, encrypted)
	return err
}

// ClearCredential disconnects the calendar: the connected flag, ciphertext,
// and calendar selection are cleared in one statement.
func (r *settingsRepo) ClearCredential(ctx context.Context, userID int64) error {
	const q = `UPDATE user_settings
SET calendar_connected=FALSE, refresh_token_enc=NULL, calendar_id=NULL, updated_at=NOW()
WHERE user_id=$1`
	_, err := r.pool.Exec(ctx, q, userID)
	return err
}

func (r *settingsRepo) SetCalendarID(ctx context.Context, userID int64, calendarID *string) error {
	const q = `INSERT INTO user_settings (user_id, calendar_id, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (user_id) DO UPDATE SET calendar_id=EXCLUDED.calendar_id, updated_at=NOW()`
	_, err := r.pool.Exec(ctx, q, userID, calendarID)
	return err
}

func (r *settingsRepo) SetAutoSync(ctx context.Context, userID int64, autoSync bool) error {
	const q = `INSERT INTO user_settings (user_id, auto_sync, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (user_id) DO UPDATE SET auto_sync=EXCLUDED.auto_sync, updated_at=NOW()`
	_, err := r.pool.Exec(ctx, q, userID, autoSync)
	return err
}

func emptyIfNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
