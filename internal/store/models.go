package store

import "time"

// SessionStatus is the lifecycle state of a capture session.
type SessionStatus string

const (
	StatusActive     SessionStatus = "active"
	StatusProcessing SessionStatus = "processing"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
)

// Fragment is one captured message inside a session, in insertion order.
type Fragment struct {
	Text       string    `json:"text"`
	CapturedAt time.Time `json:"captured_at"`
}

// CaptureSession is a bounded unit of raw user input awaiting analysis.
type CaptureSession struct {
	ID        int64
	UserID    int64
	Status    SessionStatus
	Fragments []Fragment
	Summary   *string
	StartedAt time.Time
	ClosedAt  *time.Time
}

// FullText concatenates fragments in capture order for analysis.
func (s *CaptureSession) FullText() string {
	out := ""
	for i, f := range s.Fragments {
		if i > 0 {
			out += "\n"
		}
		out += f.Text
	}
	return out
}

// ExtractedEvent is one structured obligation derived from a session.
// Date and Time hold the normalized YYYY-MM-DD and HH:MM forms; StartAt is
// their combination when both are present (midnight when only the date is).
type ExtractedEvent struct {
	ID              int64
	SessionID       int64
	UserID          int64
	Title           string
	Type            string
	Priority        string
	Date            *string
	Time            *string
	StartAt         *time.Time
	Location        *string
	Participants    []string
	ActionItems     []string
	CalendarEventID *string
	CreatedAt       time.Time
}

// UserSettings holds a user's calendar connection state and preferences.
// RefreshTokenEnc is opaque ciphertext; only the vault reads or writes the
// plaintext.
type UserSettings struct {
	UserID            int64
	CalendarConnected bool
	RefreshTokenEnc   []byte
	CalendarID        *string
	AutoSync          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
