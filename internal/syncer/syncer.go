// Package syncer maps validated extracted events into calendar payloads and
// delivers them through the delegated-access client. Partial success is the
// expected shape of a sync pass: every event gets its own outcome and one
// failure never aborts the rest of the batch.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	calendar "google.golang.org/api/calendar/v3"

	"github.com/briefly-app/briefly/internal/google"
	"github.com/briefly-app/briefly/internal/store"
)

// Calendar is the calendar-API boundary, satisfied by google.CalendarClient.
type Calendar interface {
	PrimaryCalendarID(ctx context.Context, owner int64) (string, error)
	InsertEvent(ctx context.Context, owner int64, calendarID string, event *calendar.Event) (string, error)
	UpdateEvent(ctx context.Context, owner int64, calendarID, eventID string, event *calendar.Event) error
	EventsBetween(ctx context.Context, owner int64, calendarID string, from, to time.Time) ([]google.BusySlot, error)
}

// Outcome is the per-event result of a sync pass.
type Outcome struct {
	EventID         int64
	Title           string
	Created         bool
	Updated         bool
	CalendarEventID string
	Reason          string
}

// Report aggregates a sync pass. Every event gets exactly one outcome:
// created, updated, or failed.
type Report struct {
	CreatedCount int
	UpdatedCount int
	FailedCount  int
	Outcomes     []Outcome
}

// Syncer coordinates one owner's sync passes.
type Syncer struct {
	calendar Calendar
	events   store.EventRepository
	sessions store.SessionRepository
	settings store.SettingsRepository
	logger   *slog.Logger
}

func New(cal Calendar, events store.EventRepository, sessions store.SessionRepository, settings store.SettingsRepository, logger *slog.Logger) *Syncer {
	return &Syncer{
		calendar: cal,
		events:   events,
		sessions: sessions,
		settings: settings,
		logger:   logger,
	}
}

// Sync delivers the selected events to the owner's calendar. Credential
// problems (not connected, reauthorization required) fail the whole pass
// since no event could succeed; everything else is a per-event outcome.
func (s *Syncer) Sync(ctx context.Context, owner int64, eventIDs []int64) (*Report, error) {
	events, err := s.events.ListByIDs(ctx, owner, eventIDs)
	if err != nil {
		return nil, fmt.Errorf("syncer: loading events: %w", err)
	}

	report := &Report{}
	summaries := make(map[int64]string)

	// The target calendar is resolved lazily on the first syncable event
	// and reused for the rest of the pass.
	calendarID := ""

	for _, event := range events {
		if event.Date == nil || event.StartAt == nil {
			report.fail(event, "missing date")
			continue
		}

		if calendarID == "" {
			calendarID, err = s.targetCalendar(ctx, owner)
			if err != nil {
				if errors.Is(err, google.ErrNotConnected) || errors.Is(err, google.ErrReauthRequired) {
					return nil, err
				}
				report.fail(event, fmt.Sprintf("resolving calendar: %v", err))
				continue
			}
		}

		payload := s.buildPayload(ctx, &event, summaries)

		// Already-synced events patch their existing calendar entry rather
		// than creating a duplicate.
		if event.CalendarEventID != nil && *event.CalendarEventID != "" {
			if err := s.calendar.UpdateEvent(ctx, owner, calendarID, *event.CalendarEventID, payload); err != nil {
				if errors.Is(err, google.ErrReauthRequired) {
					return nil, err
				}
				s.logger.Warn("calendar update failed",
					"user_id", owner, "event_id", event.ID, "error", err)
				report.fail(event, err.Error())
				continue
			}
			report.UpdatedCount++
			report.Outcomes = append(report.Outcomes, Outcome{
				EventID:         event.ID,
				Title:           event.Title,
				Updated:         true,
				CalendarEventID: *event.CalendarEventID,
			})
			continue
		}

		externalID, err := s.calendar.InsertEvent(ctx, owner, calendarID, payload)
		if err != nil {
			if errors.Is(err, google.ErrReauthRequired) {
				return nil, err
			}
			s.logger.Warn("calendar insert failed",
				"user_id", owner, "event_id", event.ID, "error", err)
			report.fail(event, err.Error())
			continue
		}

		if err := s.events.SetCalendarEventID(ctx, event.ID, externalID); err != nil {
			s.logger.Error("created calendar entry but failed to record reference",
				"event_id", event.ID, "calendar_event_id", externalID, "error", err)
		}
		report.CreatedCount++
		report.Outcomes = append(report.Outcomes, Outcome{
			EventID:         event.ID,
			Title:           event.Title,
			Created:         true,
			CalendarEventID: externalID,
		})
	}

	s.logger.Info("sync pass finished", "user_id", owner,
		"created", report.CreatedCount, "updated", report.UpdatedCount, "failed", report.FailedCount)
	return report, nil
}

func (r *Report) fail(event store.ExtractedEvent, reason string) {
	r.FailedCount++
	r.Outcomes = append(r.Outcomes, Outcome{
		EventID: event.ID,
		Title:   event.Title,
		Reason:  reason,
	})
}

// targetCalendar prefers the user's explicit selection, then the primary
// calendar.
func (s *Syncer) targetCalendar(ctx context.Context, owner int64) (string, error) {
	settings, err := s.settings.Get(ctx, owner)
	if err == nil && settings.CalendarID != nil && *settings.CalendarID != "" {
		return *settings.CalendarID, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	return s.calendar.PrimaryCalendarID(ctx, owner)
}

// buildPayload maps one extracted event to the provider's wire shape. A
// date without a time becomes an all-day entry (exclusive end on the next
// day); a timed entry defaults to one hour.
func (s *Syncer) buildPayload(ctx context.Context, event *store.ExtractedEvent, summaries map[int64]string) *calendar.Event {
	payload := &calendar.Event{
		Summary:     event.Title,
		Description: s.buildDescription(ctx, event, summaries),
	}
	if event.Location != nil {
		payload.Location = *event.Location
	}

	if event.Time == nil {
		start := *event.Date
		end := event.StartAt.AddDate(0, 0, 1).Format("2006-01-02")
		payload.Start = &calendar.EventDateTime{Date: start}
		payload.End = &calendar.EventDateTime{Date: end}
	} else {
		start := event.StartAt.UTC()
		end := start.Add(time.Hour)
		payload.Start = &calendar.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: "UTC"}
		payload.End = &calendar.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: "UTC"}
	}

	for _, participant := range event.Participants {
		// No identity resolution: anything with an @ is assumed to be an
		// email address, everything else is display-name only.
		if strings.Contains(participant, "@") {
			payload.Attendees = append(payload.Attendees, &calendar.EventAttendee{Email: participant})
		} else {
			payload.Attendees = append(payload.Attendees, &calendar.EventAttendee{DisplayName: participant})
		}
	}
	return payload
}

// buildDescription synthesizes traceability back to the source session:
// its summary, the participants, and the action items.
func (s *Syncer) buildDescription(ctx context.Context, event *store.ExtractedEvent, summaries map[int64]string) string {
	var b strings.Builder

	summary, ok := summaries[event.SessionID]
	if !ok {
		summary = ""
		if session, err := s.sessions.GetByID(ctx, event.SessionID); err == nil && session.Summary != nil {
			summary = *session.Summary
		}
		summaries[event.SessionID] = summary
	}
	if summary != "" {
		b.WriteString(summary)
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\nType: %s\nPriority: %s\n", event.Type, event.Priority)

	if len(event.Participants) > 0 {
		fmt.Fprintf(&b, "\nParticipants: %s\n", strings.Join(event.Participants, ", "))
	}
	if len(event.ActionItems) > 0 {
		b.WriteString("\nAction items:\n")
		for i, item := range event.ActionItems {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, item)
		}
	}

	fmt.Fprintf(&b, "\nFrom capture session #%d", event.SessionID)
	return b.String()
}

// Conflicts returns existing calendar entries overlapping the event's hour,
// so the caller can warn before committing.
func (s *Syncer) Conflicts(ctx context.Context, owner, eventID int64) ([]google.BusySlot, error) {
	event, err := s.events.GetByID(ctx, owner, eventID)
	if err != nil {
		return nil, err
	}
	if event.StartAt == nil {
		return nil, nil
	}

	calendarID, err := s.targetCalendar(ctx, owner)
	if err != nil {
		return nil, err
	}
	start := event.StartAt.UTC()
	return s.calendar.EventsBetween(ctx, owner, calendarID, start, start.Add(time.Hour))
}
