package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/briefly-app/briefly/internal/capture"
	"github.com/briefly-app/briefly/internal/google"
	httperrors "github.com/briefly-app/briefly/internal/http/errors"
	"github.com/briefly-app/briefly/internal/metrics"
	"github.com/briefly-app/briefly/internal/store"
	"github.com/briefly-app/briefly/internal/syncer"
)

type sessionResponse struct {
	ID        int64      `json:"id"`
	Status    string     `json:"status"`
	Fragments int        `json:"fragments"`
	Summary   *string    `json:"summary,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

type eventResponse struct {
	ID              int64    `json:"id"`
	SessionID       int64    `json:"session_id"`
	Title           string   `json:"title"`
	Type            string   `json:"type"`
	Priority        string   `json:"priority"`
	Date            *string  `json:"date,omitempty"`
	Time            *string  `json:"time,omitempty"`
	Location        *string  `json:"location,omitempty"`
	Participants    []string `json:"participants,omitempty"`
	ActionItems     []string `json:"action_items,omitempty"`
	CalendarEventID *string  `json:"calendar_event_id,omitempty"`
}

type syncOutcomeResponse struct {
	EventID         int64  `json:"event_id"`
	Title           string `json:"title"`
	Created         bool   `json:"created"`
	Updated         bool   `json:"updated,omitempty"`
	CalendarEventID string `json:"calendar_event_id,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

type syncReportResponse struct {
	Created  int                   `json:"created"`
	Updated  int                   `json:"updated"`
	Failed   int                   `json:"failed"`
	Outcomes []syncOutcomeResponse `json:"outcomes"`
}

func toSessionResponse(s *store.CaptureSession) sessionResponse {
	return sessionResponse{
		ID:        s.ID,
		Status:    string(s.Status),
		Fragments: len(s.Fragments),
		Summary:   s.Summary,
		StartedAt: s.StartedAt,
		ClosedAt:  s.ClosedAt,
	}
}

func toEventResponse(e *store.ExtractedEvent) eventResponse {
	return eventResponse{
		ID:              e.ID,
		SessionID:       e.SessionID,
		Title:           e.Title,
		Type:            e.Type,
		Priority:        e.Priority,
		Date:            e.Date,
		Time:            e.Time,
		Location:        e.Location,
		Participants:    e.Participants,
		ActionItems:     e.ActionItems,
		CalendarEventID: e.CalendarEventID,
	}
}

func toSyncReportResponse(r *syncer.Report) *syncReportResponse {
	resp := &syncReportResponse{
		Created:  r.CreatedCount,
		Updated:  r.UpdatedCount,
		Failed:   r.FailedCount,
		Outcomes: make([]syncOutcomeResponse, 0, len(r.Outcomes)),
	}
	for _, o := range r.Outcomes {
		resp.Outcomes = append(resp.Outcomes, syncOutcomeResponse{
			EventID:         o.EventID,
			Title:           o.Title,
			Created:         o.Created,
			Updated:         o.Updated,
			CalendarEventID: o.CalendarEventID,
			Reason:          o.Reason,
		})
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ownerParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "owner")
	owner, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || owner <= 0 {
		return 0, fmt.Errorf("invalid owner id %q", raw)
	}
	return owner, nil
}

func limitParam(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return limit
}

// StartSession opens a capture session for the owner, returning the existing
// one if a session is already active.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid owner id")
		return
	}

	session, err := h.capture.Start(r.Context(), owner)
	if err != nil {
		httperrors.InternalError(w, r, err, "failed to start capture session")
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// AppendMessage adds one text fragment to the owner's active session.
func (h *Handler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid owner id")
		return
	}

	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httperrors.BadRequestError(w, r, err, "invalid request body")
		return
	}
	if body.Text == "" {
		httperrors.BadRequestError(w, r, errors.New("empty text"), "text is required")
		return
	}

	if err := h.capture.Append(r.Context(), owner, body.Text); err != nil {
		if errors.Is(err, capture.ErrNoActiveSession) {
			httperrors.ConflictError(w, r, "no active capture session")
			return
		}
		httperrors.InternalError(w, r, err, "failed to append message")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CloseSession closes the owner's active session, runs extraction, and when
// auto-sync is enabled pushes the extracted events to the owner's calendar.
// The response always carries the summary; extraction failures degrade the
// summary rather than failing the request. A summary_only close skips
// extraction and completes the session with just a generated summary.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid owner id")
		return
	}

	var body struct {
		SummaryOnly bool `json:"summary_only"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		httperrors.BadRequestError(w, r, err, "invalid request body")
		return
	}
	if body.SummaryOnly {
		h.closeSummaryOnly(w, r, owner)
		return
	}

	session, result, err := h.capture.Process(r.Context(), owner)
	if err != nil {
		if errors.Is(err, capture.ErrNoActiveSession) {
			httperrors.ConflictError(w, r, "no active capture session")
			return
		}
		httperrors.InternalError(w, r, err, "failed to process capture session")
		return
	}

	outcome := "no_events"
	if len(result.Events) > 0 {
		outcome = "events"
	}
	metrics.ObserveExtraction(outcome, len(result.Events))

	events := make([]eventResponse, 0, len(result.Events))
	for i := range result.Events {
		events = append(events, toEventResponse(&result.Events[i]))
	}

	resp := struct {
		Session sessionResponse     `json:"session"`
		Summary string              `json:"summary"`
		Events  []eventResponse     `json:"events"`
		Sync    *syncReportResponse `json:"sync,omitempty"`
	}{
		Session: toSessionResponse(session),
		Summary: result.Summary,
		Events:  events,
	}

	if report := h.autoSync(r, owner, result.Events); report != nil {
		resp.Sync = toSyncReportResponse(report)
	}

	writeJSON(w, http.StatusOK, resp)
}

// closeSummaryOnly completes the session with a generated summary and no
// event extraction.
func (h *Handler) closeSummaryOnly(w http.ResponseWriter, r *http.Request, owner int64) {
	session, summary, err := h.capture.ProcessSummaryOnly(r.Context(), owner)
	if err != nil {
		if errors.Is(err, capture.ErrNoActiveSession) {
			httperrors.ConflictError(w, r, "no active capture session")
			return
		}
		httperrors.InternalError(w, r, err, "failed to process capture session")
		return
	}

	metrics.ObserveExtraction("summary_only", 0)
	writeJSON(w, http.StatusOK, struct {
		Session sessionResponse `json:"session"`
		Summary string          `json:"summary"`
		Events  []eventResponse `json:"events"`
	}{
		Session: toSessionResponse(session),
		Summary: summary,
		Events:  []eventResponse{},
	})
}

// autoSync pushes freshly extracted events to the calendar when the owner
// has auto-sync enabled and a connected calendar. Failures are reported in
// the response, never as request errors.
func (h *Handler) autoSync(r *http.Request, owner int64, events []store.ExtractedEvent) *syncer.Report {
	if h.syncer == nil || len(events) == 0 {
		return nil
	}

	settings, err := h.store.Settings.Get(r.Context(), owner)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			httperrors.LogError(r, "failed to load settings for auto-sync", err)
		}
		return nil
	}
	if !settings.AutoSync || !settings.CalendarConnected {
		return nil
	}

	ids := make([]int64, 0, len(events))
	for _, e := range events {
		if e.ID != 0 {
			ids = append(ids, e.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	report, err := h.syncer.Sync(r.Context(), owner, ids)
	if err != nil {
		httperrors.LogError(r, "auto-sync failed", err)
		return nil
	}
	metrics.ObserveSync(report.CreatedCount, report.FailedCount)
	return report
}

// CancelSession discards the owner's active session without extraction.
func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid owner id")
		return
	}

	if err := h.capture.Cancel(r.Context(), owner); err != nil {
		if errors.Is(err, capture.ErrNoActiveSession) {
			httperrors.ConflictError(w, r, "no active capture session")
			return
		}
		httperrors.InternalError(w, r, err, "failed to cancel capture session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSessions returns the owner's most recent sessions, newest first.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid owner id")
		return
	}

	sessions, err := h.capture.History(r.Context(), owner, limitParam(r))
	if err != nil {
		httperrors.InternalError(w, r, err, "failed to list sessions")
		return
	}

	resp := make([]sessionResponse, 0, len(sessions))
	for i := range sessions {
		resp = append(resp, toSessionResponse(&sessions[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListEvents returns the owner's extracted events, newest first.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid owner id")
		return
	}

	limit := limitParam(r)
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	events, err := h.store.Events.ListByUser(r.Context(), owner, limit)
	if err != nil {
		httperrors.InternalError(w, r, err, "failed to list events")
		return
	}

	resp := make([]eventResponse, 0, len(events))
	for i := range events {
		resp = append(resp, toEventResponse(&events[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteEvent removes one of the owner's extracted events. The calendar
// copy, if any, is left alone.
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid owner id")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid event id")
		return
	}

	if err := h.store.Events.Delete(r.Context(), owner, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httperrors.NotFoundError(w, r, "event not found")
			return
		}
		httperrors.InternalError(w, r, err, "failed to delete event")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EventConflicts returns calendar entries overlapping an extracted event's
// time slot.
func (h *Handler) EventConflicts(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid owner id")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid event id")
		return
	}

	slots, err := h.syncer.Conflicts(r.Context(), owner, id)
	if err != nil {
		h.calendarError(w, r, err, "failed to check conflicts")
		return
	}

	type slotResponse struct {
		Title string    `json:"title"`
		Start time.Time `json:"start"`
		End   time.Time `json:"end"`
	}
	resp := make([]slotResponse, 0, len(slots))
	for _, s := range slots {
		resp = append(resp, slotResponse{Title: s.Title, Start: s.Start, End: s.End})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListCalendars returns the owner's writable Google calendars.
func (h *Handler) ListCalendars(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid owner id")
		return
	}

	calendars, err := h.calendar.Calendars(r.Context(), owner)
	if err != nil {
		h.calendarError(w, r, err, "failed to list calendars")
		return
	}

	type calendarResponse struct {
		ID      string `json:"id"`
		Summary string `json:"summary"`
		Primary bool   `json:"primary"`
	}
	resp := make([]calendarResponse, 0, len(calendars))
	for _, c := range calendars {
		resp = append(resp, calendarResponse{ID: c.ID, Summary: c.Summary, Primary: c.Primary})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Connect begins the calendar authorization handshake and redirects the
// owner to the consent screen.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid owner id")
		return
	}

	authURL, _, err := h.oauth.BeginAuthorization(owner)
	if err != nil {
		httperrors.InternalError(w, r, err, "failed to begin authorization")
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback completes the authorization handshake and renders a small HTML
// result page the user sees in their browser.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		h.renderResult(w, http.StatusBadRequest, "Authorization declined",
			"Access was not granted: "+errMsg)
		return
	}
	if code == "" || state == "" {
		h.renderResult(w, http.StatusBadRequest, "Authorization failed",
			"The callback is missing required parameters.")
		return
	}

	owner, err := h.oauth.CompleteAuthorization(r.Context(), code, state)
	if err != nil {
		if errors.Is(err, google.ErrInvalidHandshake) {
			h.renderResult(w, http.StatusBadRequest, "Authorization failed",
				"This link has expired or was already used. Start the connection again.")
			return
		}
		httperrors.LogError(r, "authorization exchange failed", err)
		h.renderResult(w, http.StatusBadGateway, "Authorization failed",
			"The token exchange with Google failed. Try again in a moment.")
		return
	}

	h.renderResult(w, http.StatusOK, "Calendar connected",
		fmt.Sprintf("Your Google Calendar is now connected (user %d). You can close this window.", owner))
}

func (h *Handler) renderResult(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>%s</title></head>
<body>
<h1>%s</h1>
<p>%s</p>
</body>
</html>
`, html.EscapeString(title), html.EscapeString(title), html.EscapeString(detail))
}

// Revoke disconnects the owner's calendar: best-effort upstream revocation,
// unconditional local credential removal.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid owner id")
		return
	}

	if err := h.oauth.Revoke(r.Context(), owner); err != nil {
		httperrors.InternalError(w, r, err, "failed to revoke calendar access")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSettings returns the owner's preferences and connection state.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid owner id")
		return
	}

	settings, err := h.loadSettings(r.Context(), owner)
	if err != nil {
		httperrors.InternalError(w, r, err, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(settings))
}

// loadSettings treats a user without a settings row as having defaults.
func (h *Handler) loadSettings(ctx context.Context, owner int64) (*store.UserSettings, error) {
	settings, err := h.store.Settings.Get(ctx, owner)
	if errors.Is(err, store.ErrNotFound) {
		return &store.UserSettings{UserID: owner}, nil
	}
	return settings, err
}

type settingsResponse struct {
	CalendarConnected bool    `json:"calendar_connected"`
	CalendarID        *string `json:"calendar_id,omitempty"`
	AutoSync          bool    `json:"auto_sync"`
}

func toSettingsResponse(s *store.UserSettings) settingsResponse {
	return settingsResponse{
		CalendarConnected: s.CalendarConnected,
		CalendarID:        s.CalendarID,
		AutoSync:          s.AutoSync,
	}
}

// UpdateSettings changes the owner's preferences. Absent fields are left
// untouched; calendar_id may be set to null to fall back to the primary
// calendar.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid owner id")
		return
	}

	var body struct {
		CalendarID *string `json:"calendar_id"`
		AutoSync   *bool   `json:"auto_sync"`
	}
	raw := json.RawMessage{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		httperrors.BadRequestError(w, r, err, "invalid request body")
		return
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		httperrors.BadRequestError(w, r, err, "invalid request body")
		return
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		httperrors.BadRequestError(w, r, err, "invalid request body")
		return
	}

	if _, ok := fields["calendar_id"]; ok {
		if err := h.store.Settings.SetCalendarID(r.Context(), owner, body.CalendarID); err != nil {
			httperrors.InternalError(w, r, err, "failed to update calendar id")
			return
		}
	}
	if body.AutoSync != nil {
		if err := h.store.Settings.SetAutoSync(r.Context(), owner, *body.AutoSync); err != nil {
			httperrors.InternalError(w, r, err, "failed to update auto-sync")
			return
		}
	}

	settings, err := h.loadSettings(r.Context(), owner)
	if err != nil {
		httperrors.InternalError(w, r, err, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(settings))
}

// SyncEvents pushes the listed extracted events to the owner's calendar and
// reports per-event outcomes. Partial failure is a 200: the report says
// which events made it.
func (h *Handler) SyncEvents(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		httperrors.BadRequestError(w, r, err, "invalid owner id")
		return
	}

	var body struct {
		EventIDs []int64 `json:"event_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httperrors.BadRequestError(w, r, err, "invalid request body")
		return
	}
	if len(body.EventIDs) == 0 {
		httperrors.BadRequestError(w, r, errors.New("empty event_ids"), "event_ids is required")
		return
	}

	report, err := h.syncer.Sync(r.Context(), owner, body.EventIDs)
	if err != nil {
		h.calendarError(w, r, err, "sync failed")
		return
	}

	metrics.ObserveSync(report.CreatedCount, report.FailedCount)
	writeJSON(w, http.StatusOK, toSyncReportResponse(report))
}

// calendarError maps calendar-connection failures onto client-facing
// statuses: missing or expired authorization is the caller's problem to
// fix, everything else is ours.
func (h *Handler) calendarError(w http.ResponseWriter, r *http.Request, err error, message string) {
	switch {
	case errors.Is(err, google.ErrNotConnected):
		httperrors.ConflictError(w, r, "calendar not connected")
	case errors.Is(err, google.ErrReauthRequired):
		httperrors.LogError(r, message, err)
		httperrors.ConflictError(w, r, "calendar authorization expired; reconnect your calendar")
	case errors.Is(err, store.ErrNotFound):
		httperrors.NotFoundError(w, r, "not found")
	default:
		httperrors.InternalError(w, r, err, message)
	}
}
