package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/briefly-app/briefly/internal/retry"
)

// ErrReauthRequired is surfaced when the provider rejects the access token:
// the user must run the authorization flow again.
var ErrReauthRequired = errors.New("google: authorization expired, reconnect the calendar")

const apiMaxAttempts = 3

// CalendarInfo is one entry from the user's calendar list.
type CalendarInfo struct {
	ID       string
	Summary  string
	Primary  bool
	TimeZone string
}

// BusySlot is an existing calendar entry found in a conflict check. All-day
// entries carry midnight bounds.
type BusySlot struct {
	ID    string
	Title string
	Start time.Time
	End   time.Time
}

// CalendarClient performs calendar API operations for any owner, routing
// every call through the shared retry wrapper.
type CalendarClient struct {
	oauth  *OAuthClient
	delay  *retry.AdaptiveDelay
	logger *slog.Logger
}

func NewCalendarClient(oauth *OAuthClient, logger *slog.Logger) *CalendarClient {
	return &CalendarClient{
		oauth:  oauth,
		delay:  retry.NewAdaptiveDelay(time.Second, 60*time.Second),
		logger: logger,
	}
}

// service builds a calendar API client with a fresh access token for the
// owner. Token caching happens in the OAuth client, not here.
func (c *CalendarClient) service(ctx context.Context, owner int64) (*calendar.Service, error) {
	token, err := c.oauth.AccessToken(ctx, owner)
	if err != nil {
		return nil, err
	}
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	svc, err := calendar.NewService(ctx, option.WithTokenSource(source))
	if err != nil {
		return nil, fmt.Errorf("google: creating calendar service: %w", err)
	}
	return svc, nil
}

// withRetry applies the shared policy: rate limits and 5xx back off with
// the adaptive delay; unauthorized invalidates the owner's cached token and
// becomes ErrReauthRequired without retry; everything else propagates.
func (c *CalendarClient) withRetry(ctx context.Context, owner int64, fn func(ctx context.Context) error) error {
	policy := retry.Policy{
		MaxAttempts: apiMaxAttempts,
		Backoff: func(int) time.Duration {
			wait := c.delay.Grow()
			c.logger.Warn("calendar api throttled, backing off", "user_id", owner, "wait", wait)
			return wait
		},
		Retryable: transientAPIError,
	}

	err := policy.Do(ctx, func(ctx context.Context) error {
		callErr := fn(ctx)
		if isUnauthorized(callErr) {
			c.oauth.Invalidate(owner)
			return fmt.Errorf("%w (user %d)", ErrReauthRequired, owner)
		}
		return callErr
	})
	if err == nil {
		c.delay.Decay()
	}
	return err
}

func transientAPIError(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	return false
}

func isUnauthorized(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 401
}

// Calendars lists the owner's calendars.
func (c *CalendarClient) Calendars(ctx context.Context, owner int64) ([]CalendarInfo, error) {
	svc, err := c.service(ctx, owner)
	if err != nil {
		return nil, err
	}

	var list *calendar.CalendarList
	err = c.withRetry(ctx, owner, func(ctx context.Context) error {
		var callErr error
		list, callErr = svc.CalendarList.List().Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return nil, err
	}

	infos := make([]CalendarInfo, 0, len(list.Items))
	for _, item := range list.Items {
		infos = append(infos, CalendarInfo{
			ID:       item.Id,
			Summary:  item.Summary,
			Primary:  item.Primary,
			TimeZone: item.TimeZone,
		})
	}
	return infos, nil
}

// PrimaryCalendarID resolves the owner's primary calendar, falling back to
// the first listed one.
func (c *CalendarClient) PrimaryCalendarID(ctx context.Context, owner int64) (string, error) {
	calendars, err := c.Calendars(ctx, owner)
	if err != nil {
		return "", err
	}
	for _, cal := range calendars {
		if cal.Primary {
			return cal.ID, nil
		}
	}
	if len(calendars) > 0 {
		return calendars[0].ID, nil
	}
	return "", errors.New("google: user has no calendars")
}

// InsertEvent creates an event and returns the provider's event id.
func (c *CalendarClient) InsertEvent(ctx context.Context, owner int64, calendarID string, event *calendar.Event) (string, error) {
	svc, err := c.service(ctx, owner)
	if err != nil {
		return "", err
	}

	var created *calendar.Event
	err = c.withRetry(ctx, owner, func(ctx context.Context) error {
		var callErr error
		created, callErr = svc.Events.Insert(calendarID, event).Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

// UpdateEvent patches an existing event.
func (c *CalendarClient) UpdateEvent(ctx context.Context, owner int64, calendarID, eventID string, event *calendar.Event) error {
	svc, err := c.service(ctx, owner)
	if err != nil {
		return err
	}
	return c.withRetry(ctx, owner, func(ctx context.Context) error {
		_, callErr := svc.Events.Patch(calendarID, eventID, event).Context(ctx).Do()
		return callErr
	})
}

// EventsBetween returns existing entries in [from, to), used for conflict
// checks before syncing.
func (c *CalendarClient) EventsBetween(ctx context.Context, owner int64, calendarID string, from, to time.Time) ([]BusySlot, error) {
	svc, err := c.service(ctx, owner)
	if err != nil {
		return nil, err
	}

	var events *calendar.Events
	err = c.withRetry(ctx, owner, func(ctx context.Context) error {
		var callErr error
		events, callErr = svc.Events.List(calendarID).
			TimeMin(from.Format(time.RFC3339)).
			TimeMax(to.Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime").
			Context(ctx).
			Do()
		return callErr
	})
	if err != nil {
		return nil, err
	}

	slots := make([]BusySlot, 0, len(events.Items))
	for _, item := range events.Items {
		slot := BusySlot{ID: item.Id, Title: item.Summary}
		if item.Start != nil {
			slot.Start = parseEventTime(firstNonEmpty(item.Start.DateTime, item.Start.Date))
		}
		if item.End != nil {
			slot.End = parseEventTime(firstNonEmpty(item.End.DateTime, item.End.Date))
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

// parseEventTime accepts the two formats the API returns: RFC3339 for timed
// entries and a bare date for all-day ones.
func parseEventTime(raw string) time.Time {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t
	}
	return time.Time{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
