package extract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/briefly-app/briefly/internal/store"
)

// rawEvent is the untrusted intermediate shape of one candidate event. Every
// field is `any` because the model routinely returns the wrong JSON type
// (strings for lists, numbers for times); validators coerce or drop each
// field independently so one bad field never discards a good event.
type rawEvent struct {
	Title        any `json:"title"`
	Date         any `json:"date"`
	Time         any `json:"time"`
	Location     any `json:"location"`
	Participants any `json:"participants"`
	ActionItems  any `json:"action_items"`
	Type         any `json:"type"`
	Priority     any `json:"priority"`
}

type rawAnalysis struct {
	Summary any        `json:"summary"`
	Events  []rawEvent `json:"events"`
}

// parseResponse defensively extracts {summary, events} from the model's
// reply. Markdown fences and surrounding commentary are tolerated. On an
// unparseable reply the summary says so and the heuristic fallback gets a
// chance to salvage events.
func (a *Analyzer) parseResponse(content string) (string, []store.ExtractedEvent) {
	trimmed := stripCodeFences(content)

	payload, ok := locateJSON(trimmed)
	if !ok {
		a.logger.Warn("llm response contains no JSON", "length", len(content))
		events := a.heuristicEvents(trimmed)
		return "Could not parse the analysis response; showing events recognized heuristically.", events
	}

	var parsed rawAnalysis
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		a.logger.Warn("llm response JSON is invalid", "error", err)
		return "Could not parse the analysis response (invalid JSON).", nil
	}

	summary := strings.TrimSpace(stringify(parsed.Summary))
	if summary == "" {
		summary = "No summary could be extracted."
	}

	var events []store.ExtractedEvent
	for i, raw := range parsed.Events {
		event, ok := a.validateEvent(raw)
		if !ok {
			a.logger.Debug("dropping invalid candidate event", "index", i)
			continue
		}
		events = append(events, event)
	}
	return summary, events
}

// validateEvent applies per-field validation. Only a missing title drops
// the event; every other invalid field falls back to its defined default.
func (a *Analyzer) validateEvent(raw rawEvent) (store.ExtractedEvent, bool) {
	title := strings.TrimSpace(stringify(raw.Title))
	if title == "" {
		return store.ExtractedEvent{}, false
	}

	event := store.ExtractedEvent{
		Title:        title,
		Type:         normalizeType(stringify(raw.Type)),
		Priority:     normalizePriority(stringify(raw.Priority)),
		Date:         validateDate(stringify(raw.Date)),
		Time:         validateTime(stringify(raw.Time)),
		Participants: coerceList(raw.Participants),
		ActionItems:  coerceList(raw.ActionItems),
	}

	if loc := strings.TrimSpace(stringify(raw.Location)); loc != "" {
		event.Location = &loc
	}
	event.StartAt = combineDateTime(event.Date, event.Time)
	return event, true
}

// stripCodeFences removes a wrapping Markdown code block if present.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[len("```"):]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// locateJSON finds a JSON object (or bare events array, which gets wrapped)
// inside text that may carry commentary before or after it. A reply that
// opens with an array is treated as the events list itself. A truncated
// payload (an opening delimiter with no matching close, the shape of a
// max-tokens cutoff) is still returned so the parse fails as invalid JSON
// instead of being mistaken for prose.
func locateJSON(s string) (string, bool) {
	objStart := strings.Index(s, "{")
	arrStart := strings.Index(s, "[")

	if arrStart >= 0 && (objStart < 0 || arrStart < objStart) {
		if end := strings.LastIndex(s, "]"); end > arrStart {
			return fmt.Sprintf(`{"summary":"","events":%s}`, s[arrStart:end+1]), true
		}
		return s[arrStart:], true
	}
	if objStart >= 0 {
		if end := strings.LastIndex(s, "}"); end > objStart {
			return s[objStart : end+1], true
		}
		return s[objStart:], true
	}
	return "", false
}

// stringify renders scalar JSON values as strings; null, objects, and
// arrays become empty.
func stringify(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		if strings.EqualFold(strings.TrimSpace(value), "null") {
			return ""
		}
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	default:
		return ""
	}
}

// validateDate accepts only real YYYY-MM-DD dates in a sane year window.
func validateDate(s string) *string {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return nil
	}
	year, err1 := strconv.Atoi(parts[0])
	month, err2 := strconv.Atoi(parts[1])
	day, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return nil
	}
	if year < 2020 || year > 2030 || month < 1 || month > 12 || day < 1 || day > 31 {
		return nil
	}
	normalized := fmt.Sprintf("%04d-%02d-%02d", year, month, day)
	return &normalized
}

// validateTime accepts HH:MM (seconds tolerated, dropped) and normalizes
// to zero-padded 24h form.
func validateTime(s string) *string {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return nil
	}
	hour, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	minute, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return nil
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil
	}
	normalized := fmt.Sprintf("%02d:%02d", hour, minute)
	return &normalized
}

// coerceList accepts a list of scalars or a comma-joined string and yields
// a cleaned list of non-empty strings. Any other shape yields nil.
func coerceList(v any) []string {
	switch value := v.(type) {
	case []any:
		var result []string
		for _, item := range value {
			if s := strings.TrimSpace(stringify(item)); s != "" {
				result = append(result, s)
			}
		}
		return result
	case string:
		var result []string
		for _, item := range strings.Split(value, ",") {
			if s := strings.TrimSpace(item); s != "" {
				result = append(result, s)
			}
		}
		return result
	default:
		return nil
	}
}

var validTypes = map[string]bool{
	"meeting":     true,
	"deadline":    true,
	"task":        true,
	"appointment": true,
	"reminder":    true,
	"event":       true,
}

func normalizeType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if validTypes[s] {
		return s
	}
	return "event"
}

func normalizePriority(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return "high"
	case "low":
		return "low"
	default:
		return "medium"
	}
}

// combineDateTime merges validated date and time strings into one instant.
// A date without a time maps to midnight UTC; without a date there is no
// instant at all.
func combineDateTime(date, clock *string) *time.Time {
	if date == nil {
		return nil
	}
	layout, value := "2006-01-02", *date
	if clock != nil {
		layout, value = "2006-01-02 15:04", *date+" "+*clock
	}
	t, err := time.ParseInLocation(layout, value, time.UTC)
	if err != nil {
		return nil
	}
	return &t
}
