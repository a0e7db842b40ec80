package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/briefly-app/briefly/internal/store"
)

var timePattern = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)

// typeKeywords maps trigger words to event types for the degraded path.
var typeKeywords = []struct {
	word      string
	eventType string
	priority  string
}{
	{"deadline", "deadline", "high"},
	{"due", "deadline", "high"},
	{"meeting", "meeting", "medium"},
	{"meet", "meeting", "medium"},
	{"call", "meeting", "medium"},
	{"appointment", "appointment", "medium"},
	{"remind", "reminder", "medium"},
	{"task", "task", "medium"},
}

// heuristicEvents is the last-resort path when the model's reply carries no
// JSON at all: it scans the reply line by line for event-flavored keywords
// and an optional HH:MM token. Recall is intentionally poor; the point is
// that obviously-stated events still surface instead of nothing.
func (a *Analyzer) heuristicEvents(text string) []store.ExtractedEvent {
	var events []store.ExtractedEvent
	for _, line := range strings.Split(text, "\n") {
		if len(events) >= 3 {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		for _, kw := range typeKeywords {
			if !strings.Contains(lower, kw.word) {
				continue
			}
			event := store.ExtractedEvent{
				Title:    truncate(line, 80),
				Type:     kw.eventType,
				Priority: kw.priority,
			}
			if m := timePattern.FindString(line); m != "" {
				event.Time = validateTime(m)
			}
			events = append(events, event)
			break
		}
	}
	if len(events) > 0 {
		a.logger.Info("heuristic fallback recognized events", "count", len(events))
	}
	return events
}

// truncate cuts at a rune boundary so a multi-byte character is never
// split mid-sequence.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
