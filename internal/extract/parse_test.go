package extract

import (
	"reflect"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestParseResponseToleratesCodeFences(t *testing.T) {
	a := newTestAnalyzer(nil, nil)

	content := "```json\n{\"summary\":\"Planning call.\",\"events\":[{\"title\":\"Planning call\",\"date\":\"2026-03-20\"}]}\n```"
	summary, events := a.parseResponse(content)
	if summary != "Planning call." {
		t.Fatalf("unexpected summary %q", summary)
	}
	if len(events) != 1 || events[0].Title != "Planning call" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestParseResponseToleratesSurroundingCommentary(t *testing.T) {
	a := newTestAnalyzer(nil, nil)

	content := `Sure! Here is the analysis you asked for:
{"summary":"One meeting.","events":[]}
Let me know if you need anything else.`
	summary, events := a.parseResponse(content)
	if summary != "One meeting." {
		t.Fatalf("unexpected summary %q", summary)
	}
	if len(events) != 0 {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestParseResponseWrapsBareArray(t *testing.T) {
	a := newTestAnalyzer(nil, nil)

	summary, events := a.parseResponse(`[{"title":"Dentist","type":"appointment"}]`)
	if summary != "No summary could be extracted." {
		t.Fatalf("unexpected summary %q", summary)
	}
	if len(events) != 1 || events[0].Type != "appointment" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestParseResponseInvalidJSON(t *testing.T) {
	a := newTestAnalyzer(nil, nil)

	// Both shapes a max-tokens cutoff produces: a truncated object and a
	// truncated bare array.
	for _, content := range []string{
		`{"summary": "broken`,
		`[{"title":"Dentist"`,
	} {
		summary, events := a.parseResponse(content)
		if !strings.Contains(summary, "invalid JSON") {
			t.Fatalf("parseResponse(%q): unexpected summary %q", content, summary)
		}
		if len(events) != 0 {
			t.Fatalf("parseResponse(%q): unexpected events %+v", content, events)
		}
	}
}

func TestParseResponseNoJSONFallsBackToHeuristics(t *testing.T) {
	a := newTestAnalyzer(nil, nil)

	summary, events := a.parseResponse("There is a meeting at 15:30 with the design team.\nAlso the report deadline is Friday.")
	if !strings.Contains(summary, "heuristically") {
		t.Fatalf("unexpected summary %q", summary)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 heuristic events, got %+v", events)
	}
	if events[0].Type != "meeting" || events[0].Time == nil || *events[0].Time != "15:30" {
		t.Fatalf("unexpected first event %+v", events[0])
	}
	if events[1].Type != "deadline" || events[1].Priority != "high" {
		t.Fatalf("unexpected second event %+v", events[1])
	}
}

func TestParseResponseDropsUntitledEventsOnly(t *testing.T) {
	a := newTestAnalyzer(nil, nil)

	content := `{"summary":"Mixed bag.","events":[
		{"title":"","date":"2026-03-20"},
		{"title":"Valid one","date":"not-a-date","time":"25:99","type":"conference","priority":"urgent"}
	]}`
	_, events := a.parseResponse(content)
	if len(events) != 1 {
		t.Fatalf("expected 1 surviving event, got %+v", events)
	}
	e := events[0]
	if e.Date != nil || e.Time != nil {
		t.Fatalf("invalid date/time must be dropped, got %+v", e)
	}
	if e.Type != "event" {
		t.Fatalf("unknown type must default to event, got %q", e.Type)
	}
	if e.Priority != "medium" {
		t.Fatalf("unknown priority must default to medium, got %q", e.Priority)
	}
}

func TestValidateDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2026-03-15", "2026-03-15", true},
		{"2026-3-5", "2026-03-05", true},
		{"2020-01-01", "2020-01-01", true},
		{"2030-12-31", "2030-12-31", true},
		{"2019-12-31", "", false},
		{"2031-01-01", "", false},
		{"2026-13-01", "", false},
		{"2026-00-10", "", false},
		{"2026-02-32", "", false},
		{"tomorrow", "", false},
		{"2026-03", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got := validateDate(tt.in)
		if tt.ok {
			if got == nil || *got != tt.want {
				t.Errorf("validateDate(%q) = %v, want %q", tt.in, got, tt.want)
			}
		} else if got != nil {
			t.Errorf("validateDate(%q) = %q, want rejection", tt.in, *got)
		}
	}
}

func TestValidateTime(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"14:00", "14:00", true},
		{"9:05", "09:05", true},
		{"0:00", "00:00", true},
		{"23:59", "23:59", true},
		{"14:30:00", "14:30", true},
		{"24:00", "", false},
		{"12:60", "", false},
		{"noon", "", false},
		{"14", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got := validateTime(tt.in)
		if tt.ok {
			if got == nil || *got != tt.want {
				t.Errorf("validateTime(%q) = %v, want %q", tt.in, got, tt.want)
			}
		} else if got != nil {
			t.Errorf("validateTime(%q) = %q, want rejection", tt.in, *got)
		}
	}
}

func TestCoerceList(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []string
	}{
		{"list", []any{"anna", "boris"}, []string{"anna", "boris"}},
		{"comma string", "anna, boris ,  clara", []string{"anna", "boris", "clara"}},
		{"list with noise", []any{" anna ", "", nil, 42.0}, []string{"anna", "42"}},
		{"number", 7.0, nil},
		{"nil", nil, nil},
		{"object", map[string]any{"a": 1}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := coerceList(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("coerceList(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestStringify(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"hello", "hello"},
		{"null", ""},
		{"NULL", ""},
		{nil, ""},
		{3.0, "3"},
		{2.5, "2.5"},
		{true, "true"},
		{[]any{"x"}, ""},
		{map[string]any{}, ""},
	}
	for _, tt := range tests {
		if got := stringify(tt.in); got != tt.want {
			t.Errorf("stringify(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCombineDateTime(t *testing.T) {
	date := "2026-03-15"
	clock := "14:00"

	got := combineDateTime(&date, &clock)
	if got == nil || !got.Equal(time.Date(2026, 3, 15, 14, 0, 0, 0, time.UTC)) {
		t.Fatalf("combineDateTime with time = %v", got)
	}

	got = combineDateTime(&date, nil)
	if got == nil || !got.Equal(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("combineDateTime date only = %v", got)
	}

	if got = combineDateTime(nil, &clock); got != nil {
		t.Fatalf("time without date must yield nil, got %v", got)
	}

	// Validated-but-impossible calendar dates fail at combination.
	bad := "2026-02-31"
	if got = combineDateTime(&bad, nil); got != nil {
		t.Fatalf("impossible date must yield nil, got %v", got)
	}
}

func TestHeuristicEventsCapsAtThree(t *testing.T) {
	a := newTestAnalyzer(nil, nil)

	text := strings.Join([]string{
		"meeting with anna",
		"call with boris",
		"deadline for the report",
		"appointment at the clinic",
	}, "\n")
	events := a.heuristicEvents(text)
	if len(events) != 3 {
		t.Fatalf("expected at most 3 events, got %d", len(events))
	}
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	if got := truncate("short", 80); got != "short" {
		t.Fatalf("short strings must pass through, got %q", got)
	}

	// Two-byte runes: a cut at an odd byte offset must back up to the
	// rune start instead of splitting the sequence.
	long := strings.Repeat("é", 50)
	got := truncate(long, 81)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated string is not valid UTF-8: %q", got)
	}
	if len(got) != 80 {
		t.Fatalf("unexpected length %d", len(got))
	}
}
