// Package extract turns a captured conversation into a summary and a list
// of validated calendar events using an LLM upstream. Analyze never returns
// an error: every failure mode degrades to a well-formed result whose
// summary explains what happened and whose event list is empty.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/briefly-app/briefly/internal/llm"
	"github.com/briefly-app/briefly/internal/retry"
	"github.com/briefly-app/briefly/internal/store"
)

// MinInputRunes is the shortest input considered worth analyzing. Anything
// below is rejected without calling the upstream model.
const MinInputRunes = 10

const maxAttempts = 3

// Result is the outcome of an analysis. Events is empty on any failure.
type Result struct {
	Summary string
	Events  []store.ExtractedEvent
}

// Analyzer drives the extraction pipeline: prompt, retried model call,
// defensive parse, per-event validation, optional persistence.
type Analyzer struct {
	provider    llm.Provider
	events      store.EventRepository
	logger      *slog.Logger
	model       string
	maxTokens   int
	temperature float64

	// now supplies the reference time for relative-date resolution and
	// is overridden in tests.
	now func() time.Time

	// backoff is the retry schedule; tests replace it to avoid sleeping.
	backoff func(attempt int) time.Duration
}

// Options configures an Analyzer.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// New creates an Analyzer. provider may be nil when the upstream is not
// configured; Analyze then returns a degraded result without retrying.
// events may be nil to disable persistence.
func New(provider llm.Provider, events store.EventRepository, logger *slog.Logger, opts Options) *Analyzer {
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 1500
	}
	return &Analyzer{
		provider:    provider,
		events:      events,
		logger:      logger,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		now:         time.Now,
		backoff:     retry.ExponentialBackoff,
	}
}

// Analyze extracts a summary and events from text without persisting.
func (a *Analyzer) Analyze(ctx context.Context, text string) Result {
	return a.analyze(ctx, text, 0, 0)
}

// AnalyzeSession extracts from a session's text and persists validated
// events tagged with the session and owner. A persistence failure is logged
// but does not degrade the analysis result: extraction and storage are
// decoupled from each other and from calendar sync.
func (a *Analyzer) AnalyzeSession(ctx context.Context, session *store.CaptureSession) Result {
	return a.analyze(ctx, session.FullText(), session.ID, session.UserID)
}

func (a *Analyzer) analyze(ctx context.Context, text string, sessionID, userID int64) Result {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < MinInputRunes {
		return Result{Summary: "The captured text is too short to analyze. Capture a bit more detail and try again."}
	}

	if a.provider == nil {
		a.logger.Error("extraction requested but no LLM provider is configured")
		return Result{Summary: "Analysis unavailable: the language model API key is not configured."}
	}

	req := llm.Request{
		Model:       a.model,
		System:      a.systemPrompt(),
		User:        trimmed,
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	}

	policy := retry.Policy{
		MaxAttempts: maxAttempts,
		Backoff:     a.backoff,
		Retryable:   transient,
	}

	var resp *llm.Response
	err := policy.Do(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = a.provider.Complete(ctx, req)
		if callErr != nil {
			a.logger.Warn("llm call failed", "error", callErr)
		}
		return callErr
	})
	if err != nil {
		return Result{Summary: degradedSummary(err)}
	}

	summary, events := a.parseResponse(resp.Content)
	for i := range events {
		events[i].SessionID = sessionID
		events[i].UserID = userID
	}

	if a.events != nil && sessionID != 0 && userID != 0 && len(events) > 0 {
		stored, storeErr := a.events.CreateBatch(ctx, events)
		if storeErr != nil {
			a.logger.Error("failed to persist extracted events",
				"session_id", sessionID, "error", storeErr)
		} else {
			events = stored
		}
	}

	return Result{Summary: summary, Events: events}
}

// Summarize produces only a summary, skipping event extraction. Used when a
// session closes with auto-extraction disabled.
func (a *Analyzer) Summarize(ctx context.Context, text string) string {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < MinInputRunes {
		return "The captured text is too short to summarize."
	}
	if a.provider == nil {
		return "Summary unavailable: the language model API key is not configured."
	}

	req := llm.Request{
		Model:       a.model,
		System:      "Write a brief summary of the provided text in one or two sentences. Cover the main topics and any decisions made.",
		User:        trimmed,
		MaxTokens:   500,
		Temperature: a.temperature,
	}

	policy := retry.Policy{MaxAttempts: maxAttempts, Backoff: a.backoff, Retryable: transient}
	var resp *llm.Response
	err := policy.Do(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = a.provider.Complete(ctx, req)
		return callErr
	})
	if err != nil {
		return degradedSummary(err)
	}
	return strings.TrimSpace(resp.Content)
}

// transient classifies retryable upstream failures: rate limits, server
// errors, and anything that is not a structured provider rejection (network
// and timeout errors surface as plain transport errors).
func transient(err error) bool {
	var provErr *llm.ProviderError
	if errors.As(err, &provErr) {
		return provErr.IsRateLimited() || provErr.IsServerError()
	}
	return true
}

func degradedSummary(err error) string {
	var provErr *llm.ProviderError
	if errors.As(err, &provErr) {
		switch {
		case provErr.IsRateLimited():
			return "Analysis failed: the language model is rate limiting requests. Try again in a few minutes."
		case provErr.IsServerError():
			return "Analysis failed: the language model service is unavailable. Try again later."
		default:
			return fmt.Sprintf("Analysis failed: the language model rejected the request (%s).", provErr.Message)
		}
	}
	return "Analysis failed: could not reach the language model service."
}
