package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCompleteSuccess(t *testing.T) {
	var captured wireRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decoding request: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"gpt-4o-mini","choices":[{"message":{"role":"assistant","content":"{\"summary\":\"hi\"}"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", 5*time.Second)
	resp, err := c.Complete(context.Background(), Request{
		Model:       "gpt-4o-mini",
		System:      "you extract events",
		User:        "meeting tomorrow",
		MaxTokens:   1500,
		Temperature: 0.3,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"summary":"hi"}` {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if resp.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected model %q", resp.Model)
	}

	if len(captured.Messages) != 2 {
		t.Fatalf("expected system + user messages, got %d", len(captured.Messages))
	}
	if captured.Messages[0].Role != "system" || captured.Messages[1].Role != "user" {
		t.Fatalf("unexpected message roles: %+v", captured.Messages)
	}
	if captured.MaxTokens != 1500 {
		t.Fatalf("max_tokens not forwarded: %d", captured.MaxTokens)
	}
}

func TestCompleteRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", 5*time.Second)
	_, err := c.Complete(context.Background(), Request{Model: "m", User: "hello"})

	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if provErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("unexpected status %d", provErr.StatusCode)
	}
	if provErr.Type != "rate_limit_error" || provErr.Message != "slow down" {
		t.Fatalf("error body not parsed: %+v", provErr)
	}
	if !provErr.IsRateLimited() {
		t.Fatal("429 must classify as rate limited")
	}
	if provErr.IsServerError() {
		t.Fatal("429 is not a server error")
	}
}

func TestCompleteServerErrorWithOpaqueBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", 5*time.Second)
	_, err := c.Complete(context.Background(), Request{Model: "m", User: "hello"})

	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if provErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("unexpected status %d", provErr.StatusCode)
	}
	if provErr.Message != "upstream exploded" {
		t.Fatalf("raw body should become the message, got %q", provErr.Message)
	}
	if !provErr.IsServerError() {
		t.Fatal("502 must classify as server error")
	}
}

func TestCompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model":"m","choices":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", 5*time.Second)
	if _, err := c.Complete(context.Background(), Request{Model: "m", User: "hello"}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}
