// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bicqa/bicqa/services/orchestrator/datatypes"
)

func testProvider(endpoint string) datatypes.Provider {
	return datatypes.Provider{
		Name:     "test-provider",
		Endpoint: endpoint,
		AuthType: datatypes.AuthBearer,
		APIKey:   "sk-test",
	}
}

// =============================================================================
// Endpoint Normalization Tests
// =============================================================================

// TestNormalizeEndpoint_AppendsCompletionsPath verifies the suffix is added
// when missing.
func TestNormalizeEndpoint_AppendsCompletionsPath(t *testing.T) {
	t.Parallel()

	got := NormalizeEndpoint("https://api.example.com")
	want := "https://api.example.com/v1/chat/completions"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

// TestNormalizeEndpoint_Idempotent verifies repeated normalization never
// stacks suffixes.
func TestNormalizeEndpoint_Idempotent(t *testing.T) {
	t.Parallel()

	once := NormalizeEndpoint("https://api.example.com/v1")
	twice := NormalizeEndpoint(once)
	if once != twice {
		t.Errorf("Normalization not idempotent: %q vs %q", once, twice)
	}
	if strings.Count(twice, "/chat/completions") != 1 {
		t.Errorf("Suffix stacked: %q", twice)
	}
}

// TestNormalizeEndpoint_AlreadyComplete verifies an endpoint already ending
// in a completions path is untouched.
func TestNormalizeEndpoint_AlreadyComplete(t *testing.T) {
	t.Parallel()

	in := "https://api.example.com/openai/v1/chat/completions"
	if got := NormalizeEndpoint(in); got != in {
		t.Errorf("Expected unchanged endpoint, got %q", got)
	}
}

// =============================================================================
// Status Error Tests
// =============================================================================

// TestStatusMessage_FixedTable verifies every mapped status code produces
// its dedicated message and unmapped codes fall through to the generic one.
func TestStatusMessage_FixedTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code int
		want string
	}{
		{400, "rejected the request as malformed"},
		{401, "authentication"},
		{403, "denied permission"},
		{404, "not found"},
		{429, "rate limiting"},
		{500, "internal error"},
		{502, "temporarily unavailable"},
		{503, "temporarily unavailable"},
		{504, "temporarily unavailable"},
		{418, "status 418"},
	}
	for _, tc := range cases {
		msg := statusMessage(tc.code)
		if !strings.Contains(msg, tc.want) {
			t.Errorf("status %d: expected message containing %q, got %q", tc.code, tc.want, msg)
		}
	}
}

// TestStatusError_AppendsBody verifies the raw body is appended when read.
func TestStatusError_AppendsBody(t *testing.T) {
	t.Parallel()

	err := &StatusError{StatusCode: 401, Body: "invalid api key"}
	if !strings.Contains(err.Error(), "invalid api key") {
		t.Errorf("Expected body in message, got %q", err.Error())
	}

	unreadable := &StatusError{StatusCode: 401, Body: unreadableBody}
	if strings.Contains(unreadable.Error(), unreadableBody) {
		t.Errorf("Placeholder body should not be appended: %q", unreadable.Error())
	}
}

// =============================================================================
// Transport Tests
// =============================================================================

// TestTransport_Chat_ParsesChoices verifies the non-streaming response shape.
func TestTransport_Chat_ParsesChoices(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("Unexpected path %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Expected bearer auth, got %q", auth)
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi there"}}]}`))
	}))
	defer server.Close()

	tr := NewTransport(testProvider(server.URL))
	answer, err := tr.Chat(context.Background(), ChatRequest{Model: "test-model"})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if answer != "hi there" {
		t.Errorf("Expected 'hi there', got %q", answer)
	}
}

// TestTransport_LocalProviderOmitsAuth verifies local runtimes get no
// Authorization header.
func TestTransport_LocalProviderOmitsAuth(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "" {
			t.Errorf("Local provider sent auth header %q", auth)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	provider := datatypes.Provider{
		Name:     "local-ollama",
		Endpoint: server.URL,
		AuthType: datatypes.AuthBearer,
		APIKey:   "unused",
		Local:    true,
	}
	tr := NewTransport(provider)
	if _, err := tr.Chat(context.Background(), ChatRequest{Model: "m"}); err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
}

// TestTransport_Non2xxRaisesStatusError verifies the status table and body
// capture on provider errors.
func TestTransport_Non2xxRaisesStatusError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))
	defer server.Close()

	tr := NewTransport(testProvider(server.URL))
	_, err := tr.Chat(context.Background(), ChatRequest{Model: "m"})
	if err == nil {
		t.Fatal("Expected error for 429 response")
	}

	se, ok := IsStatusError(err)
	if !ok {
		t.Fatalf("Expected StatusError, got %T: %v", err, err)
	}
	if se.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", se.StatusCode)
	}
	if !strings.Contains(se.Error(), "rate limiting") {
		t.Errorf("Expected rate limiting message, got %q", se.Error())
	}
	if !strings.Contains(se.Error(), "slow down") {
		t.Errorf("Expected body appended, got %q", se.Error())
	}
}

// TestTransport_ChatStream_DeliversDeltas verifies an end-to-end streaming
// call over the SSE wire format.
func TestTransport_ChatStream_DeliversDeltas(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"par\"}}]}\n\n"))
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"tial\"}}]}\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	tr := NewTransport(testProvider(server.URL))

	var answer strings.Builder
	done := false
	err := tr.ChatStream(context.Background(), ChatRequest{Model: "m"}, func(ev StreamEvent) error {
		switch ev.Type {
		case StreamEventDelta:
			answer.WriteString(ev.Content)
		case StreamEventDone:
			done = true
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ChatStream returned error: %v", err)
	}
	if answer.String() != "partial" {
		t.Errorf("Expected 'partial', got %q", answer.String())
	}
	if !done {
		t.Error("Done event never delivered")
	}
}
