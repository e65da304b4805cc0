// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bicqa/bicqa/services/orchestrator/engine"
	"github.com/google/uuid"
)

// =============================================================================
// Wire Events
// =============================================================================

// Event is one SSE payload sent to the popup client.
//
// # Fields
//
//   - Id: UUID v4 for ordering and deduplication
//   - Type: Event discriminator (status, knowledge, answer, error, done)
//   - CreatedAt: Unix timestamp in milliseconds
//   - Content: Answer fragment for answer events
//   - MatchCount: Retrieval match count for knowledge events
//   - Kind/Stage/Message: Classified error detail for error events
//   - ConversationId/TurnId: Correlation ids, set on done events
type Event struct {
	Id             string `json:"id"`
	Type           string `json:"type"`
	CreatedAt      int64  `json:"created_at"`
	Content        string `json:"content,omitempty"`
	MatchCount     *int   `json:"match_count,omitempty"`
	Kind           string `json:"kind,omitempty"`
	Stage          string `json:"stage,omitempty"`
	Message        string `json:"message,omitempty"`
	ConversationId string `json:"conversation_id,omitempty"`
	TurnId         string `json:"turn_id,omitempty"`
}

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter defines the contract for writing Server-Sent Events to HTTP
// responses.
//
// # Description
//
// SSEWriter abstracts SSE event serialization and writing, enabling
// testability and separation from HTTP response mechanics. Implementations
// handle the SSE wire format (event: type\ndata: json\n\n) internally.
//
// Each event is automatically assigned an Id (UUID v4) and CreatedAt
// (Unix milliseconds).
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// # Assumptions
//
//   - Caller has set Content-Type: text/event-stream before writing
//   - Caller has disabled buffering (X-Accel-Buffering: no)
type SSEWriter interface {
	// WriteStatus writes a status event with a progress message
	// (e.g., "Searching knowledge base...").
	WriteStatus(message string) error

	// WriteKnowledge writes the retrieval outcome: the match count the
	// popup displays next to the answer.
	WriteKnowledge(matchCount int) error

	// WriteAnswerDelta writes one answer fragment in display order.
	WriteAnswerDelta(content string) error

	// WriteError writes a classified error event. Should be followed by
	// closing the stream.
	WriteError(cerr *engine.ClassifiedError) error

	// WriteDone writes the final event with correlation ids. No more
	// events follow.
	WriteDone(conversationID, turnID, status string) error

	// WriteKeepAlive sends an SSE comment line to keep the connection
	// alive through proxies during long retrievals.
	WriteKeepAlive() error
}

// sseWriter implements SSEWriter for HTTP SSE responses.
//
// # Thread Safety
//
// Thread-safe via mutex.
//
// # Limitations
//
//   - Cannot be reused across requests.
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEWriter creates a new SSEWriter for the given ResponseWriter. Fails
// when the writer does not support http.Flusher.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

// writeEvent populates metadata, serializes and flushes one event.
func (w *sseWriter) writeEvent(event Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	w.flusher.Flush()
	return nil
}

func (w *sseWriter) WriteStatus(message string) error {
	return w.writeEvent(Event{Type: "status", Message: message})
}

func (w *sseWriter) WriteKnowledge(matchCount int) error {
	return w.writeEvent(Event{Type: "knowledge", MatchCount: &matchCount})
}

func (w *sseWriter) WriteAnswerDelta(content string) error {
	return w.writeEvent(Event{Type: "answer", Content: content})
}

func (w *sseWriter) WriteError(cerr *engine.ClassifiedError) error {
	return w.writeEvent(Event{
		Type:    "error",
		Kind:    string(cerr.Kind),
		Stage:   string(cerr.Stage),
		Message: cerr.Message,
	})
}

func (w *sseWriter) WriteDone(conversationID, turnID, status string) error {
	return w.writeEvent(Event{
		Type:           "done",
		ConversationId: conversationID,
		TurnId:         turnID,
		Message:        status,
	})
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprint(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders configures the response for SSE streaming. Must be called
// before any writes.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEWriter = (*sseWriter)(nil)
