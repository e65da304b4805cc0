// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
)

// StreamEventType discriminates decoded stream events.
type StreamEventType int

const (
	// StreamEventDelta carries one ordered fragment of generated text.
	StreamEventDelta StreamEventType = iota

	// StreamEventDone signals the terminal sentinel. No content.
	StreamEventDone
)

// StreamEvent is one decoded event from a streaming completion.
type StreamEvent struct {
	Type    StreamEventType
	Content string
}

// StreamCallback receives decoded events in arrival order. Returning a
// non-nil error aborts decoding and propagates the error to the caller.
type StreamCallback func(StreamEvent) error

// doneSentinel terminates a stream in the chat-completions wire format.
const doneSentinel = "[DONE]"

// streamChunk is the wire shape of one streaming delta event.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// maxStreamLineBytes bounds a single SSE line. Provider deltas are small;
// 1MB leaves generous headroom for oversized tool payloads.
const maxStreamLineBytes = 1 << 20

// decodeStream reads a line-delimited event stream and invokes callback for
// each recognized delta, in order.
//
// Lines are expected in SSE framing ("data: {json}"); the "[DONE]" sentinel
// terminates iteration. Malformed lines are skipped, not fatal. The context
// is checked between lines so cancellation stops decoding promptly; a
// cancelled decode returns ctx.Err() so callers can distinguish a user
// abort from a transport failure.
func decodeStream(ctx context.Context, body io.Reader, callback StreamCallback) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLineBytes)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			// Bare NDJSON lines (no SSE framing) are accepted as-is.
			data = line
		}
		data = strings.TrimSpace(data)

		if data == doneSentinel {
			return callback(StreamEvent{Type: StreamEventDone})
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			slog.Debug("Skipping malformed stream line", "error", err, "line_len", len(data))
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content != "" {
			if err := callback(StreamEvent{Type: StreamEventDelta, Content: content}); err != nil {
				return err
			}
		}
		if chunk.Choices[0].FinishReason != "" {
			// Some backends close with a finish_reason instead of [DONE].
			return callback(StreamEvent{Type: StreamEventDone})
		}
	}

	if err := scanner.Err(); err != nil {
		// The body reader surfaces context cancellation as its own error;
		// prefer the context error so aborts stay distinguishable.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}
