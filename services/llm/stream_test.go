// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// collectEvents runs decodeStream over the input and returns the events in
// arrival order.
func collectEvents(t *testing.T, input string) []StreamEvent {
	t.Helper()
	var events []StreamEvent
	err := decodeStream(context.Background(), strings.NewReader(input), func(ev StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("decodeStream returned error: %v", err)
	}
	return events
}

// TestDecodeStream_OrderedDeltas verifies deltas arrive in wire order.
func TestDecodeStream_OrderedDeltas(t *testing.T) {
	t.Parallel()

	input := "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n" +
		"data: [DONE]\n"

	events := collectEvents(t, input)

	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	if events[0].Content != "Hel" || events[1].Content != "lo" {
		t.Errorf("Deltas out of order: %q, %q", events[0].Content, events[1].Content)
	}
	if events[2].Type != StreamEventDone {
		t.Errorf("Expected final event to be done, got %v", events[2].Type)
	}
}

// TestDecodeStream_MalformedLinesSkipped verifies malformed lines are not
// fatal and decoding continues.
func TestDecodeStream_MalformedLinesSkipped(t *testing.T) {
	t.Parallel()

	input := "data: {not json at all\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n" +
		"garbage line without framing or json\n" +
		"data: [DONE]\n"

	events := collectEvents(t, input)

	var deltas []string
	for _, ev := range events {
		if ev.Type == StreamEventDelta {
			deltas = append(deltas, ev.Content)
		}
	}
	if len(deltas) != 1 || deltas[0] != "ok" {
		t.Errorf("Expected single delta 'ok', got %v", deltas)
	}
	if events[len(events)-1].Type != StreamEventDone {
		t.Error("Expected stream to terminate with done event")
	}
}

// TestDecodeStream_BareNDJSON verifies lines without SSE framing decode too.
func TestDecodeStream_BareNDJSON(t *testing.T) {
	t.Parallel()

	input := "{\"choices\":[{\"delta\":{\"content\":\"plain\"}}]}\n"

	events := collectEvents(t, input)

	if len(events) != 1 || events[0].Content != "plain" {
		t.Fatalf("Expected one delta 'plain', got %v", events)
	}
}

// TestDecodeStream_CommentAndBlankLines verifies keepalive comments and
// blank separators are ignored.
func TestDecodeStream_CommentAndBlankLines(t *testing.T) {
	t.Parallel()

	input := ": ping\n" +
		"\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n" +
		"\n" +
		"data: [DONE]\n"

	events := collectEvents(t, input)

	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
}

// TestDecodeStream_FinishReasonTerminates verifies a finish_reason closes
// the stream like the done sentinel.
func TestDecodeStream_FinishReasonTerminates(t *testing.T) {
	t.Parallel()

	input := "data: {\"choices\":[{\"delta\":{\"content\":\"end\"},\"finish_reason\":\"stop\"}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"never delivered\"}}]}\n"

	events := collectEvents(t, input)

	if len(events) != 2 {
		t.Fatalf("Expected delta+done, got %d events", len(events))
	}
	if events[0].Content != "end" {
		t.Errorf("Expected delta 'end', got %q", events[0].Content)
	}
	if events[1].Type != StreamEventDone {
		t.Errorf("Expected done after finish_reason, got %v", events[1].Type)
	}
}

// TestDecodeStream_CancelledContext verifies a cancelled context surfaces
// as ctx.Err(), distinguishable from a transport failure.
func TestDecodeStream_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	input := "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n"
	err := decodeStream(ctx, strings.NewReader(input), func(StreamEvent) error {
		t.Fatal("callback invoked after cancellation")
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

// TestDecodeStream_CallbackErrorAborts verifies a callback error stops
// decoding and propagates.
func TestDecodeStream_CallbackErrorAborts(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("stop now")
	input := "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n"

	calls := 0
	err := decodeStream(context.Background(), strings.NewReader(input), func(StreamEvent) error {
		calls++
		return sentinel
	})

	if !errors.Is(err, sentinel) {
		t.Errorf("Expected sentinel error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected decoding to stop after first callback, got %d calls", calls)
	}
}
