// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the HTTP transport for chat-completions providers
// and the decoder for their streaming responses.
//
// The transport knows nothing about prompts or conversation state; it takes
// an already-built message list and delivers either a full answer or an
// ordered sequence of stream deltas.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bicqa/bicqa/services/orchestrator/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("bicqa.llm.transport")

// completionsPath is the chat-completions suffix appended to provider
// endpoints that do not already carry it.
const completionsPath = "/v1/chat/completions"

// Transport issues authenticated chat-completions requests for one provider.
//
// # Thread Safety
//
// A Transport is stateless per call and safe for concurrent use; the
// underlying http.Client may be shared across conversations.
type Transport struct {
	httpClient *http.Client
	provider   datatypes.Provider
	endpoint   string
}

// NewTransport creates a transport for the given provider. The provider's
// endpoint is normalized once here; NormalizeEndpoint is idempotent so
// repeated construction never stacks suffixes.
func NewTransport(provider datatypes.Provider) *Transport {
	return &Transport{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		provider:   provider,
		endpoint:   NormalizeEndpoint(provider.Endpoint),
	}
}

// NormalizeEndpoint appends the completions path to an endpoint unless it
// already ends with a chat-completions path. Idempotent:
// NormalizeEndpoint(NormalizeEndpoint(u)) == NormalizeEndpoint(u).
func NormalizeEndpoint(endpoint string) string {
	trimmed := strings.TrimRight(endpoint, "/")
	if strings.HasSuffix(trimmed, "/chat/completions") {
		return trimmed
	}
	return trimmed + completionsPath
}

// Chat issues a non-streaming completion and returns the answer text.
func (t *Transport) Chat(ctx context.Context, req ChatRequest) (string, error) {
	ctx, span := tracer.Start(ctx, "Transport.Chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.num_messages", len(req.Messages)),
	)

	req.Stream = false
	resp, err := t.send(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading completion response: %w", err)
	}

	var parsed struct {
		Choices []struct {
			Message datatypes.Message `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parsing completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("provider returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// ChatStream issues a streaming completion, delivering decoded deltas to
// callback in arrival order until the done sentinel or an error.
//
// A context cancellation aborts the underlying HTTP call and surfaces as
// ctx.Err(), distinguishable from transport failures, so the caller can
// treat it as "stopped by user" rather than an error to present.
func (t *Transport) ChatStream(ctx context.Context, req ChatRequest, callback StreamCallback) error {
	ctx, span := tracer.Start(ctx, "Transport.ChatStream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", req.Model))

	req.Stream = true
	resp, err := t.send(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer resp.Body.Close()

	if err := decodeStream(ctx, resp.Body, callback); err != nil {
		span.RecordError(err)
		if ctx.Err() == nil {
			span.SetStatus(codes.Error, "stream decode failed")
		}
		return err
	}
	return nil
}

// send performs the POST and maps non-2xx responses to StatusError. The
// caller owns the response body on success.
func (t *Transport) send(ctx context.Context, req ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("creating chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if t.provider.RequiresAuth() {
		httpReq.Header.Set("Authorization", "Bearer "+t.provider.APIKey)
	}

	slog.Debug("Sending chat request",
		"provider", t.provider.Name,
		"model", req.Model,
		"stream", req.Stream,
	)

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("chat request to %s failed: %w", t.provider.Name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body := unreadableBody
		if raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 16*1024)); readErr == nil {
			body = strings.TrimSpace(string(raw))
		}
		resp.Body.Close()
		slog.Error("Provider returned an error",
			"provider", t.provider.Name,
			"status_code", resp.StatusCode,
		)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: body}
	}
	return resp, nil
}
