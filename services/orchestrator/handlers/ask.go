// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP surface of the answer pipeline.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bicqa/bicqa/services/orchestrator/config"
	"github.com/bicqa/bicqa/services/orchestrator/datatypes"
	"github.com/bicqa/bicqa/services/orchestrator/engine"
	"github.com/gin-gonic/gin"
)

// keepAliveInterval paces SSE comment pings while an ask is in flight.
const keepAliveInterval = 15 * time.Second

// AskHandler serves ask, cancel and configuration-listing endpoints.
type AskHandler struct {
	orch  *engine.Orchestrator
	store config.Store
}

// NewAskHandler creates the handler with its collaborators.
func NewAskHandler(orch *engine.Orchestrator, store config.Store) *AskHandler {
	return &AskHandler{orch: orch, store: store}
}

// =============================================================================
// SSE View Adapter
// =============================================================================

// sseView adapts the pipeline's cumulative turn updates onto the SSE wire.
//
// The pipeline always reports the full answer so far; the popup wants
// incremental fragments. sseView remembers how much of the answer it has
// already sent and emits only the growth, relying on the pipeline's
// monotonic-prefix guarantee.
type sseView struct {
	writer SSEWriter

	mu            sync.Mutex
	sentBytes     int
	sentKnowledge bool
}

func (v *sseView) OnTurnUpdated(conversationID string, turn datatypes.Turn) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.sentKnowledge && (turn.MatchCount > 0 || turn.Status == datatypes.TurnNoMatch) {
		v.sentKnowledge = true
		if err := v.writer.WriteKnowledge(turn.MatchCount); err != nil {
			slog.Debug("SSE knowledge write failed", "error", err)
		}
	}

	if len(turn.Answer) > v.sentBytes {
		delta := turn.Answer[v.sentBytes:]
		v.sentBytes = len(turn.Answer)
		if err := v.writer.WriteAnswerDelta(delta); err != nil {
			slog.Debug("SSE delta write failed", "error", err)
		}
	} else if len(turn.Answer) < v.sentBytes {
		// A finalization pass replaced the answer (back-translation).
		// Resend it whole; the client treats it as a replacement.
		v.sentBytes = len(turn.Answer)
		if err := v.writer.WriteAnswerDelta(turn.Answer); err != nil {
			slog.Debug("SSE replacement write failed", "error", err)
		}
	}
}

func (v *sseView) OnError(conversationID string, cerr *engine.ClassifiedError) {
	if err := v.writer.WriteError(cerr); err != nil {
		slog.Debug("SSE error write failed", "error", err)
	}
}

// =============================================================================
// Handlers
// =============================================================================

// AskStream handles POST /v1/ask/stream: runs the pipeline and streams turn
// progress as SSE events, ending with a done event.
func (h *AskHandler) AskStream(c *gin.Context) {
	var req datatypes.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Stream = true

	// Pre-check so a duplicate ask gets a plain 409 instead of a broken
	// SSE response. The orchestrator still enforces the rule under race.
	if conv, ok := h.orch.Conversation(req.ConversationID); ok && conv.Busy() {
		c.JSON(http.StatusConflict, gin.H{"error": datatypes.ErrAskInProgress.Error()})
		return
	}

	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := writer.WriteStatus("processing"); err != nil {
		return
	}

	// Keep proxies from timing out the connection during long retrievals
	// or slow models.
	stopKeepAlive := make(chan struct{})
	defer close(stopKeepAlive)
	go func() {
		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopKeepAlive:
				return
			case <-ticker.C:
				_ = writer.WriteKeepAlive()
			}
		}
	}()

	view := &sseView{writer: writer}
	turn, askErr := h.orch.AskWithView(c.Request.Context(), req, view)
	if askErr != nil {
		var cerr *engine.ClassifiedError
		if errors.As(askErr, &cerr) && cerr.IsAborted() {
			// Cancellation is a normal outcome; the error event already
			// carried abortedByUser, close with the frozen turn state.
			_ = writer.WriteDone(req.ConversationID, turn.ID, string(turn.Status))
			return
		}
		if errors.Is(askErr, datatypes.ErrAskInProgress) {
			_ = writer.WriteError(&engine.ClassifiedError{
				Kind:    engine.KindBadRequest,
				Stage:   engine.StageModel,
				Message: askErr.Error(),
			})
		}
		// Classified failures were already written by OnError.
		return
	}

	_ = writer.WriteDone(req.ConversationID, turn.ID, string(turn.Status))
}

// Ask handles POST /v1/ask: runs the pipeline without streaming and returns
// the finalized turn as JSON.
func (h *AskHandler) Ask(c *gin.Context) {
	var req datatypes.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	req.Stream = false

	turn, err := h.orch.Ask(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, datatypes.ErrAskInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		var cerr *engine.ClassifiedError
		if errors.As(err, &cerr) {
			if cerr.IsAborted() {
				c.JSON(http.StatusOK, gin.H{"turn": turn})
				return
			}
			c.JSON(statusForKind(cerr.Kind), gin.H{
				"error": cerr.Message,
				"kind":  cerr.Kind,
				"stage": cerr.Stage,
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"turn": turn})
}

// cancelRequest is the body of POST /v1/ask/cancel.
type cancelRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
}

// Cancel handles POST /v1/ask/cancel: aborts the in-flight ask on a
// conversation. The frozen turn keeps its partial answer.
func (h *AskHandler) Cancel(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := h.orch.Cancel(req.ConversationID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// Conversation handles GET /v1/conversations/:id: returns all turns.
func (h *AskHandler) Conversation(c *gin.Context) {
	conv, ok := h.orch.Conversation(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown conversation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":    conv.ID,
		"turns": conv.Turns(),
	})
}

// Models handles GET /v1/models.
func (h *AskHandler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": h.store.Models()})
}

// KnowledgeBases handles GET /v1/knowledge-bases.
func (h *AskHandler) KnowledgeBases(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"knowledge_bases": h.store.KnowledgeBases()})
}

// Rules handles GET /v1/rules.
func (h *AskHandler) Rules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": h.store.ParameterRules()})
}

// statusForKind maps the classification taxonomy onto HTTP status codes for
// the non-streaming endpoint.
func statusForKind(kind engine.ErrorKind) int {
	switch kind {
	case engine.KindBadRequest, engine.KindConfigIncomplete:
		return http.StatusBadRequest
	case engine.KindAuth:
		return http.StatusUnauthorized
	case engine.KindPermission:
		return http.StatusForbidden
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindRateLimited:
		return http.StatusTooManyRequests
	case engine.KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
