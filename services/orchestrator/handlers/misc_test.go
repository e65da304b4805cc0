// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bicqa/bicqa/services/orchestrator/engine"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// HealthCheck Tests
// =============================================================================

func TestHealthCheck_ReturnsOK(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "ok", response["status"])
}

// =============================================================================
// SSE Writer Tests
// =============================================================================

func TestSSEWriter_EventFormat(t *testing.T) {
	w := httptest.NewRecorder()
	writer, err := NewSSEWriter(w)
	require.NoError(t, err)

	require.NoError(t, writer.WriteAnswerDelta("chunk"))

	body := w.Body.String()
	assert.Contains(t, body, "event: answer\n")
	assert.Contains(t, body, "data: {")
	assert.Contains(t, body, `"content":"chunk"`)

	// Every event carries an id and a timestamp.
	assert.Contains(t, body, `"id":"`)
	assert.Contains(t, body, `"created_at":`)
}

func TestSSEWriter_ErrorEventCarriesClassification(t *testing.T) {
	w := httptest.NewRecorder()
	writer, err := NewSSEWriter(w)
	require.NoError(t, err)

	require.NoError(t, writer.WriteError(&engine.ClassifiedError{
		Kind:    engine.KindAuth,
		Stage:   engine.StageModel,
		Message: "bad key",
	}))

	body := w.Body.String()
	assert.Contains(t, body, "event: error\n")
	assert.Contains(t, body, `"kind":"auth"`)
	assert.Contains(t, body, `"stage":"model"`)
}

func TestSSEWriter_KeepAliveIsComment(t *testing.T) {
	w := httptest.NewRecorder()
	writer, err := NewSSEWriter(w)
	require.NoError(t, err)

	require.NoError(t, writer.WriteKeepAlive())
	assert.Equal(t, ": ping\n\n", w.Body.String())
}

func TestSetSSEHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SetSSEHeaders(w)

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))
}
