// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package knowledge queries the knowledge service for context snippets and
// normalizes its heterogeneous response shapes into one snippet model.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bicqa/bicqa/services/orchestrator/datatypes"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("bicqa.knowledge")

// WorkingLanguage is the knowledge service's native corpus language.
// Questions are translated into it before querying (see services/translate).
const WorkingLanguage = "zh"

// RetrievalError is raised for any retrieval failure: HTTP errors, malformed
// payloads, and non-"200" status fields. It carries no user-facing copy; the
// orchestrator's classifier decides presentation.
type RetrievalError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

// Error implements the error interface.
func (e *RetrievalError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("knowledge retrieval failed (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("knowledge retrieval failed: %s", e.Message)
}

// IsRetrievalError extracts a RetrievalError from an error chain.
func IsRetrievalError(err error) (*RetrievalError, bool) {
	var re *RetrievalError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// Result is one retrieval outcome. MatchCount is reported even when the
// caller short-circuits on zero matches.
type Result struct {
	Snippets   []datatypes.KnowledgeSnippet
	MatchCount int
}

// Retriever queries a knowledge base for snippets relevant to a question.
type Retriever interface {
	Query(ctx context.Context, question string, kb datatypes.KnowledgeBase, rule *datatypes.ParameterRule) (*Result, error)
}

// queryRequest is the knowledge service wire request.
type queryRequest struct {
	Question     string  `json:"question"`
	Similarity   float64 `json:"similarity"`
	TopN         int     `json:"topn"`
	DatasetName  string  `json:"dataset_name"`
	Temperature  float32 `json:"temperature"`
	Language     string  `json:"language"`
	IsSupportImg bool    `json:"isSupportImg"`
}

// queryResponse is the knowledge service wire response. Data is deferred to
// raw JSON because the service answers in two shapes: the legacy flat string
// array and the newer {dataList, imageList} object.
type queryResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type splitData struct {
	DataList  []string `json:"dataList"`
	ImageList []string `json:"imageList"`
}

// HTTPRetriever implements Retriever against the knowledge HTTP API.
//
// # Thread Safety
//
// Safe for concurrent use; the resty client is stateless per call and may be
// shared across conversations.
type HTTPRetriever struct {
	client *resty.Client
}

// NewHTTPRetriever creates a retriever for the knowledge service at baseURL.
func NewHTTPRetriever(baseURL string) *HTTPRetriever {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(60 * time.Second).
		SetHeader("Content-Type", "application/json")
	return &HTTPRetriever{client: client}
}

// Query posts the question to the knowledge service and normalizes the
// response. Rule fields override the fixed retrieval defaults when present.
//
// A failure never substitutes fallback content; callers decide what to do
// with an empty or failed retrieval.
func (r *HTTPRetriever) Query(
	ctx context.Context,
	question string,
	kb datatypes.KnowledgeBase,
	rule *datatypes.ParameterRule,
) (*Result, error) {
	ctx, span := tracer.Start(ctx, "HTTPRetriever.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("knowledge.base_id", kb.ID),
		attribute.String("knowledge.dataset", kb.Dataset),
	)

	req := queryRequest{
		Question:     question,
		Similarity:   rule.EffectiveSimilarity(),
		TopN:         rule.EffectiveTopN(),
		DatasetName:  kb.Dataset,
		Temperature:  rule.EffectiveTemperature(),
		Language:     WorkingLanguage,
		IsSupportImg: true,
	}

	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(req).
		Post("/query")
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "knowledge request failed")
		return nil, &RetrievalError{Message: err.Error(), Retryable: true}
	}
	if resp.IsError() {
		span.SetStatus(codes.Error, "knowledge service error status")
		return nil, &RetrievalError{
			StatusCode: resp.StatusCode(),
			Message:    resp.String(),
			Retryable:  resp.StatusCode() >= 500,
		}
	}
	var parsed queryResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, &RetrievalError{Message: fmt.Sprintf("malformed payload: %v", err)}
	}
	if parsed.Status != "200" {
		return nil, &RetrievalError{
			Message: fmt.Sprintf("service reported status %q", parsed.Status),
		}
	}

	snippets, err := normalizeData(parsed.Data)
	if err != nil {
		return nil, &RetrievalError{Message: err.Error()}
	}

	span.SetAttributes(attribute.Int("knowledge.match_count", len(snippets)))
	slog.Debug("Knowledge retrieval complete",
		"knowledge_base", kb.ID,
		"match_count", len(snippets),
	)
	return &Result{Snippets: snippets, MatchCount: len(snippets)}, nil
}

// normalizeData folds both response shapes into the snippet model. The legacy
// shape is a flat string array; the newer shape splits text and image lists.
func normalizeData(raw json.RawMessage) ([]datatypes.KnowledgeSnippet, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var flat []string
	if err := json.Unmarshal(raw, &flat); err == nil {
		return snippetsFromTexts(flat), nil
	}

	var split splitData
	if err := json.Unmarshal(raw, &split); err != nil {
		return nil, fmt.Errorf("unrecognized data payload: %w", err)
	}

	snippets := snippetsFromTexts(split.DataList)
	images := imagesFromList(split.ImageList)
	if len(images) > 0 {
		if len(snippets) == 0 {
			snippets = append(snippets, datatypes.KnowledgeSnippet{Images: images})
		} else {
			snippets[0].Images = append(snippets[0].Images, images...)
		}
	}
	return snippets, nil
}

func snippetsFromTexts(texts []string) []datatypes.KnowledgeSnippet {
	snippets := make([]datatypes.KnowledgeSnippet, 0, len(texts))
	for _, text := range texts {
		if text == "" {
			continue
		}
		snippets = append(snippets, ParseSnippet(text))
	}
	return snippets
}
