// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// MaxQuestionBytes is the maximum size of a question. Byte length, not rune
// count, to bound memory for multi-byte scripts.
const MaxQuestionBytes = 8 * 1024

// askValidate is the validator instance for ask datatypes.
// Initialized in init() with custom validators.
var askValidate *validator.Validate

func init() {
	askValidate = validator.New()
	_ = askValidate.RegisterValidation("maxbytes", validateQuestionBytes)
}

func validateQuestionBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQuestionBytes
}

// AskRequest is one answer-pipeline invocation.
//
// # Fields
//
//   - RequestID: Unique id for tracing and audit correlation (UUID v4).
//     Generated server-side when absent.
//   - ConversationID: Target conversation. Empty starts a new conversation.
//   - Question: The user's question as displayed. Max 8KB.
//   - Model: Typed model reference constructed at the API boundary.
//   - KnowledgeBaseID: Optional. When set, retrieval runs before prompting
//     and a zero-match result short-circuits the model call.
//   - RuleID: Optional parameter-rule id. Empty selects the default rule.
//   - UILanguage: BCP 47 tag of the user's interface language. Drives the
//     prompt language instruction and answer back-translation.
//   - Stream: Request token streaming when the model supports it.
type AskRequest struct {
	RequestID       string   `json:"request_id" validate:"omitempty,uuid4"`
	ConversationID  string   `json:"conversation_id"`
	Question        string   `json:"question" validate:"required,maxbytes"`
	Model           ModelRef `json:"model" validate:"required"`
	KnowledgeBaseID string   `json:"knowledge_base_id"`
	RuleID          string   `json:"rule_id"`
	UILanguage      string   `json:"ui_language" validate:"omitempty,bcp47_language_tag"`
	Stream          bool     `json:"stream"`
	Timestamp       int64    `json:"timestamp"`
}

// Validate validates the request fields after JSON binding.
func (r *AskRequest) Validate() error {
	return askValidate.Struct(r)
}

// EnsureDefaults populates RequestID and Timestamp when the client omitted
// them, so every ask is traceable.
func (r *AskRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = uuid.New().String()
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
}
