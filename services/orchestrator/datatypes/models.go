// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the answer orchestrator.
//
// This file contains the configuration-level objects supplied by the config
// store: providers, models, knowledge bases and parameter rules. For the
// per-request objects see ask.go, for conversation state see conversation.go.
package datatypes

import (
	"fmt"
	"strings"
)

// AuthType identifies how requests to a provider are authenticated.
type AuthType string

const (
	// AuthBearer sends the credential as an Authorization: Bearer header.
	AuthBearer AuthType = "bearer"

	// AuthNone sends no credential. Used by local runtimes.
	AuthNone AuthType = "none"
)

// Provider is an account/endpoint configuration for a model backend.
//
// # Fields
//
//   - Name: Unique provider name, referenced by Model.Provider.
//   - Endpoint: Base URL of the chat-completions API. The transport appends
//     the completions path if it is not already present.
//   - AuthType: How to authenticate ("bearer" or "none").
//   - APIKey: Credential for bearer auth. Ignored for AuthNone.
//   - Local: True for a local/self-hosted runtime (ollama, llama.cpp, vllm).
//     Local providers may omit auth entirely.
type Provider struct {
	Name     string   `json:"name" toml:"name" validate:"required"`
	Endpoint string   `json:"endpoint" toml:"endpoint" validate:"required,url"`
	AuthType AuthType `json:"auth_type" toml:"auth_type"`
	APIKey   string   `json:"-" toml:"api_key"`
	Local    bool     `json:"local" toml:"local"`
}

// RequiresAuth reports whether the transport must attach a credential.
func (p Provider) RequiresAuth() bool {
	if p.Local {
		return false
	}
	return p.AuthType != AuthNone
}

// Model describes one model offered by a provider.
type Model struct {
	Name        string  `json:"name" toml:"name" validate:"required"`
	DisplayName string  `json:"display_name" toml:"display_name"`
	Provider    string  `json:"provider" toml:"provider" validate:"required"`
	MaxTokens   int     `json:"max_tokens" toml:"max_tokens"`
	Temperature float32 `json:"temperature" toml:"temperature"`
	Streaming   bool    `json:"streaming" toml:"streaming"`
}

// ModelRef is a typed reference to a model, constructed once at the API
// boundary and passed as a structured value through the pipeline. It is
// never re-parsed downstream.
type ModelRef struct {
	Name     string `json:"name" validate:"required"`
	Provider string `json:"provider" validate:"required"`
}

// String renders the reference as provider/name for logs.
func (r ModelRef) String() string {
	return r.Provider + "/" + r.Name
}

// KnowledgeBase is a named external corpus queried for context snippets
// before prompting the model.
type KnowledgeBase struct {
	ID          string `json:"id" toml:"id" validate:"required"`
	DisplayName string `json:"display_name" toml:"display_name"`
	Dataset     string `json:"dataset" toml:"dataset" validate:"required"`
}

// =============================================================================
// Parameter Rules
// =============================================================================

// Built-in parameter rule ids. Rules with these ids ship as immutable
// defaults; a user rule carrying the same id overrides the built-in wholesale.
const (
	RuleBuiltinDefault = "builtin-default"
	RuleBuiltinPrecise = "builtin-precise"
	RuleBuiltinRecall  = "builtin-recall"
)

// Retrieval defaults applied when a rule does not pin its own values.
const (
	DefaultSimilarity  = 0.8
	DefaultTopN        = 4
	DefaultTemperature = float32(0.7)
)

// ParameterRule bundles a prompt template, temperature, similarity threshold
// and result-count limit under a stable id.
//
// Optional numeric fields are pointers so that "not set" is distinguishable
// from an explicit zero; the retriever and transport substitute the fixed
// defaults above for nil fields.
type ParameterRule struct {
	ID          string   `json:"id" toml:"id" validate:"required"`
	Prompt      string   `json:"prompt" toml:"prompt"`
	Temperature *float32 `json:"temperature,omitempty" toml:"temperature"`
	Similarity  *float64 `json:"similarity,omitempty" toml:"similarity"`
	TopN        *int     `json:"top_n,omitempty" toml:"top_n"`
	Default     bool     `json:"default" toml:"default"`
}

// IsBuiltin reports whether the rule id belongs to the fixed built-in set.
func (r ParameterRule) IsBuiltin() bool {
	switch r.ID {
	case RuleBuiltinDefault, RuleBuiltinPrecise, RuleBuiltinRecall:
		return true
	}
	return false
}

// EffectiveSimilarity returns the rule's similarity threshold or the default.
func (r *ParameterRule) EffectiveSimilarity() float64 {
	if r != nil && r.Similarity != nil {
		return *r.Similarity
	}
	return DefaultSimilarity
}

// EffectiveTopN returns the rule's result limit or the default.
func (r *ParameterRule) EffectiveTopN() int {
	if r != nil && r.TopN != nil {
		return *r.TopN
	}
	return DefaultTopN
}

// EffectiveTemperature returns the rule's temperature or the default.
func (r *ParameterRule) EffectiveTemperature() float32 {
	if r != nil && r.Temperature != nil {
		return *r.Temperature
	}
	return DefaultTemperature
}

// BuiltinParameterRules returns the immutable default rule set.
//
// Callers receive fresh copies; mutating the result does not affect
// subsequent calls.
func BuiltinParameterRules() []ParameterRule {
	f32 := func(v float32) *float32 { return &v }
	f64 := func(v float64) *float64 { return &v }
	n := func(v int) *int { return &v }
	return []ParameterRule{
		{
			ID:          RuleBuiltinDefault,
			Prompt:      "",
			Temperature: f32(DefaultTemperature),
			Similarity:  f64(DefaultSimilarity),
			TopN:        n(DefaultTopN),
			Default:     true,
		},
		{
			ID:          RuleBuiltinPrecise,
			Prompt:      "Answer strictly from the supplied reference material. If the material does not contain the answer, say so.",
			Temperature: f32(0.1),
			Similarity:  f64(0.9),
			TopN:        n(2),
		},
		{
			ID:          RuleBuiltinRecall,
			Prompt:      "Use the supplied reference material broadly and include related background that may help.",
			Temperature: f32(0.9),
			Similarity:  f64(0.6),
			TopN:        n(8),
		},
	}
}

// =============================================================================
// Knowledge Snippets
// =============================================================================

// ImageRef is one image reference attached to a knowledge snippet.
type ImageRef struct {
	Alt string `json:"alt,omitempty"`
	URL string `json:"url"`
}

// KnowledgeSnippet is one retrieved unit of context: raw text plus any image
// references parsed out of it.
type KnowledgeSnippet struct {
	Text   string     `json:"text"`
	Images []ImageRef `json:"images,omitempty"`
}

// Message is one chat message in provider wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// JoinSnippets renders snippet texts as a single block for prompting,
// separated by blank lines. Empty snippets are skipped.
func JoinSnippets(snippets []KnowledgeSnippet) string {
	parts := make([]string, 0, len(snippets))
	for _, s := range snippets {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, "\n\n")
}

// Validate checks the structural fields of a provider entry beyond tag
// validation, e.g. that bearer providers actually carry a key.
func (p Provider) Validate() error {
	if p.RequiresAuth() && p.APIKey == "" {
		return fmt.Errorf("provider %q uses %s auth but has no api_key", p.Name, p.AuthType)
	}
	return nil
}
