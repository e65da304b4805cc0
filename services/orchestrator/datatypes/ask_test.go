// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAsk() AskRequest {
	return AskRequest{
		Question: "why does ORA-00942 happen",
		Model:    ModelRef{Name: "qwen-max", Provider: "dashscope"},
	}
}

func TestAskRequest_ValidMinimal(t *testing.T) {
	t.Parallel()

	req := validAsk()
	assert.NoError(t, req.Validate())
}

func TestAskRequest_QuestionRequired(t *testing.T) {
	t.Parallel()

	req := validAsk()
	req.Question = ""
	assert.Error(t, req.Validate())
}

func TestAskRequest_QuestionByteLimit(t *testing.T) {
	t.Parallel()

	req := validAsk()
	req.Question = strings.Repeat("a", MaxQuestionBytes)
	assert.NoError(t, req.Validate())

	req.Question = strings.Repeat("a", MaxQuestionBytes+1)
	assert.Error(t, req.Validate())
}

func TestAskRequest_UILanguageTag(t *testing.T) {
	t.Parallel()

	req := validAsk()
	req.UILanguage = "en-US"
	assert.NoError(t, req.Validate())

	req.UILanguage = "not a tag"
	assert.Error(t, req.Validate())
}

func TestAskRequest_EnsureDefaults(t *testing.T) {
	t.Parallel()

	req := validAsk()
	req.EnsureDefaults()
	require.NotEmpty(t, req.RequestID)
	require.NotZero(t, req.Timestamp)
	assert.NoError(t, req.Validate(), "generated request id must be a valid uuid4")

	// Existing values are preserved.
	id := req.RequestID
	ts := req.Timestamp
	req.EnsureDefaults()
	assert.Equal(t, id, req.RequestID)
	assert.Equal(t, ts, req.Timestamp)
}

func TestParameterRule_EffectiveValues(t *testing.T) {
	t.Parallel()

	var nilRule *ParameterRule
	assert.Equal(t, DefaultSimilarity, nilRule.EffectiveSimilarity())
	assert.Equal(t, DefaultTopN, nilRule.EffectiveTopN())
	assert.Equal(t, DefaultTemperature, nilRule.EffectiveTemperature())

	sim := 0.5
	rule := &ParameterRule{ID: "x", Similarity: &sim}
	assert.Equal(t, 0.5, rule.EffectiveSimilarity())
	assert.Equal(t, DefaultTopN, rule.EffectiveTopN())
}

func TestBuiltinParameterRules_CopiesAreIndependent(t *testing.T) {
	t.Parallel()

	first := BuiltinParameterRules()
	*first[0].Similarity = 0.1
	second := BuiltinParameterRules()
	assert.Equal(t, DefaultSimilarity, *second[0].Similarity)
}
