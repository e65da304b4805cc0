// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"strings"
	"testing"

	"github.com/bicqa/bicqa/services/orchestrator/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPrompt_BareQuestion(t *testing.T) {
	t.Parallel()

	msgs := BuildPrompt(PromptInput{Question: "what is a deadlock"})

	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Contains(t, msgs[0].Content, basePersona)
	assert.Equal(t, "user", msgs[1].Role)
	assert.Equal(t, "what is a deadlock", msgs[1].Content)
}

func TestBuildPrompt_RulePromptComesFirst(t *testing.T) {
	t.Parallel()

	rule := &datatypes.ParameterRule{ID: "strict", Prompt: "Answer strictly from the material."}
	msgs := BuildPrompt(PromptInput{Question: "q", Rule: rule})

	system := msgs[0].Content
	ruleIdx := strings.Index(system, "Answer strictly from the material.")
	baseIdx := strings.Index(system, basePersona)
	require.GreaterOrEqual(t, ruleIdx, 0)
	require.GreaterOrEqual(t, baseIdx, 0)
	assert.Less(t, ruleIdx, baseIdx, "rule prompt precedes the base persona")
}

func TestBuildPrompt_KnowledgeFraming(t *testing.T) {
	t.Parallel()

	msgs := BuildPrompt(PromptInput{
		Question:      "why is the table missing",
		KnowledgeText: "ORA-00942: table missing",
		KnowledgeBase: "oracle-kb",
	})

	assert.Contains(t, msgs[0].Content, `"oracle-kb"`)
	user := msgs[1].Content
	assert.Contains(t, user, "Reference material:\n\nORA-00942: table missing")
	assert.Contains(t, user, "Question:why is the table missing")
}

func TestBuildPrompt_LanguageInstructionAppended(t *testing.T) {
	t.Parallel()

	msgs := BuildPrompt(PromptInput{Question: "q", UILanguage: "en-US"})
	assert.Contains(t, msgs[0].Content, `"en-US"`)

	// The working language never gets an instruction.
	native := BuildPrompt(PromptInput{Question: "q", UILanguage: "zh"})
	assert.NotContains(t, native[0].Content, languageInstructionPrefix)
}

func TestBuildPrompt_LanguageInstructionIdempotent(t *testing.T) {
	t.Parallel()

	// A rule prompt that already carries the instruction must not get a
	// second copy.
	instruction := languageInstructionPrefix + `"en".`
	rule := &datatypes.ParameterRule{ID: "r", Prompt: "Custom preamble. " + instruction}
	msgs := BuildPrompt(PromptInput{Question: "q", Rule: rule, UILanguage: "en"})

	assert.Equal(t, 1, strings.Count(msgs[0].Content, instruction))
}

func TestBuildPrompt_Deterministic(t *testing.T) {
	t.Parallel()

	in := PromptInput{
		Question:      "q",
		KnowledgeText: "snippet",
		KnowledgeBase: "kb",
		Rule:          &datatypes.ParameterRule{ID: "r", Prompt: "p"},
		UILanguage:    "en",
	}
	first := BuildPrompt(in)
	second := BuildPrompt(in)
	assert.Equal(t, first, second)
}
