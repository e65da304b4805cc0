// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"fmt"
	"strings"

	"github.com/bicqa/bicqa/services/orchestrator/datatypes"
	"github.com/bicqa/bicqa/services/translate"
)

// basePersona is the fixed assistant persona that anchors every system
// message. A parameter rule's prompt template is prepended, never replaces it.
const basePersona = "You are a knowledgeable, careful assistant. Answer the " +
	"user's question accurately and concisely. If you are not sure, say so " +
	"rather than guessing."

// Prompt framing labels for knowledge-grounded questions.
const (
	referenceLabel = "Reference material"
	questionLabel  = "Question"
)

// languageInstruction is the suffix directing the model's output language.
// Appended at most once per build (see appendLanguageInstruction).
const languageInstructionPrefix = "Answer in the language identified by the BCP 47 tag "

// PromptInput is everything the builder needs for one message list.
//
// KnowledgeText empty means no knowledge base participates; KnowledgeBase
// then must be empty too.
type PromptInput struct {
	Question      string
	KnowledgeText string
	KnowledgeBase string
	Rule          *datatypes.ParameterRule
	UILanguage    string
}

// BuildPrompt assembles the system and user messages for one ask.
//
// Deterministic: identical inputs always produce identical output. The
// language instruction step is idempotent; building from an input that
// already carries the instruction does not duplicate it.
func BuildPrompt(in PromptInput) []datatypes.Message {
	var system strings.Builder

	if in.Rule != nil && strings.TrimSpace(in.Rule.Prompt) != "" {
		system.WriteString(strings.TrimSpace(in.Rule.Prompt))
		system.WriteString("\n\n")
	}
	system.WriteString(basePersona)

	if in.KnowledgeBase != "" {
		fmt.Fprintf(&system,
			"\n\nGround your answer in the reference material retrieved from the %q knowledge base.",
			in.KnowledgeBase,
		)
	}

	systemText := appendLanguageInstruction(system.String(), in.UILanguage)

	user := in.Question
	if in.KnowledgeText != "" {
		user = fmt.Sprintf("%s:\n\n%s\n\n%s:%s",
			referenceLabel, in.KnowledgeText, questionLabel, in.Question)
	}

	return []datatypes.Message{
		{Role: "system", Content: systemText},
		{Role: "user", Content: user},
	}
}

// appendLanguageInstruction appends the output-language directive when the
// UI language differs from the working language. Idempotent: a system text
// already carrying the directive is returned unchanged.
func appendLanguageInstruction(systemText, uiLanguage string) string {
	if uiLanguage == "" || uiLanguage == translate.WorkingLanguage {
		return systemText
	}
	instruction := languageInstructionPrefix + fmt.Sprintf("%q.", uiLanguage)
	if strings.Contains(systemText, instruction) {
		return systemText
	}
	return systemText + "\n\n" + instruction
}
