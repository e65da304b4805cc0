// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package translate bridges the knowledge service's working language and the
// user's interface language.
//
// Every operation in this package is best-effort. On any failure the
// original input is returned unchanged and the failure is logged; a broken
// translation backend degrades output language, never the answer itself.
package translate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/bicqa/bicqa/services/orchestrator/datatypes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
)

// WorkingLanguage is the knowledge corpus language; questions are moved into
// it before retrieval and answers moved out of it for other UI languages.
const WorkingLanguage = "zh"

// maxConcurrentSnippets bounds parallel snippet translation calls.
const maxConcurrentSnippets = 4

// translationPrefixes are leading labels some models prepend to translated
// output. They are stripped before the translation is accepted.
var translationPrefixes = []string{
	"Translation:",
	"Translated text:",
	"译文：",
	"翻译：",
}

// Engine is the completion backend translations run through.
type Engine interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Translator applies best-effort machine translation around the pipeline.
type Translator struct {
	engine Engine
}

// NewTranslator creates a translator backed by the given engine.
func NewTranslator(engine Engine) *Translator {
	return &Translator{engine: engine}
}

// EnsureWorkingLanguage returns the question in the knowledge base's working
// language. Questions that already look like the working language (detected
// by the presence of Han characters) pass through untouched.
func (t *Translator) EnsureWorkingLanguage(ctx context.Context, question string) string {
	if containsHan(question) {
		return question
	}
	return t.translate(ctx, question, WorkingLanguage)
}

// TranslateAnswer returns the answer in targetLanguage. A target equal to
// the working language, or an unparseable tag, passes the answer through.
func (t *Translator) TranslateAnswer(ctx context.Context, answer, targetLanguage string) string {
	if !needsTranslation(targetLanguage) || strings.TrimSpace(answer) == "" {
		return answer
	}
	return t.translate(ctx, answer, targetLanguage)
}

// TranslateSnippets returns the snippets with their texts translated into
// targetLanguage. Snippets translate concurrently; an individual failure
// keeps that snippet's original text.
func (t *Translator) TranslateSnippets(
	ctx context.Context,
	snippets []datatypes.KnowledgeSnippet,
	targetLanguage string,
) []datatypes.KnowledgeSnippet {
	if !needsTranslation(targetLanguage) || len(snippets) == 0 {
		return snippets
	}

	out := make([]datatypes.KnowledgeSnippet, len(snippets))
	copy(out, snippets)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSnippets)
	for i := range out {
		if strings.TrimSpace(out[i].Text) == "" {
			continue
		}
		g.Go(func() error {
			out[i].Text = t.translate(gctx, out[i].Text, targetLanguage)
			return nil
		})
	}
	// Workers never return errors; translate swallows failures per snippet.
	_ = g.Wait()
	return out
}

// translate performs one translation call, returning the input on failure.
func (t *Translator) translate(ctx context.Context, text, target string) string {
	if t.engine == nil {
		return text
	}
	prompt := fmt.Sprintf(
		"Translate the following text into %s. Output only the translated text with no commentary.\n\n%s",
		languageName(target), text,
	)
	translated, err := t.engine.Complete(ctx, prompt)
	if err != nil {
		slog.Warn("Translation failed, keeping original text",
			"target_language", target,
			"error", err,
		)
		return text
	}
	translated = stripTranslationPrefix(strings.TrimSpace(translated))
	if translated == "" {
		return text
	}
	return translated
}

// stripTranslationPrefix removes a known leading label from model output.
func stripTranslationPrefix(text string) string {
	for _, prefix := range translationPrefixes {
		if rest, ok := strings.CutPrefix(text, prefix); ok {
			return strings.TrimSpace(rest)
		}
	}
	return text
}

// needsTranslation reports whether targetLanguage is a valid tag naming a
// language other than the working language.
func needsTranslation(targetLanguage string) bool {
	if targetLanguage == "" {
		return false
	}
	tag, err := language.Parse(targetLanguage)
	if err != nil {
		slog.Debug("Unparseable UI language tag, skipping translation", "tag", targetLanguage)
		return false
	}
	base, _ := tag.Base()
	working, _ := language.MustParse(WorkingLanguage).Base()
	return base != working
}

// languageName renders a tag for use inside a translation prompt. The raw
// tag is acceptable to models; parsing only canonicalizes it.
func languageName(tag string) string {
	parsed, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	return parsed.String()
}

// containsHan reports whether the text carries any Han-script characters,
// the heuristic for "already in the working language".
func containsHan(text string) bool {
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}
