// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the orchestrator's provider, model, knowledge base
// and parameter rule configuration from a TOML file.
package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/bicqa/bicqa/services/orchestrator/datatypes"
	"github.com/go-playground/validator/v10"
)

// Store exposes the configuration objects the pipeline needs. Implementations
// must be safe for concurrent reads.
type Store interface {
	Providers() []datatypes.Provider
	Models() []datatypes.Model
	KnowledgeBases() []datatypes.KnowledgeBase
	ParameterRules() []datatypes.ParameterRule

	// ProviderByName resolves a provider entry for a typed model reference.
	ProviderByName(name string) (datatypes.Provider, bool)

	// RuleByID resolves a parameter rule; an empty id resolves to the
	// default rule.
	RuleByID(id string) (datatypes.ParameterRule, bool)

	// KnowledgeBaseByID resolves a knowledge base entry.
	KnowledgeBaseByID(id string) (datatypes.KnowledgeBase, bool)
}

// Translation selects the model used for question/answer translation.
type Translation struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
}

// fileConfig is the TOML document shape.
type fileConfig struct {
	KnowledgeEndpoint string                    `toml:"knowledge_endpoint"`
	Translation       Translation               `toml:"translation"`
	Providers         []datatypes.Provider      `toml:"providers"`
	Models            []datatypes.Model         `toml:"models"`
	KnowledgeBases    []datatypes.KnowledgeBase `toml:"knowledge_bases"`
	Rules             []datatypes.ParameterRule `toml:"rules"`
}

// FileStore is a Store loaded once from a TOML file. Built-in parameter
// rules are merged with user rules; a user rule carrying a built-in id
// replaces that built-in wholesale.
type FileStore struct {
	mu                sync.RWMutex
	knowledgeEndpoint string
	translation       Translation
	providers         []datatypes.Provider
	models            []datatypes.Model
	knowledgeBases    []datatypes.KnowledgeBase
	rules             []datatypes.ParameterRule
}

var configValidate = validator.New()

// LoadFile reads and validates the TOML configuration at path.
func LoadFile(path string) (*FileStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var doc fileConfig
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	for i := range doc.Providers {
		if err := configValidate.Struct(&doc.Providers[i]); err != nil {
			return nil, fmt.Errorf("provider %d invalid: %w", i, err)
		}
		if err := doc.Providers[i].Validate(); err != nil {
			return nil, err
		}
	}
	for i := range doc.Models {
		if err := configValidate.Struct(&doc.Models[i]); err != nil {
			return nil, fmt.Errorf("model %d invalid: %w", i, err)
		}
	}
	for i := range doc.KnowledgeBases {
		if err := configValidate.Struct(&doc.KnowledgeBases[i]); err != nil {
			return nil, fmt.Errorf("knowledge base %d invalid: %w", i, err)
		}
	}
	for i := range doc.Rules {
		if err := configValidate.Struct(&doc.Rules[i]); err != nil {
			return nil, fmt.Errorf("rule %d invalid: %w", i, err)
		}
	}

	return &FileStore{
		knowledgeEndpoint: doc.KnowledgeEndpoint,
		translation:       doc.Translation,
		providers:         doc.Providers,
		models:            doc.Models,
		knowledgeBases:    doc.KnowledgeBases,
		rules:             mergeRules(doc.Rules),
	}, nil
}

// NewStaticStore builds a store from in-memory objects. Used by tests and
// by deployments that configure through flags rather than a file.
func NewStaticStore(
	providers []datatypes.Provider,
	models []datatypes.Model,
	kbs []datatypes.KnowledgeBase,
	rules []datatypes.ParameterRule,
) *FileStore {
	return &FileStore{
		providers:      providers,
		models:         models,
		knowledgeBases: kbs,
		rules:          mergeRules(rules),
	}
}

// mergeRules overlays user rules onto the built-in set. User rules with a
// built-in id replace the built-in; the rest are appended in file order. A
// user rule flagged default takes the default slot from the built-in.
func mergeRules(userRules []datatypes.ParameterRule) []datatypes.ParameterRule {
	merged := datatypes.BuiltinParameterRules()

	userHasDefault := false
	for _, r := range userRules {
		if r.Default {
			userHasDefault = true
			break
		}
	}
	if userHasDefault {
		for i := range merged {
			merged[i].Default = false
		}
	}

	index := make(map[string]int, len(merged))
	for i, r := range merged {
		index[r.ID] = i
	}
	for _, r := range userRules {
		if i, ok := index[r.ID]; ok {
			merged[i] = r
			continue
		}
		index[r.ID] = len(merged)
		merged = append(merged, r)
	}
	return merged
}

// KnowledgeEndpoint returns the knowledge service base URL.
func (s *FileStore) KnowledgeEndpoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.knowledgeEndpoint
}

// TranslationModel returns the translation backend selection. Either field
// may be empty, in which case translation is disabled.
func (s *FileStore) TranslationModel() Translation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.translation
}

// Providers returns the configured providers.
func (s *FileStore) Providers() []datatypes.Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]datatypes.Provider, len(s.providers))
	copy(out, s.providers)
	return out
}

// Models returns the configured models.
func (s *FileStore) Models() []datatypes.Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]datatypes.Model, len(s.models))
	copy(out, s.models)
	return out
}

// KnowledgeBases returns the configured knowledge bases.
func (s *FileStore) KnowledgeBases() []datatypes.KnowledgeBase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]datatypes.KnowledgeBase, len(s.knowledgeBases))
	copy(out, s.knowledgeBases)
	return out
}

// ParameterRules returns the merged rule set, built-ins included.
func (s *FileStore) ParameterRules() []datatypes.ParameterRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]datatypes.ParameterRule, len(s.rules))
	copy(out, s.rules)
	return out
}

// ProviderByName resolves a provider by its unique name.
func (s *FileStore) ProviderByName(name string) (datatypes.Provider, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.providers {
		if p.Name == name {
			return p, true
		}
	}
	return datatypes.Provider{}, false
}

// RuleByID resolves a rule by id. An empty id selects the rule flagged as
// default, falling back to the built-in default.
func (s *FileStore) RuleByID(id string) (datatypes.ParameterRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id == "" {
		for _, r := range s.rules {
			if r.Default {
				return r, true
			}
		}
		id = datatypes.RuleBuiltinDefault
	}
	for _, r := range s.rules {
		if r.ID == id {
			return r, true
		}
	}
	return datatypes.ParameterRule{}, false
}

// KnowledgeBaseByID resolves a knowledge base by id.
func (s *FileStore) KnowledgeBaseByID(id string) (datatypes.KnowledgeBase, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, kb := range s.knowledgeBases {
		if kb.ID == id {
			return kb, true
		}
	}
	return datatypes.KnowledgeBase{}, false
}
