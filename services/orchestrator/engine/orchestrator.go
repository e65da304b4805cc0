// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine implements the answer pipeline: knowledge retrieval, prompt
// assembly, model invocation with streaming, post-processing and error
// classification, coordinated per conversation.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bicqa/bicqa/services/knowledge"
	"github.com/bicqa/bicqa/services/llm"
	"github.com/bicqa/bicqa/services/orchestrator/config"
	"github.com/bicqa/bicqa/services/orchestrator/datatypes"
	"github.com/bicqa/bicqa/services/orchestrator/observability"
	"github.com/bicqa/bicqa/services/translate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("bicqa.engine")

// ErrConfigIncomplete is returned when an ask references a provider, model,
// rule or knowledge base that the config store cannot resolve.
var ErrConfigIncomplete = errors.New("configuration incomplete for this request")

// ErrUnknownConversation is returned by Cancel for an id the orchestrator
// has never seen.
var ErrUnknownConversation = errors.New("unknown conversation")

// ClientFactory builds a model client for a provider. Injected so tests can
// substitute fakes and so transports can be pooled per provider.
type ClientFactory func(provider datatypes.Provider) llm.ModelClient

// Orchestrator drives the answer pipeline. All collaborators are injected at
// construction; the orchestrator owns only the conversation registry.
//
// # Thread Safety
//
// Safe for concurrent use. Asks on distinct conversations run concurrently;
// a second ask on a busy conversation is rejected synchronously.
type Orchestrator struct {
	store      config.Store
	retriever  knowledge.Retriever
	translator *translate.Translator
	view       View
	metrics    *observability.Metrics
	newClient  ClientFactory

	mu            sync.Mutex
	conversations map[string]*datatypes.Conversation
	clients       map[string]llm.ModelClient
}

// NewOrchestrator wires the pipeline. A nil view is replaced with NopView;
// a nil factory defaults to the HTTP transport.
func NewOrchestrator(
	store config.Store,
	retriever knowledge.Retriever,
	translator *translate.Translator,
	view View,
	metrics *observability.Metrics,
	factory ClientFactory,
) *Orchestrator {
	if view == nil {
		view = NopView{}
	}
	if factory == nil {
		factory = func(p datatypes.Provider) llm.ModelClient { return llm.NewTransport(p) }
	}
	return &Orchestrator{
		store:         store,
		retriever:     retriever,
		translator:    translator,
		view:          view,
		metrics:       metrics,
		newClient:     factory,
		conversations: make(map[string]*datatypes.Conversation),
		clients:       make(map[string]llm.ModelClient),
	}
}

// askContext carries the per-ask resolved state through the pipeline stages.
// Built once at the top of Ask; stages read from it instead of re-resolving
// configuration mid-flight.
type askContext struct {
	req          datatypes.AskRequest
	conversation *datatypes.Conversation
	turn         *datatypes.Turn
	rule         *datatypes.ParameterRule
	kb           datatypes.KnowledgeBase
	hasKB        bool
	client       llm.ModelClient
	model        datatypes.Model
	view         View
}

// Ask runs the full pipeline for one question and returns the finalized
// turn snapshot.
//
// On failure the turn is finalized as failed and the classified error is
// both sent to the view and returned. A user cancellation finalizes the turn
// as cancelled with its partial answer intact and returns the abortedByUser
// classification. A duplicate ask on a busy conversation returns
// datatypes.ErrAskInProgress without touching the turn list.
func (o *Orchestrator) Ask(ctx context.Context, req datatypes.AskRequest) (datatypes.Turn, error) {
	return o.AskWithView(ctx, req, nil)
}

// AskWithView runs the pipeline with a per-ask view, overriding the one
// injected at construction. Used by transports that scope presentation to a
// single request, such as an SSE response. A nil view falls back to the
// constructor view.
func (o *Orchestrator) AskWithView(ctx context.Context, req datatypes.AskRequest, view View) (datatypes.Turn, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.Ask")
	defer span.End()

	if view == nil {
		view = o.view
	}

	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		return datatypes.Turn{}, err
	}
	span.SetAttributes(
		attribute.String("ask.request_id", req.RequestID),
		attribute.String("ask.model", req.Model.String()),
		attribute.Bool("ask.stream", req.Stream),
	)

	ac, err := o.resolve(req)
	if err != nil {
		cerr := Classify(err, StageModel)
		view.OnError(req.ConversationID, cerr)
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
		return datatypes.Turn{}, cerr
	}
	ac.view = view

	askCtx, turn, err := ac.conversation.Begin(ctx, req.Question)
	if err != nil {
		// Duplicate ask: rejected synchronously, no turn created, the
		// in-flight ask is untouched.
		return datatypes.Turn{}, err
	}
	ac.turn = turn
	defer ac.conversation.End(turn)

	start := time.Now()
	snapshot, err := o.run(askCtx, ac)
	if o.metrics != nil {
		o.metrics.ObserveAsk(string(snapshot.Status), req.Model.String(), time.Since(start))
	}
	return snapshot, err
}

// run executes the pipeline stages against an established turn. It always
// finalizes the turn before returning.
func (o *Orchestrator) run(ctx context.Context, ac *askContext) (datatypes.Turn, error) {
	question := ac.req.Question

	// Knowledge stage.
	if ac.hasKB {
		normalized := o.translator.EnsureWorkingLanguage(ctx, question)
		if normalized != question {
			ac.turn.SetNormalizedQuestion(normalized)
			question = normalized
		}

		result, err := o.retriever.Query(ctx, question, ac.kb, ac.rule)
		if err != nil {
			return o.fail(ac, err, StageKnowledge)
		}
		if o.metrics != nil {
			o.metrics.ObserveRetrieval(ac.kb.ID, result.MatchCount)
		}

		snippets := result.Snippets
		if ac.req.UILanguage != "" && ac.req.UILanguage != translate.WorkingLanguage {
			snippets = o.translator.TranslateSnippets(ctx, snippets, ac.req.UILanguage)
		}
		ac.turn.SetKnowledge(snippets, result.MatchCount)

		if result.MatchCount == 0 {
			// Zero matches: no model call, empty answer, the match count
			// still reaches the view for display.
			ac.turn.Finalize(datatypes.TurnNoMatch)
			snapshot := ac.turn.Snapshot()
			ac.view.OnTurnUpdated(ac.conversation.ID, snapshot)
			slog.Info("Knowledge retrieval found no matches",
				"conversation_id", ac.conversation.ID,
				"knowledge_base", ac.kb.ID,
			)
			return snapshot, nil
		}
		ac.view.OnTurnUpdated(ac.conversation.ID, ac.turn.Snapshot())
	}

	// Prompt stage.
	input := PromptInput{
		Question:   ac.req.Question,
		Rule:       ac.rule,
		UILanguage: ac.req.UILanguage,
	}
	if ac.hasKB {
		input.KnowledgeText = datatypes.JoinSnippets(ac.turn.Snapshot().Snippets)
		input.KnowledgeBase = ac.kb.ID
	}
	messages := BuildPrompt(input)

	// Model stage.
	chatReq := llm.ChatRequest{
		Model:       ac.req.Model.Name,
		Messages:    messages,
		MaxTokens:   ac.model.MaxTokens,
		Temperature: ac.rule.EffectiveTemperature(),
		Stream:      ac.req.Stream,
	}
	if ac.hasKB {
		sim := ac.rule.EffectiveSimilarity()
		topN := ac.rule.EffectiveTopN()
		chatReq.Similarity = &sim
		chatReq.TopN = &topN
		chatReq.KnowledgeBaseID = ac.kb.ID
	}

	if ac.req.Stream {
		if o.metrics != nil {
			o.metrics.StreamStarted()
			defer o.metrics.StreamEnded()
		}
		streamStart := time.Now()
		firstDelta := true
		err := ac.client.ChatStream(ctx, chatReq, func(ev llm.StreamEvent) error {
			if ev.Type != llm.StreamEventDelta {
				return nil
			}
			if !ac.turn.AppendDelta(ev.Content) {
				// Frozen by cancellation; stop pulling the stream.
				return context.Canceled
			}
			if firstDelta {
				firstDelta = false
				if o.metrics != nil {
					o.metrics.ObserveFirstDelta(ac.req.Model.String(), time.Since(streamStart))
				}
			}
			ac.view.OnTurnUpdated(ac.conversation.ID, ac.turn.Snapshot())
			if o.metrics != nil {
				o.metrics.CountStreamDelta(ac.req.Model.String())
			}
			return nil
		})
		if err != nil {
			return o.fail(ac, err, StageModel)
		}
	} else {
		answer, err := ac.client.Chat(ctx, chatReq)
		if err != nil {
			return o.fail(ac, err, StageModel)
		}
		ac.turn.AppendDelta(answer)
	}

	// Post-processing stage. Best effort; the committed answer survives a
	// translation failure unchanged.
	if ac.req.UILanguage != "" {
		answer := ac.turn.CurrentAnswer()
		translated := o.translator.TranslateAnswer(ctx, answer, ac.req.UILanguage)
		if translated != answer {
			ac.turn.ReplaceAnswer(translated)
		}
	}

	ac.turn.Finalize(datatypes.TurnComplete)
	snapshot := ac.turn.Snapshot()
	ac.view.OnTurnUpdated(ac.conversation.ID, snapshot)
	return snapshot, nil
}

// fail classifies a stage error, finalizes the turn and notifies the view.
// A cancellation keeps the partial answer and is not treated as a failure.
func (o *Orchestrator) fail(ac *askContext, err error, stage Stage) (datatypes.Turn, error) {
	cerr := Classify(err, stage)

	if cerr.IsAborted() {
		ac.turn.Freeze()
		snapshot := ac.turn.Snapshot()
		ac.view.OnError(ac.conversation.ID, cerr)
		slog.Info("Ask aborted by user",
			"conversation_id", ac.conversation.ID,
			"partial_answer_len", len(snapshot.Answer),
		)
		return snapshot, cerr
	}

	ac.turn.Finalize(datatypes.TurnFailed)
	snapshot := ac.turn.Snapshot()
	ac.view.OnError(ac.conversation.ID, cerr)
	slog.Error("Ask failed",
		"conversation_id", ac.conversation.ID,
		"stage", string(cerr.Stage),
		"kind", string(cerr.Kind),
		"error", err,
	)
	if o.metrics != nil {
		o.metrics.CountError(string(cerr.Stage), string(cerr.Kind))
	}
	return snapshot, cerr
}

// Cancel aborts the in-flight ask on the given conversation, if any. The
// active turn keeps its committed partial answer.
func (o *Orchestrator) Cancel(conversationID string) error {
	o.mu.Lock()
	conv, ok := o.conversations[conversationID]
	o.mu.Unlock()
	if !ok {
		return ErrUnknownConversation
	}
	conv.Cancel()
	slog.Info("Cancellation requested", "conversation_id", conversationID)
	return nil
}

// Conversation returns the conversation with the given id, if known.
func (o *Orchestrator) Conversation(id string) (*datatypes.Conversation, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	conv, ok := o.conversations[id]
	return conv, ok
}

// resolve builds the askContext from configuration. Any unresolvable
// reference maps to ErrConfigIncomplete.
func (o *Orchestrator) resolve(req datatypes.AskRequest) (*askContext, error) {
	ac := &askContext{req: req}

	provider, ok := o.store.ProviderByName(req.Model.Provider)
	if !ok {
		return nil, errors.Join(ErrConfigIncomplete,
			errors.New("provider "+req.Model.Provider+" is not configured"))
	}
	for _, m := range o.store.Models() {
		if m.Name == req.Model.Name && m.Provider == req.Model.Provider {
			ac.model = m
			break
		}
	}
	if ac.model.Name == "" {
		return nil, errors.Join(ErrConfigIncomplete,
			errors.New("model "+req.Model.String()+" is not configured"))
	}

	rule, ok := o.store.RuleByID(req.RuleID)
	if !ok {
		return nil, errors.Join(ErrConfigIncomplete,
			errors.New("parameter rule "+req.RuleID+" is not configured"))
	}
	ac.rule = &rule

	if req.KnowledgeBaseID != "" {
		kb, ok := o.store.KnowledgeBaseByID(req.KnowledgeBaseID)
		if !ok {
			return nil, errors.Join(ErrConfigIncomplete,
				errors.New("knowledge base "+req.KnowledgeBaseID+" is not configured"))
		}
		ac.kb = kb
		ac.hasKB = true
	}

	ac.client = o.clientFor(provider)
	ac.conversation = o.conversationFor(req.ConversationID)
	return ac, nil
}

// clientFor returns the pooled client for a provider, creating it on first
// use. Transports are stateless per call and shared across conversations.
func (o *Orchestrator) clientFor(provider datatypes.Provider) llm.ModelClient {
	o.mu.Lock()
	defer o.mu.Unlock()
	if client, ok := o.clients[provider.Name]; ok {
		return client
	}
	client := o.newClient(provider)
	o.clients[provider.Name] = client
	return client
}

// conversationFor returns the conversation with the given id, creating one
// when the id is empty or unknown.
func (o *Orchestrator) conversationFor(id string) *datatypes.Conversation {
	o.mu.Lock()
	defer o.mu.Unlock()
	if id != "" {
		if conv, ok := o.conversations[id]; ok {
			return conv
		}
	}
	conv := datatypes.NewConversation()
	if id != "" {
		conv.ID = id
	}
	o.conversations[conv.ID] = conv
	return conv
}
