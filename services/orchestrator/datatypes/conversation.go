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
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrAskInProgress is returned when an ask is issued against a conversation
// that is still processing a previous one. Duplicate asks are rejected
// synchronously, never queued.
var ErrAskInProgress = errors.New("conversation already has an ask in progress")

// TurnStatus is the lifecycle state of a Turn.
type TurnStatus string

const (
	// TurnStreaming marks a turn whose answer is still accumulating.
	TurnStreaming TurnStatus = "streaming"

	// TurnComplete marks a successfully finalized turn.
	TurnComplete TurnStatus = "complete"

	// TurnNoMatch marks a knowledge-base ask that retrieved zero matches.
	// The model is never called for these turns.
	TurnNoMatch TurnStatus = "no_match"

	// TurnCancelled marks a turn stopped by the user. The partial answer
	// committed before cancellation is preserved, never cleared.
	TurnCancelled TurnStatus = "cancelled"

	// TurnFailed marks a turn that ended with a classified error.
	TurnFailed TurnStatus = "failed"
)

// Turn is one question/answer exchange within a Conversation.
//
// # Invariants
//
//   - Answer is append-only until the turn is finalized.
//   - At most one stream writes to a turn at a time (enforced by the owning
//     Conversation's single-ask rule).
//   - After Freeze or Finalize no further mutation is accepted; AppendDelta
//     and ReplaceAnswer become no-ops.
//
// # Thread Safety
//
// All mutators and accessors are safe for concurrent use.
type Turn struct {
	ID                 string             `json:"id"`
	Question           string             `json:"question"`
	NormalizedQuestion string             `json:"normalized_question,omitempty"`
	Answer             string             `json:"answer"`
	Snippets           []KnowledgeSnippet `json:"snippets,omitempty"`
	MatchCount         int                `json:"match_count"`
	Status             TurnStatus         `json:"status"`
	StartedAt          int64              `json:"started_at"`
	FinishedAt         int64              `json:"finished_at,omitempty"`

	// mu is a pointer so that value copies of a Turn (snapshots) do not
	// copy the lock. Snapshots share the owner's mutex.
	mu     *sync.Mutex
	frozen bool
}

// NewTurn creates a streaming-state turn for the given question.
func NewTurn(question string) *Turn {
	return &Turn{
		ID:        uuid.New().String(),
		Question:  question,
		Status:    TurnStreaming,
		StartedAt: time.Now().UnixMilli(),
		mu:        &sync.Mutex{},
	}
}

// AppendDelta appends one stream fragment to the answer in arrival order.
// Returns false (without mutating) when the turn is frozen or finalized.
func (t *Turn) AppendDelta(delta string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen || t.Status != TurnStreaming {
		return false
	}
	t.Answer += delta
	return true
}

// ReplaceAnswer swaps in a post-processed answer (e.g. a back-translation)
// immediately before finalization. No-op on a frozen or finalized turn.
func (t *Turn) ReplaceAnswer(answer string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen || t.Status != TurnStreaming {
		return false
	}
	t.Answer = answer
	return true
}

// SetKnowledge records the retrieval outcome on the turn.
func (t *Turn) SetKnowledge(snippets []KnowledgeSnippet, matchCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen || t.Status != TurnStreaming {
		return
	}
	t.Snippets = snippets
	t.MatchCount = matchCount
}

// SetNormalizedQuestion records the working-language form of the question.
func (t *Turn) SetNormalizedQuestion(q string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen || t.Status != TurnStreaming {
		return
	}
	t.NormalizedQuestion = q
}

// Freeze stops all further mutation while preserving whatever partial answer
// has been committed. Used on cancellation. Idempotent.
func (t *Turn) Freeze() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen {
		return
	}
	t.frozen = true
	if t.Status == TurnStreaming {
		t.Status = TurnCancelled
		t.FinishedAt = time.Now().UnixMilli()
	}
}

// Finalize transitions the turn to a terminal status. No-op if already
// frozen or finalized.
func (t *Turn) Finalize(status TurnStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen || t.Status != TurnStreaming {
		return
	}
	t.Status = status
	t.FinishedAt = time.Now().UnixMilli()
}

// CurrentAnswer returns the committed answer prefix at this instant.
func (t *Turn) CurrentAnswer() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Answer
}

// CurrentStatus returns the turn's status at this instant.
func (t *Turn) CurrentStatus() TurnStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Status
}

// Snapshot returns a copy safe to hand to collaborators. The copy carries
// no lock state and is never mutated by the pipeline afterwards.
func (t *Turn) Snapshot() Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	snippets := make([]KnowledgeSnippet, len(t.Snippets))
	copy(snippets, t.Snippets)
	return Turn{
		ID:                 t.ID,
		Question:           t.Question,
		NormalizedQuestion: t.NormalizedQuestion,
		Answer:             t.Answer,
		Snippets:           snippets,
		MatchCount:         t.MatchCount,
		Status:             t.Status,
		StartedAt:          t.StartedAt,
		FinishedAt:         t.FinishedAt,
		mu:                 t.mu,
	}
}

// =============================================================================
// Conversation
// =============================================================================

// Conversation owns an ordered list of turns and the cancellation state for
// the ask currently in flight, if any.
//
// A Conversation processes at most one ask at a time; Begin rejects a second
// ask while one is active. Cancellation is cooperative: Cancel aborts the
// in-flight context and freezes the active turn, and a later Begin starts a
// fresh turn with cancellation state reset.
type Conversation struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`

	mu     sync.Mutex
	turns  []*Turn
	active *Turn
	cancel context.CancelFunc
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UnixMilli(),
	}
}

// Begin starts a new turn for the given question.
//
// Returns ErrAskInProgress when a previous ask has not ended yet. On success
// the returned context is cancelled by Cancel and must be passed to every
// blocking call made on behalf of the turn.
func (c *Conversation) Begin(ctx context.Context, question string) (context.Context, *Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return nil, nil, ErrAskInProgress
	}
	turn := NewTurn(question)
	askCtx, cancel := context.WithCancel(ctx)
	c.active = turn
	c.cancel = cancel
	c.turns = append(c.turns, turn)
	return askCtx, turn, nil
}

// End releases the single-ask slot for the given turn. Safe to call more
// than once; only the active turn's End has an effect.
func (c *Conversation) End(turn *Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != turn {
		return
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.active = nil
}

// Cancel aborts the in-flight ask, if any. The active turn is frozen with
// its partial answer intact and subsequent deltas become no-ops. Idempotent.
func (c *Conversation) Cancel() {
	c.mu.Lock()
	turn := c.active
	cancel := c.cancel
	c.mu.Unlock()

	if turn != nil {
		turn.Freeze()
	}
	if cancel != nil {
		cancel()
	}
}

// Turns returns snapshots of all turns in order.
func (c *Conversation) Turns() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, 0, len(c.turns))
	for _, t := range c.turns {
		out = append(out, t.Snapshot())
	}
	return out
}

// Busy reports whether an ask is currently in flight.
func (c *Conversation) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}
