// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversation_RejectsDuplicateAsk(t *testing.T) {
	t.Parallel()

	conv := NewConversation()
	_, turn, err := conv.Begin(context.Background(), "first")
	require.NoError(t, err)

	_, _, err = conv.Begin(context.Background(), "second")
	assert.ErrorIs(t, err, ErrAskInProgress)

	// Releasing the slot allows the next ask.
	conv.End(turn)
	_, _, err = conv.Begin(context.Background(), "third")
	assert.NoError(t, err)
}

func TestConversation_CancelFreezesPartialAnswer(t *testing.T) {
	t.Parallel()

	conv := NewConversation()
	ctx, turn, err := conv.Begin(context.Background(), "q")
	require.NoError(t, err)

	require.True(t, turn.AppendDelta("partial "))
	require.True(t, turn.AppendDelta("answer"))

	conv.Cancel()

	// The in-flight context is aborted and the answer is frozen, not cleared.
	assert.Error(t, ctx.Err())
	assert.Equal(t, "partial answer", turn.CurrentAnswer())
	assert.Equal(t, TurnCancelled, turn.CurrentStatus())

	assert.False(t, turn.AppendDelta("late delta"))
	assert.Equal(t, "partial answer", turn.CurrentAnswer())
}

func TestConversation_NewAskAfterCancelResetsState(t *testing.T) {
	t.Parallel()

	conv := NewConversation()
	_, first, err := conv.Begin(context.Background(), "q1")
	require.NoError(t, err)
	conv.Cancel()
	conv.End(first)

	ctx, second, err := conv.Begin(context.Background(), "q2")
	require.NoError(t, err)
	assert.NoError(t, ctx.Err(), "fresh turn starts with cancellation state reset")
	assert.True(t, second.AppendDelta("new answer"))
	assert.Equal(t, "new answer", second.CurrentAnswer())

	turns := conv.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, TurnCancelled, turns[0].Status)
}

func TestTurn_AppendOnlyUntilFinalized(t *testing.T) {
	t.Parallel()

	turn := NewTurn("q")
	require.True(t, turn.AppendDelta("a"))
	require.True(t, turn.AppendDelta("b"))
	turn.Finalize(TurnComplete)

	assert.False(t, turn.AppendDelta("c"))
	assert.False(t, turn.ReplaceAnswer("x"))
	assert.Equal(t, "ab", turn.CurrentAnswer())
	assert.Equal(t, TurnComplete, turn.CurrentStatus())
	assert.NotZero(t, turn.Snapshot().FinishedAt)
}

func TestTurn_FinalizeDoesNotOverrideFreeze(t *testing.T) {
	t.Parallel()

	turn := NewTurn("q")
	turn.AppendDelta("partial")
	turn.Freeze()
	turn.Finalize(TurnComplete)

	assert.Equal(t, TurnCancelled, turn.CurrentStatus())
	assert.Equal(t, "partial", turn.CurrentAnswer())
}

func TestTurn_SnapshotIsDetached(t *testing.T) {
	t.Parallel()

	turn := NewTurn("q")
	turn.SetKnowledge([]KnowledgeSnippet{{Text: "s"}}, 1)
	snap := turn.Snapshot()

	turn.AppendDelta("more")
	assert.Empty(t, snap.Answer, "snapshot must not track later mutation")
	assert.Equal(t, 1, snap.MatchCount)
}
