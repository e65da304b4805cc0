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

import "github.com/bicqa/bicqa/services/orchestrator/datatypes"

// View receives turn progress and classified errors for presentation.
//
// Updates always carry the cumulative turn state, never a bare delta, so
// implementations can stay stateless. Calls for one conversation arrive in
// order; implementations must not block, or they stall the stream.
type View interface {
	// OnTurnUpdated delivers a snapshot of the turn after each committed
	// mutation: every stream delta, the match count, and finalization.
	OnTurnUpdated(conversationID string, turn datatypes.Turn)

	// OnError delivers a classified failure for the active turn. Aborts
	// are reported here too, carrying the abortedByUser kind.
	OnError(conversationID string, cerr *ClassifiedError)
}

// NopView discards all notifications. Useful for fire-and-forget asks.
type NopView struct{}

func (NopView) OnTurnUpdated(string, datatypes.Turn) {}
func (NopView) OnError(string, *ClassifiedError)     {}
