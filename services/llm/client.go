package llm

import (
	"context"

	"github.com/bicqa/bicqa/services/orchestrator/datatypes"
)

// ChatRequest is one chat-completions call in provider wire shape.
//
// Optional retrieval fields (Similarity, TopN, KnowledgeBaseID) are only
// serialized when a knowledge base participates in the ask.
type ChatRequest struct {
	Model           string               `json:"model"`
	Messages        []datatypes.Message  `json:"messages"`
	MaxTokens       int                  `json:"max_tokens,omitempty"`
	Temperature     float32              `json:"temperature,omitempty"`
	Stream          bool                 `json:"stream"`
	Similarity      *float64             `json:"similarity,omitempty"`
	TopN            *int                 `json:"top_n,omitempty"`
	KnowledgeBaseID string               `json:"knowledge_base_id,omitempty"`
}

// ModelClient is the standard interface for a chat-completions backend.
type ModelClient interface {
	// Chat issues a non-streaming completion and returns the full answer.
	Chat(ctx context.Context, req ChatRequest) (string, error)

	// ChatStream issues a streaming completion, invoking callback for each
	// decoded event in arrival order. A callback error aborts the stream.
	ChatStream(ctx context.Context, req ChatRequest, callback StreamCallback) error
}
