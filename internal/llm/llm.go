// Package llm is the language-model client contract. The chat service only
// depends on the Client interface; transport specifics stay here.
package llm

import "context"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries one completion call: a system prompt plus a bounded
// trailing window of prior turns.
type Request struct {
	System      string
	History     []Message
	Temperature float64
	MaxTokens   int
}

type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}
