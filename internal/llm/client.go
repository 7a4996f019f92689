package llm

import "context"

// Client sends one chat completion request. Implementations make a
// single attempt: retry policy, if any, belongs to the caller.
type Client interface {
	Chat(ctx context.Context, model string, messages []Message, tools []ToolDefinition) (*ChatResponse, error)
}
