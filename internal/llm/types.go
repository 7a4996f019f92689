// Package llm provides the model client used by the cycle engine.
package llm

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message for the LLM.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall is one action requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its arguments exactly as the
// model produced them. Arguments is JSON text and may be malformed;
// parsing is the dispatcher's job.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition declares a tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object.
	Parameters map[string]any
}

// ChatResponse is the provider-neutral result of one model call.
type ChatResponse struct {
	Model        string
	Message      Message
	FinishReason string

	InputTokens  int
	OutputTokens int
}

// SystemMessage returns a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage returns a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// ToolResultMessage returns the tool-role message answering call id.
func ToolResultMessage(id, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: id}
}
