package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// chatServer serves canned chat completion bodies and captures the
// last request body it received.
type chatServer struct {
	*httptest.Server
	status int
	body   string
	hits   atomic.Int32

	lastPath string
	lastAuth string
	lastBody map[string]any
}

func newChatServer(t *testing.T, status int, body string) *chatServer {
	t.Helper()
	cs := &chatServer{status: status, body: body}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.hits.Add(1)
		cs.lastPath = r.URL.Path
		cs.lastAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		cs.lastBody = nil
		_ = json.Unmarshal(raw, &cs.lastBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(cs.status)
		io.WriteString(w, cs.body)
	}))
	t.Cleanup(cs.Close)
	return cs
}

const toolCallResponse = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "qwen2.5:7b",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": "Checking the disk.",
      "tool_calls": [
        {"id": "call_abc", "type": "function", "function": {"name": "bash", "arguments": "{\"cmd\":\"df -h\"}"}},
        {"id": "", "type": "function", "function": {"name": "done_for_now", "arguments": "{}"}}
      ]
    }
  }],
  "usage": {"prompt_tokens": 120, "completion_tokens": 30, "total_tokens": 150}
}`

func TestOpenAIClient_ToolCallResponse(t *testing.T) {
	srv := newChatServer(t, http.StatusOK, toolCallResponse)
	c := NewOpenAIClient(OpenAIConfig{APIBase: srv.URL, APIKey: "ollama", Logger: discardLogger()})

	msgs := []Message{SystemMessage("You just woke up."), UserMessage("Wake-state:\nfine")}
	tools := []ToolDefinition{{
		Name:        "bash",
		Description: "Run a bash command.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{"cmd": map[string]any{"type": "string"}}},
	}}

	resp, err := c.Chat(context.Background(), "qwen2.5:7b", msgs, tools)
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}

	if srv.lastPath != "/v1/chat/completions" {
		t.Errorf("path = %q, want /v1/chat/completions", srv.lastPath)
	}
	if srv.lastAuth != "Bearer ollama" {
		t.Errorf("Authorization = %q, want Bearer ollama", srv.lastAuth)
	}
	if got := srv.lastBody["model"]; got != "qwen2.5:7b" {
		t.Errorf("request model = %v", got)
	}
	if got := len(srv.lastBody["messages"].([]any)); got != 2 {
		t.Errorf("request messages = %d, want 2", got)
	}
	sentTools := srv.lastBody["tools"].([]any)
	fn := sentTools[0].(map[string]any)["function"].(map[string]any)
	if fn["name"] != "bash" {
		t.Errorf("tool name = %v, want bash", fn["name"])
	}

	if resp.Message.Role != RoleAssistant {
		t.Errorf("role = %q", resp.Message.Role)
	}
	if resp.Message.Content != "Checking the disk." {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}
	if resp.InputTokens != 120 || resp.OutputTokens != 30 {
		t.Errorf("tokens = %d/%d, want 120/30", resp.InputTokens, resp.OutputTokens)
	}
	if len(resp.Message.ToolCalls) != 2 {
		t.Fatalf("tool calls = %d, want 2", len(resp.Message.ToolCalls))
	}
	first := resp.Message.ToolCalls[0]
	if first.ID != "call_abc" || first.Function.Name != "bash" || first.Function.Arguments != `{"cmd":"df -h"}` {
		t.Errorf("first call = %+v", first)
	}
	second := resp.Message.ToolCalls[1]
	if !strings.HasPrefix(second.ID, "call_") || len(second.ID) <= len("call_") {
		t.Errorf("missing ID should be generated, got %q", second.ID)
	}
}

func TestOpenAIClient_ReplaysAssistantToolCalls(t *testing.T) {
	srv := newChatServer(t, http.StatusOK, `{"id":"x","object":"chat.completion","created":1,"model":"m",
		"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"ok"}}]}`)
	c := NewOpenAIClient(OpenAIConfig{APIBase: srv.URL, APIKey: "k", Logger: discardLogger()})

	msgs := []Message{
		SystemMessage("sys"),
		UserMessage("hi"),
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_1", Function: FunctionCall{Name: "read_file", Arguments: `{"path":"x"}`}}}},
		ToolResultMessage("call_1", "(file not found: x)"),
	}
	resp, err := c.Chat(context.Background(), "m", msgs, nil)
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if len(resp.Message.ToolCalls) != 0 {
		t.Errorf("expected no tool calls, got %d", len(resp.Message.ToolCalls))
	}
	if _, ok := srv.lastBody["tools"]; ok {
		t.Error("tools should be omitted when none are declared")
	}

	sent := srv.lastBody["messages"].([]any)
	asst := sent[2].(map[string]any)
	if asst["role"] != "assistant" {
		t.Fatalf("message 2 role = %v", asst["role"])
	}
	calls := asst["tool_calls"].([]any)
	call := calls[0].(map[string]any)
	if call["id"] != "call_1" {
		t.Errorf("replayed call id = %v", call["id"])
	}
	tool := sent[3].(map[string]any)
	if tool["role"] != "tool" || tool["tool_call_id"] != "call_1" {
		t.Errorf("tool message = %v", tool)
	}
}

func TestOpenAIClient_EndpointError(t *testing.T) {
	srv := newChatServer(t, http.StatusNotFound, `{"error":{"message":"model \"nope\" not found","type":"not_found_error"}}`)
	c := NewOpenAIClient(OpenAIConfig{APIBase: srv.URL, APIKey: "k", Logger: discardLogger()})

	_, err := c.Chat(context.Background(), "nope", []Message{UserMessage("hi")}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrEndpoint) {
		t.Errorf("err = %v, want ErrEndpoint", err)
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error %q should carry the endpoint message", err)
	}
	if n := srv.hits.Load(); n != 1 {
		t.Errorf("endpoint hit %d times, want exactly 1 (no retries)", n)
	}
}

func TestOpenAIClient_NoChoices(t *testing.T) {
	srv := newChatServer(t, http.StatusOK, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`)
	c := NewOpenAIClient(OpenAIConfig{APIBase: srv.URL, APIKey: "k", Logger: discardLogger()})

	if _, err := c.Chat(context.Background(), "m", []Message{UserMessage("hi")}, nil); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestOpenAIClient_Unreachable(t *testing.T) {
	srv := newChatServer(t, http.StatusOK, "{}")
	url := srv.URL
	srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIBase: url, APIKey: "k", Logger: discardLogger()})
	if _, err := c.Chat(context.Background(), "m", []Message{UserMessage("hi")}, nil); err == nil {
		t.Fatal("expected transport error")
	}
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://localhost:11434", "http://localhost:11434/v1"},
		{"http://localhost:11434/", "http://localhost:11434/v1"},
		{"https://api.example.com/v1", "https://api.example.com/v1"},
		{" http://gpu:8080/v1/ ", "http://gpu:8080/v1"},
	}
	for _, tt := range tests {
		if got := BaseURL(tt.in); got != tt.want {
			t.Errorf("BaseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
