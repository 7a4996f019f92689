package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/nugget/amazo/internal/config"
)

// ErrEndpoint marks an error response returned by the model endpoint,
// as opposed to a transport failure.
var ErrEndpoint = errors.New("endpoint returned an error")

// OpenAIConfig configures an [OpenAIClient].
type OpenAIConfig struct {
	// APIBase is the endpoint root, e.g. http://localhost:11434. The
	// OpenAI-compatible path /v1 is appended unless already present.
	APIBase string
	APIKey  string

	// HTTPClient carries timeouts and User-Agent. Nil uses the SDK
	// default client.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// OpenAIClient talks to any OpenAI-compatible chat completions
// endpoint (Ollama, llama.cpp server, vLLM, OpenAI itself).
type OpenAIClient struct {
	client  openai.Client
	baseURL string
	logger  *slog.Logger
}

// NewOpenAIClient creates a client. SDK-level retries are disabled.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	baseURL := BaseURL(cfg.APIBase)
	opts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &OpenAIClient{
		client:  openai.NewClient(opts...),
		baseURL: baseURL,
		logger:  logger,
	}
}

// BaseURL derives the OpenAI-compatible base from an API root.
func BaseURL(apiBase string) string {
	base := strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

// Chat sends the whole conversation and tool declarations in one
// non-streaming request.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []Message, tools []ToolDefinition) (*ChatResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: toOpenAIMessages(messages),
	}
	if len(tools) > 0 {
		params.Tools = toOpenAITools(tools)
	}

	c.logger.Log(ctx, config.LevelTrace, "chat request",
		"base_url", c.baseURL,
		"model", model,
		"messages", len(messages),
		"tools", len(tools),
	)

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			return nil, fmt.Errorf("chat completion (status %d): %s: %w", apiErr.StatusCode, apiErr.Message, ErrEndpoint)
		}
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion: response has no choices")
	}

	choice := resp.Choices[0]
	out := &ChatResponse{
		Model:        resp.Model,
		FinishReason: choice.FinishReason,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		Message:      fromOpenAIMessage(choice.Message),
	}

	c.logger.Log(ctx, config.LevelTrace, "chat response",
		"model", out.Model,
		"finish_reason", out.FinishReason,
		"content", out.Message.Content,
		"tool_calls", len(out.Message.ToolCalls),
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
	)
	return out, nil
}

// toOpenAIMessages converts the conversation into SDK params. Assistant
// messages keep their tool calls so that every tool message that
// follows refers to a call the endpoint has seen.
func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case RoleAssistant:
			out = append(out, assistantParam(m))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func assistantParam(m Message) openai.ChatCompletionMessageParamUnion {
	if len(m.ToolCalls) == 0 {
		return openai.AssistantMessage(m.Content)
	}

	asst := &openai.ChatCompletionAssistantMessageParam{}
	if m.Content != "" {
		asst.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: openai.String(m.Content),
		}
	}
	for _, tc := range m.ToolCalls {
		asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: asst}
}

func toOpenAITools(defs []ToolDefinition) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(defs))
	for _, d := range defs {
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        d.Name,
			Description: openai.String(d.Description),
			Parameters:  openai.FunctionParameters(d.Parameters),
		}))
	}
	return out
}

// fromOpenAIMessage converts the assistant reply. Calls without an ID
// get a generated one so the tool result can still be paired.
func fromOpenAIMessage(msg openai.ChatCompletionMessage) Message {
	out := Message{Role: RoleAssistant, Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID: id,
			Function: FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out
}
