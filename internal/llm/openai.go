package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/scrypster/aide/pkg/types"
)

// OpenAIConfig holds configuration for the OpenAI client.
type OpenAIConfig struct {
	APIKey  string
	Model   string        // default: gpt-4o
	BaseURL string        // default: https://api.openai.com
	Timeout time.Duration // default: 120s
	Limiter *rate.Limiter // default: 1 req/s, burst 2
}

// OpenAIClient implements ChatModel and TextGenerator using the OpenAI
// chat completions API, including function tools.
type OpenAIClient struct {
	cfg            OpenAIConfig
	client         *http.Client
	circuitBreaker *CircuitBreaker
	limiter        *rate.Limiter
}

// NewOpenAIClient creates a new OpenAI client with the given configuration.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(1), 2)
	}
	return &OpenAIClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		circuitBreaker: NewCircuitBreaker("openai"),
		limiter:        limiter,
	}
}

// openAIChatRequest is the request body for POST /v1/chat/completions.
type openAIChatRequest struct {
	Model       string              `json:"model"`
	Messages    []openAIChatMessage `json:"messages"`
	Tools       []openAITool        `json:"tools,omitempty"`
	Temperature float64             `json:"temperature"`
}

type openAIChatMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAITool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

// openAIChatResponse is the response body from POST /v1/chat/completions.
type openAIChatResponse struct {
	Choices []struct {
		Message openAIChatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Chat sends one tool-loop round to OpenAI and returns a tagged reply.
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (Reply, error) {
	result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return c.chat(ctx, req)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("openai circuit breaker open: %w", err)
		}
		return nil, err
	}
	return result.(Reply), nil
}

func (c *OpenAIClient) chat(ctx context.Context, req ChatRequest) (Reply, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body := openAIChatRequest{
		Model:    c.cfg.Model,
		Messages: buildOpenAIMessages(req),
	}
	for _, tool := range req.Tools {
		t := openAITool{Type: "function"}
		t.Function.Name = tool.Name
		t.Function.Description = tool.Description
		t.Function.Parameters = tool.InputSchema
		body.Tools = append(body.Tools, t)
	}

	respData, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	if len(respData.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	usage := Usage{
		PromptTokens: respData.Usage.PromptTokens,
		SpendUSD:     EstimateSpendUSD(c.cfg.Model, respData.Usage.PromptTokens, respData.Usage.CompletionTokens),
	}

	message := respData.Choices[0].Message
	if len(message.ToolCalls) > 0 {
		calls := make([]types.ToolCall, 0, len(message.ToolCalls))
		for _, tc := range message.ToolCalls {
			calls = append(calls, types.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			})
		}
		return ToolUse{AssistantText: message.Content, Calls: calls, Usage: usage}, nil
	}
	return Text{Content: message.Content, Usage: usage}, nil
}

// buildOpenAIMessages renders system context, the conversation window,
// and the turn's tool interaction chain in chat-completions shape.
func buildOpenAIMessages(req ChatRequest) []openAIChatMessage {
	var messages []openAIChatMessage
	if system := joinSystem(req.System); system != "" {
		messages = append(messages, openAIChatMessage{Role: "system", Content: system})
	}

	for _, m := range req.Messages {
		rendered := RenderMessage(m)
		if rendered == "" {
			continue
		}
		messages = append(messages, openAIChatMessage{Role: string(m.Role), Content: rendered})
	}

	for _, interaction := range req.Interactions {
		assistant := openAIChatMessage{Role: "assistant", Content: interaction.AssistantText}
		for _, call := range interaction.Calls {
			tc := openAIToolCall{ID: call.ID, Type: "function"}
			tc.Function.Name = call.Name
			tc.Function.Arguments = string(call.Arguments)
			assistant.ToolCalls = append(assistant.ToolCalls, tc)
		}
		messages = append(messages, assistant)

		for _, result := range interaction.Results {
			messages = append(messages, openAIChatMessage{
				Role:       "tool",
				Content:    result.Content,
				ToolCallID: result.CallID,
			})
		}
	}

	return messages
}

// Complete sends a single-turn completion to OpenAI and returns the
// response text. Used by the summarizer.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		respData, err := c.post(ctx, openAIChatRequest{
			Model:    c.cfg.Model,
			Messages: []openAIChatMessage{{Role: "user", Content: prompt}},
		})
		if err != nil {
			return nil, err
		}
		if len(respData.Choices) == 0 {
			return nil, fmt.Errorf("openai returned no choices")
		}
		return respData.Choices[0].Message.Content, nil
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return "", fmt.Errorf("openai circuit breaker open: %w", err)
		}
		return "", err
	}
	return result.(string), nil
}

func (c *OpenAIClient) post(ctx context.Context, body openAIChatRequest) (*openAIChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var respData openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &respData, nil
}

// GetModel returns the configured model name.
func (c *OpenAIClient) GetModel() string {
	return c.cfg.Model
}

// Compile-time assertions.
var (
	_ ChatModel     = (*OpenAIClient)(nil)
	_ TextGenerator = (*OpenAIClient)(nil)
)
