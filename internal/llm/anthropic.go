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

// AnthropicConfig holds configuration for the Anthropic client.
type AnthropicConfig struct {
	APIKey  string
	Model   string        // default: claude-sonnet-4-20250514
	Timeout time.Duration // default: 120s
	Limiter *rate.Limiter // default: 1 req/s, burst 2
}

// AnthropicClient implements ChatModel and TextGenerator using the
// Anthropic Messages API, including tool use.
type AnthropicClient struct {
	cfg            AnthropicConfig
	client         *http.Client
	circuitBreaker *CircuitBreaker
	limiter        *rate.Limiter
}

// NewAnthropicClient creates a new Anthropic client with the given configuration.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(1), 2)
	}
	return &AnthropicClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		circuitBreaker: NewCircuitBreaker("anthropic"),
		limiter:        limiter,
	}
}

// anthropicMessagesRequest is the request body for POST /v1/messages.
type anthropicMessagesRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

// anthropicContentBlock covers the text, tool_use and tool_result block
// shapes; only the fields for the block's Type are populated.
type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// anthropicMessagesResponse is the response body from POST /v1/messages.
type anthropicMessagesResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Chat sends one tool-loop round to Anthropic and returns a tagged reply.
func (c *AnthropicClient) Chat(ctx context.Context, req ChatRequest) (Reply, error) {
	result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return c.chat(ctx, req)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("anthropic circuit breaker open: %w", err)
		}
		return nil, err
	}
	return result.(Reply), nil
}

func (c *AnthropicClient) chat(ctx context.Context, req ChatRequest) (Reply, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body := anthropicMessagesRequest{
		Model:     c.cfg.Model,
		MaxTokens: 8192,
		System:    joinSystem(req.System),
		Messages:  buildAnthropicMessages(req),
	}
	for _, tool := range req.Tools {
		schema := tool.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		body.Tools = append(body.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}

	respData, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}

	usage := Usage{
		PromptTokens: respData.Usage.InputTokens,
		SpendUSD:     EstimateSpendUSD(c.cfg.Model, respData.Usage.InputTokens, respData.Usage.OutputTokens),
	}

	var text string
	var calls []types.ToolCall
	for _, block := range respData.Content {
		switch block.Type {
		case "text":
			if text != "" {
				text += "\n"
			}
			text += block.Text
		case "tool_use":
			calls = append(calls, types.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}

	if len(calls) > 0 {
		return ToolUse{AssistantText: text, Calls: calls, Usage: usage}, nil
	}
	return Text{Content: text, Usage: usage}, nil
}

// buildAnthropicMessages renders the conversation window followed by the
// turn's tool interaction chain as alternating assistant/user messages.
func buildAnthropicMessages(req ChatRequest) []anthropicMessage {
	var messages []anthropicMessage
	for _, m := range req.Messages {
		rendered := RenderMessage(m)
		if rendered == "" {
			continue
		}
		messages = append(messages, anthropicMessage{
			Role:    string(m.Role),
			Content: []anthropicContentBlock{{Type: "text", Text: rendered}},
		})
	}

	for _, interaction := range req.Interactions {
		assistant := anthropicMessage{Role: "assistant"}
		if interaction.AssistantText != "" {
			assistant.Content = append(assistant.Content, anthropicContentBlock{
				Type: "text", Text: interaction.AssistantText,
			})
		}
		for _, call := range interaction.Calls {
			input := call.Arguments
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			assistant.Content = append(assistant.Content, anthropicContentBlock{
				Type:  "tool_use",
				ID:    call.ID,
				Name:  call.Name,
				Input: input,
			})
		}
		messages = append(messages, assistant)

		user := anthropicMessage{Role: "user"}
		for _, result := range interaction.Results {
			user.Content = append(user.Content, anthropicContentBlock{
				Type:      "tool_result",
				ToolUseID: result.CallID,
				Content:   result.Content,
				IsError:   result.IsError,
			})
		}
		messages = append(messages, user)
	}

	return messages
}

// Complete sends a single-turn completion to Anthropic and returns the
// response text. Used by the summarizer.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		respData, err := c.post(ctx, anthropicMessagesRequest{
			Model:     c.cfg.Model,
			MaxTokens: 4096,
			Messages: []anthropicMessage{
				{Role: "user", Content: []anthropicContentBlock{{Type: "text", Text: prompt}}},
			},
		})
		if err != nil {
			return nil, err
		}
		if len(respData.Content) == 0 {
			return nil, fmt.Errorf("anthropic returned empty content")
		}
		return respData.Content[0].Text, nil
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return "", fmt.Errorf("anthropic circuit breaker open: %w", err)
		}
		return "", err
	}
	return result.(string), nil
}

func (c *AnthropicClient) post(ctx context.Context, body anthropicMessagesRequest) (*anthropicMessagesResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", "https://api.anthropic.com/v1/messages", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("anthropic returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var respData anthropicMessagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &respData, nil
}

// GetModel returns the configured model name.
func (c *AnthropicClient) GetModel() string {
	return c.cfg.Model
}

// Compile-time assertions.
var (
	_ ChatModel     = (*AnthropicClient)(nil)
	_ TextGenerator = (*AnthropicClient)(nil)
)
