// Package openai adapts an OpenAI-compatible chat completion endpoint to llm.Model.
package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/lepakdriver/lepakdriver/internal/llm"
	"github.com/lepakdriver/lepakdriver/internal/provider/resilience"
)

const (
	// ProviderName identifies this provider in the health registry.
	ProviderName = "openai"

	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o-mini"
)

// ClientConfig holds configuration for the OpenAI adapter.
type ClientConfig struct {
	// APIKey is the API key (required).
	APIKey string

	// BaseURL overrides the API base URL, e.g. for a compatible gateway (optional).
	BaseURL string

	// Model is the chat model name (optional, defaults to DefaultModel).
	Model string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with a 60 second timeout.
	HTTPClient *resilience.Client

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client implements llm.Model using go-openai.
type Client struct {
	api    *goopenai.Client
	model  string
	logger zerolog.Logger
}

// NewClient creates a new OpenAI adapter.
func NewClient(cfg ClientConfig) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpCfg := resilience.DefaultClientConfig(ProviderName)
		httpCfg.Timeout = 60 * time.Second
		httpClient = resilience.NewClient(httpCfg)
	}

	apiCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	apiCfg.HTTPClient = httpClient

	return &Client{
		api:    goopenai.NewClientWithConfig(apiCfg),
		model:  model,
		logger: cfg.Logger,
	}
}

// Name returns the model name.
func (c *Client) Name() string {
	return c.model
}

// Complete performs one chat completion.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	apiReq := goopenai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toAPIMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	if len(req.Tools) > 0 {
		apiReq.Tools = toAPITools(req.Tools)
		if req.ToolChoice != "" {
			apiReq.ToolChoice = string(req.ToolChoice)
		}
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		var apiErr *goopenai.APIError
		if errors.As(err, &apiErr) {
			c.logger.Warn().
				Int("status", apiErr.HTTPStatusCode).
				Str("type", apiErr.Type).
				Msg("model API error")
		}
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, llm.ErrEmptyCompletion
	}

	msg := resp.Choices[0].Message
	completion := &llm.Completion{
		Content:     msg.Content,
		TotalTokens: resp.Usage.TotalTokens,
	}
	for _, tc := range msg.ToolCalls {
		completion.ToolCalls = append(completion.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	c.logger.Debug().
		Str("model", c.model).
		Int("tools_offered", len(req.Tools)).
		Int("tool_calls", len(completion.ToolCalls)).
		Int("total_tokens", completion.TotalTokens).
		Dur("duration", time.Since(start)).
		Msg("model call completed")

	return completion, nil
}

func toAPIMessages(msgs []llm.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		apiMsg := goopenai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			apiMsg.ToolCalls = append(apiMsg.ToolCalls, goopenai.ToolCall{
				ID:   tc.ID,
				Type: goopenai.ToolTypeFunction,
				Function: goopenai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, apiMsg)
	}
	return out
}

func toAPITools(specs []llm.ToolSpec) []goopenai.Tool {
	out := make([]goopenai.Tool, 0, len(specs))
	for _, s := range specs {
		out = append(out, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Parameters,
			},
		})
	}
	return out
}
