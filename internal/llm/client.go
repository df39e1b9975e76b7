// Package llm is the narrow port to the generative-model service. The
// conversation loop depends only on the Generator interface, so providers
// can be swapped (or faked in tests) without touching the loop or executor.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/taskdeck/taskdeck/internal/config"
	"github.com/taskdeck/taskdeck/pkg/models"
)

// Completion is one model response: either final text, tool-call requests,
// or both (content may accompany tool calls).
type Completion struct {
	Content   string
	ToolCalls []models.ToolCallResult
}

// Generator produces one completion given the exchange so far and the
// advertised tool set.
type Generator interface {
	Generate(ctx context.Context, messages []models.ChatMessage, tools []models.ToolDefinition) (*Completion, error)
}

// OpenAIClient calls an OpenAI-compatible chat completions endpoint with
// function calling enabled.
type OpenAIClient struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// NewOpenAIClient builds a client from config. Works with any
// OpenAI-compatible endpoint (Azure deployments aside).
func NewOpenAIClient(cfg config.OpenAIConfig) *OpenAIClient {
	return &OpenAIClient{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

type chatCompletionRequest struct {
	Model      string                  `json:"model"`
	Messages   []models.ChatMessage    `json:"messages"`
	Tools      []models.ToolDefinition `json:"tools,omitempty"`
	ToolChoice string                  `json:"tool_choice,omitempty"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content   string                  `json:"content"`
			ToolCalls []models.ToolCallResult `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *OpenAIClient) Generate(ctx context.Context, messages []models.ChatMessage, tools []models.ToolDefinition) (*Completion, error) {
	req := chatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	}
	if len(tools) > 0 {
		req.Tools = tools
		req.ToolChoice = "auto"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("openai: status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var resp chatCompletionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices")
	}

	msg := resp.Choices[0].Message
	return &Completion{
		Content:   msg.Content,
		ToolCalls: msg.ToolCalls,
	}, nil
}
