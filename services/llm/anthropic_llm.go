// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// Anthropic Wire Types
// =============================================================================

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion     = "2023-06-01"
)

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string           `json:"id"`
	Content []anthropicBlock `json:"content"`
	Error   *anthropicError  `json:"error,omitempty"`
}

type anthropicBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// =============================================================================
// Client Implementation
// =============================================================================

// AnthropicClient implements Client against the Messages REST API using
// raw net/http.
//
// Thread Safety: AnthropicClient is safe for concurrent use.
type AnthropicClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

// NewAnthropicClient creates a client for the given key and model. Model
// defaults to claude-3-5-haiku-latest.
func NewAnthropicClient(apiKey, model string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: API key is missing")
	}
	if model == "" {
		model = "claude-3-5-haiku-latest"
		slog.Warn("anthropic model not set, defaulting", "model", model)
	}
	return NewAnthropicClientWithConfig(apiKey, model, defaultAnthropicBaseURL), nil
}

// NewAnthropicClientWithConfig creates an AnthropicClient with an explicit
// base URL. Useful for tests with mock servers.
func NewAnthropicClientWithConfig(apiKey, model, baseURL string) *AnthropicClient {
	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
	}
}

// Model implements Client.
func (a *AnthropicClient) Model() string { return a.model }

// GenerateJSON implements Client. The Messages API has no JSON response
// mode, so the first JSON object is extracted from the completion.
func (a *AnthropicClient) GenerateJSON(ctx context.Context, prompt string) (json.RawMessage, error) {
	text, err := a.complete(ctx, prompt,
		"You are a precise extraction engine. Return only a single valid JSON object with no surrounding prose.")
	if err != nil {
		return nil, err
	}
	raw := extractJSONObject(text)
	if raw == nil {
		return nil, fmt.Errorf("anthropic: response contained no JSON object")
	}
	return raw, nil
}

// GenerateText implements Client.
func (a *AnthropicClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	return a.complete(ctx, prompt, "You are a concise assistant. Answer in plain text.")
}

func (a *AnthropicClient) complete(ctx context.Context, prompt, system string) (string, error) {
	reqBody, err := json.Marshal(anthropicRequest{
		Model:     a.model,
		MaxTokens: 1024,
		System:    system,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("anthropic: creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("anthropic: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("anthropic: reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("anthropic: API returned status %d", resp.StatusCode)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		return "", fmt.Errorf("anthropic: decoding response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("anthropic: API error: %s", parsed.Error.Message)
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("anthropic: response contained no text blocks")
	}
	return sb.String(), nil
}
