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
	"time"
)

// =============================================================================
// OpenAI Wire Types
// =============================================================================

const defaultOpenAIBaseURL = "https://api.openai.com/v1/chat/completions"

type openaiRequest struct {
	Model          string                `json:"model"`
	Messages       []openaiMessage       `json:"messages"`
	Temperature    *float32              `json:"temperature,omitempty"`
	ResponseFormat *openaiResponseFormat `json:"response_format,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponseFormat struct {
	Type string `json:"type"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Choices []openaiChoice `json:"choices"`
	Error   *openaiError   `json:"error,omitempty"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// =============================================================================
// Client Implementation
// =============================================================================

// OpenAIClient implements Client against the Chat Completions REST API
// using raw net/http.
//
// Thread Safety: OpenAIClient is safe for concurrent use.
type OpenAIClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

// NewOpenAIClient creates a client for the given key and model. Model
// defaults to gpt-4o-mini.
func NewOpenAIClient(apiKey, model string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: API key is missing")
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("openai model not set, defaulting", "model", model)
	}
	return NewOpenAIClientWithConfig(apiKey, model, defaultOpenAIBaseURL), nil
}

// NewOpenAIClientWithConfig creates an OpenAIClient with an explicit base
// URL. Useful for tests with mock servers.
func NewOpenAIClientWithConfig(apiKey, model, baseURL string) *OpenAIClient {
	return &OpenAIClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
	}
}

// Model implements Client.
func (o *OpenAIClient) Model() string { return o.model }

// GenerateJSON implements Client using JSON response mode.
func (o *OpenAIClient) GenerateJSON(ctx context.Context, prompt string) (json.RawMessage, error) {
	text, err := o.complete(ctx, prompt,
		"You are a precise extraction engine. Return only a single valid JSON object.",
		&openaiResponseFormat{Type: "json_object"})
	if err != nil {
		return nil, err
	}
	raw := extractJSONObject(text)
	if raw == nil {
		return nil, fmt.Errorf("openai: response contained no JSON object")
	}
	return raw, nil
}

// GenerateText implements Client.
func (o *OpenAIClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	return o.complete(ctx, prompt, "You are a concise assistant. Answer in plain text.", nil)
}

func (o *OpenAIClient) complete(ctx context.Context, prompt, system string, format *openaiResponseFormat) (string, error) {
	reqBody, err := json.Marshal(openaiRequest{
		Model: o.model,
		Messages: []openaiMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		ResponseFormat: format,
	})
	if err != nil {
		return "", fmt.Errorf("openai: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("openai: creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("openai: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("openai: reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai: API returned status %d", resp.StatusCode)
	}

	var parsed openaiResponse
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		return "", fmt.Errorf("openai: decoding response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("openai: API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openai: response contained no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
