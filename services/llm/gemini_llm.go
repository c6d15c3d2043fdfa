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
// Gemini Wire Types
// =============================================================================

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseMIMEType string `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
	Error      *geminiError      `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// =============================================================================
// Client Implementation
// =============================================================================

// GeminiClient implements Client against the generateContent REST API
// using raw net/http.
//
// Thread Safety: GeminiClient is safe for concurrent use.
type GeminiClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

// NewGeminiClient creates a client for the given key and model. Model
// defaults to gemini-1.5-flash.
func NewGeminiClient(apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is missing")
	}
	if model == "" {
		model = "gemini-1.5-flash"
		slog.Warn("gemini model not set, defaulting", "model", model)
	}
	return NewGeminiClientWithConfig(apiKey, model, defaultGeminiBaseURL), nil
}

// NewGeminiClientWithConfig creates a GeminiClient with an explicit base
// URL. Useful for tests with mock servers.
func NewGeminiClientWithConfig(apiKey, model, baseURL string) *GeminiClient {
	return &GeminiClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
	}
}

// Model implements Client.
func (g *GeminiClient) Model() string { return g.model }

// GenerateJSON implements Client using the JSON response MIME type.
func (g *GeminiClient) GenerateJSON(ctx context.Context, prompt string) (json.RawMessage, error) {
	text, err := g.complete(ctx, prompt,
		"You are a precise extraction engine. Return only a single valid JSON object.",
		&geminiGenerationConfig{ResponseMIMEType: "application/json"})
	if err != nil {
		return nil, err
	}
	raw := extractJSONObject(text)
	if raw == nil {
		return nil, fmt.Errorf("gemini: response contained no JSON object")
	}
	return raw, nil
}

// GenerateText implements Client.
func (g *GeminiClient) GenerateText(ctx context.Context, prompt string) (string, error) {
	return g.complete(ctx, prompt, "You are a concise assistant. Answer in plain text.", nil)
}

func (g *GeminiClient) complete(ctx context.Context, prompt, system string, config *geminiGenerationConfig) (string, error) {
	reqBody, err := json.Marshal(geminiRequest{
		Contents:          []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: system}}},
		GenerationConfig:  config,
	})
	if err != nil {
		return "", fmt.Errorf("gemini: marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("gemini: creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gemini: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("gemini: reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini: API returned status %d", resp.StatusCode)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		return "", fmt.Errorf("gemini: decoding response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("gemini: API error [%d] %s: %s",
			parsed.Error.Code, parsed.Error.Status, parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 {
		return "", fmt.Errorf("gemini: response contained no candidates")
	}

	var sb strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("gemini: response contained no text")
	}
	return sb.String(), nil
}
