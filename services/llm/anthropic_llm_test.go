// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicGenerateText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, 1024, req.MaxTokens)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)

		json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicBlock{
				{Type: "text", Text: "All "},
				{Type: "tool_use", Text: "ignored"},
				{Type: "text", Text: "clear."},
			},
		})
	}))
	defer srv.Close()

	client := NewAnthropicClientWithConfig("test-key", "test-model", srv.URL)
	got, err := client.GenerateText(context.Background(), "status?")
	require.NoError(t, err)
	// Text blocks join; non-text blocks are skipped.
	assert.Equal(t, "All clear.", got)
}

func TestAnthropicGenerateJSONExtractsFromProse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicBlock{{Type: "text", Text: `Here you go: {"metric":"rows"}`}},
		})
	}))
	defer srv.Close()

	client := NewAnthropicClientWithConfig("test-key", "test-model", srv.URL)
	raw, err := client.GenerateJSON(context.Background(), "plan?")
	require.NoError(t, err)
	assert.JSONEq(t, `{"metric":"rows"}`, string(raw))
}

func TestAnthropicNoTextBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(anthropicResponse{Content: []anthropicBlock{}})
	}))
	defer srv.Close()

	client := NewAnthropicClientWithConfig("test-key", "test-model", srv.URL)
	_, err := client.GenerateText(context.Background(), "status?")
	assert.ErrorContains(t, err, "no text blocks")
}

func TestAnthropicAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(anthropicResponse{
			Error: &anthropicError{Type: "overloaded_error", Message: "try later"},
		})
	}))
	defer srv.Close()

	client := NewAnthropicClientWithConfig("test-key", "test-model", srv.URL)
	_, err := client.GenerateText(context.Background(), "status?")
	assert.ErrorContains(t, err, "try later")
}

func TestAnthropicErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewAnthropicClientWithConfig("test-key", "test-model", srv.URL)
	_, err := client.GenerateText(context.Background(), "status?")
	assert.ErrorContains(t, err, "503")
}
