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

func openaiTestServer(t *testing.T, content string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openaiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)

		w.WriteHeader(status)
		json.NewEncoder(w).Encode(openaiResponse{
			Choices: []openaiChoice{{Message: openaiMessage{Role: "assistant", Content: content}}},
		})
	}))
}

func TestOpenAIGenerateText(t *testing.T) {
	srv := openaiTestServer(t, "All clear.", http.StatusOK)
	defer srv.Close()

	client := NewOpenAIClientWithConfig("test-key", "test-model", srv.URL)
	got, err := client.GenerateText(context.Background(), "status?")
	require.NoError(t, err)
	assert.Equal(t, "All clear.", got)
}

func TestOpenAIGenerateJSON(t *testing.T) {
	srv := openaiTestServer(t, "```json\n{\"metric\":\"rows\"}\n```", http.StatusOK)
	defer srv.Close()

	client := NewOpenAIClientWithConfig("test-key", "test-model", srv.URL)
	raw, err := client.GenerateJSON(context.Background(), "plan?")
	require.NoError(t, err)
	assert.JSONEq(t, `{"metric":"rows"}`, string(raw))
}

func TestOpenAIGenerateJSONRequestsJSONMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openaiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)
		json.NewEncoder(w).Encode(openaiResponse{
			Choices: []openaiChoice{{Message: openaiMessage{Content: `{}`}}},
		})
	}))
	defer srv.Close()

	client := NewOpenAIClientWithConfig("test-key", "test-model", srv.URL)
	_, err := client.GenerateJSON(context.Background(), "plan?")
	require.NoError(t, err)
}

func TestOpenAIGenerateJSONWithoutObjectFails(t *testing.T) {
	srv := openaiTestServer(t, "sorry, no can do", http.StatusOK)
	defer srv.Close()

	client := NewOpenAIClientWithConfig("test-key", "test-model", srv.URL)
	_, err := client.GenerateJSON(context.Background(), "plan?")
	assert.Error(t, err)
}

func TestOpenAIErrorStatus(t *testing.T) {
	srv := openaiTestServer(t, "", http.StatusTooManyRequests)
	defer srv.Close()

	client := NewOpenAIClientWithConfig("test-key", "test-model", srv.URL)
	_, err := client.GenerateText(context.Background(), "status?")
	assert.ErrorContains(t, err, "429")
}

func TestOpenAIAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(openaiResponse{
			Error: &openaiError{Type: "invalid_request_error", Message: "bad model"},
		})
	}))
	defer srv.Close()

	client := NewOpenAIClientWithConfig("test-key", "test-model", srv.URL)
	_, err := client.GenerateText(context.Background(), "status?")
	assert.ErrorContains(t, err, "bad model")
}
