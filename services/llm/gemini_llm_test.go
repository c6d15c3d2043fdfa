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

func TestGeminiGenerateText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.Contains(t, r.URL.Path, "/models/test-model:generateContent")

		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents, 1)
		assert.Equal(t, "user", req.Contents[0].Role)
		require.NotNil(t, req.SystemInstruction)

		json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []geminiCandidate{{
				Content: geminiContent{Parts: []geminiPart{{Text: "All "}, {Text: "clear."}}},
			}},
		})
	}))
	defer srv.Close()

	client := NewGeminiClientWithConfig("test-key", "test-model", srv.URL)
	got, err := client.GenerateText(context.Background(), "status?")
	require.NoError(t, err)
	// Parts are concatenated.
	assert.Equal(t, "All clear.", got)
}

func TestGeminiGenerateJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.GenerationConfig)
		assert.Equal(t, "application/json", req.GenerationConfig.ResponseMIMEType)

		json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []geminiCandidate{{
				Content: geminiContent{Parts: []geminiPart{{Text: `{"metric":"rows"}`}}},
			}},
		})
	}))
	defer srv.Close()

	client := NewGeminiClientWithConfig("test-key", "test-model", srv.URL)
	raw, err := client.GenerateJSON(context.Background(), "plan?")
	require.NoError(t, err)
	assert.JSONEq(t, `{"metric":"rows"}`, string(raw))
}

func TestGeminiNoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(geminiResponse{})
	}))
	defer srv.Close()

	client := NewGeminiClientWithConfig("test-key", "test-model", srv.URL)
	_, err := client.GenerateText(context.Background(), "status?")
	assert.ErrorContains(t, err, "no candidates")
}

func TestGeminiAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(geminiResponse{
			Error: &geminiError{Code: 400, Status: "INVALID_ARGUMENT", Message: "bad model"},
		})
	}))
	defer srv.Close()

	client := NewGeminiClientWithConfig("test-key", "test-model", srv.URL)
	_, err := client.GenerateText(context.Background(), "status?")
	assert.ErrorContains(t, err, "bad model")
}

func TestGeminiErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewGeminiClientWithConfig("test-key", "test-model", srv.URL)
	_, err := client.GenerateText(context.Background(), "status?")
	assert.ErrorContains(t, err, "503")
}
