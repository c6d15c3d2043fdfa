// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

// Package llm provides raw net/http clients for hosted generative models.
// No vendor SDKs; the wire formats are small and stable enough to own.
package llm

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
)

// Client is the generative-model contract used by the copilot. Both methods
// are best-effort: callers treat any error as "no model result" and take
// their deterministic path. Implementations must be safe for concurrent use.
type Client interface {
	// GenerateJSON asks for a single JSON object and returns its raw bytes.
	GenerateJSON(ctx context.Context, prompt string) (json.RawMessage, error)
	// GenerateText asks for a short plain-text completion.
	GenerateText(ctx context.Context, prompt string) (string, error)
	// Model names the configured model for run logging.
	Model() string
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// extractJSONObject pulls the first JSON object out of model output that
// may be wrapped in code fences or prose. Returns nil when nothing valid
// is found.
func extractJSONObject(text string) json.RawMessage {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	if json.Valid([]byte(trimmed)) && strings.HasPrefix(trimmed, "{") {
		return json.RawMessage(trimmed)
	}
	if m := jsonObjectPattern.FindString(trimmed); m != "" && json.Valid([]byte(m)) {
		return json.RawMessage(m)
	}
	return nil
}
