// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

package llm

import (
	"fmt"
	"log/slog"
	"strings"
)

// NewClient builds a Client for the configured provider. An empty or "mock"
// provider returns a nil client, which runs the whole copilot in
// deterministic-only mode.
func NewClient(provider, apiKey, model string) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "mock", "none":
		slog.Info("no generative provider configured, deterministic mode only")
		return nil, nil
	case "openai":
		return NewOpenAIClient(apiKey, model)
	case "anthropic":
		return NewAnthropicClient(apiKey, model)
	case "gemini":
		return NewGeminiClient(apiKey, model)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", provider)
	}
}
