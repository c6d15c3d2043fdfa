// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

package copilot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ComposeParams carries the event fields the composition helpers write
// about.
type ComposeParams struct {
	Title       string
	StartAt     time.Time
	EndAt       time.Time
	Location    string
	Description string
}

func locationOrTBD(location string) string {
	if location == "" {
		return "TBD"
	}
	return location
}

// GenerateEventDescription writes a short event description, model-first
// with a fixed deterministic fallback sentence.
func (s *Service) GenerateEventDescription(ctx context.Context, ident Identity, p ComposeParams) string {
	ctx, span := eventTracer.Start(ctx, "copilot.generate_event_description")
	defer span.End()
	start := s.now()

	text := ""
	if s.llm != nil {
		prompt := fmt.Sprintf(
			"Write a concise event description as JSON: {description: string}. "+
				"Keep it to 2-4 sentences, no greetings, no signatures, and focus on objective, scope, and expected outcome. "+
				"Title=%s; start=%s; end=%s; location=%s; notes=%s",
			p.Title, p.StartAt.Format("2006-01-02 15:04:05"), p.EndAt.Format("2006-01-02 15:04:05"),
			p.Location, p.Description)
		if raw, err := s.llm.GenerateJSON(ctx, prompt); err == nil && len(raw) > 0 {
			var wire struct {
				Description string `json:"description"`
			}
			if err := json.Unmarshal(raw, &wire); err == nil {
				text = wire.Description
			}
		}
	}
	if text == "" {
		text = fmt.Sprintf(
			"%s is scheduled for %s to %s at %s. "+
				"The session will align participants on priorities and close with clear next actions.",
			p.Title, p.StartAt.Format("2006-01-02 15:04"), p.EndAt.Format("15:04"),
			locationOrTBD(p.Location))
	}

	s.logRun(ctx, ident, "events_generate_description", true, s.now().Sub(start), "")
	return strings.TrimSpace(text)
}

// GenerateInviteMessage writes a short invite message with an agenda,
// model-first with a fixed deterministic fallback.
func (s *Service) GenerateInviteMessage(ctx context.Context, ident Identity, p ComposeParams) string {
	ctx, span := eventTracer.Start(ctx, "copilot.generate_invite_message")
	defer span.End()
	start := s.now()

	msg := ""
	if s.llm != nil {
		prompt := fmt.Sprintf(
			"Write a concise event invite message with 2 agenda bullets as JSON: {message: string}. "+
				"Title=%s; start=%s; end=%s; location=%s; description=%s",
			p.Title, p.StartAt.Format("2006-01-02 15:04:05"), p.EndAt.Format("2006-01-02 15:04:05"),
			p.Location, p.Description)
		if raw, err := s.llm.GenerateJSON(ctx, prompt); err == nil && len(raw) > 0 {
			var wire struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(raw, &wire); err == nil {
				msg = wire.Message
			}
		}
	}
	if msg == "" {
		msg = fmt.Sprintf(
			"You are invited to '%s' on %s until %s at %s.\n\nAgenda:\n- Align on priorities\n- Confirm action items",
			p.Title, p.StartAt.Format("2006-01-02 15:04"), p.EndAt.Format("15:04"),
			locationOrTBD(p.Location))
	}

	s.logRun(ctx, ident, "events_generate_invite", true, s.now().Sub(start), "")
	return msg
}

// =============================================================================
// Alternative Slot Suggestion
// =============================================================================

// EventWindow is an occupied time range to avoid.
type EventWindow struct {
	StartAt time.Time
	EndAt   time.Time
}

// AlternativeSlot is one conflict-free suggestion.
type AlternativeSlot struct {
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
	Reason  string    `json:"reason"`
}

// SuggestAlternatives proposes up to three conflict-free slots after the
// requested window, stepping forward in 30-minute increments and giving up
// after 20 attempts. The requested duration is preserved.
func (s *Service) SuggestAlternatives(ctx context.Context, ident Identity, startAt, endAt time.Time, existing []EventWindow) []AlternativeSlot {
	ctx, span := eventTracer.Start(ctx, "copilot.suggest_alternatives")
	defer span.End()
	start := s.now()

	duration := endAt.Sub(startAt)
	overlaps := func(candStart, candEnd time.Time) bool {
		for _, ev := range existing {
			if candEnd.After(ev.StartAt) && candStart.Before(ev.EndAt) {
				return true
			}
		}
		return false
	}

	var suggestions []AlternativeSlot
	cursor := startAt.Add(30 * time.Minute)
	for attempts := 0; len(suggestions) < 3 && attempts < 20; attempts++ {
		candEnd := cursor.Add(duration)
		if !overlaps(cursor, candEnd) {
			suggestions = append(suggestions, AlternativeSlot{
				StartAt: cursor,
				EndAt:   candEnd,
				Reason:  "No overlap with current schedule",
			})
		}
		cursor = cursor.Add(30 * time.Minute)
	}

	s.logRun(ctx, ident, "events_suggest_alternatives", true, s.now().Sub(start), "")
	return suggestions
}
