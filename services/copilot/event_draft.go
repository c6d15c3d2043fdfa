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
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
)

var eventTracer = otel.Tracer("opsdeck.copilot.events")

// EventDraft is a structured event proposal extracted from a prompt. Times
// are naive local times; EndAt is always after StartAt.
type EventDraft struct {
	Title       string    `json:"title"`
	StartAt     time.Time `json:"start_at"`
	EndAt       time.Time `json:"end_at"`
	Location    string    `json:"location"`
	Description string    `json:"description"`
	Invitees    []string  `json:"invitees"`
}

// eventDraftWire decodes model output, where datetimes arrive as ISO
// strings without a timezone offset.
type eventDraftWire struct {
	Title       string   `json:"title"`
	StartAt     string   `json:"start_at"`
	EndAt       string   `json:"end_at"`
	Location    string   `json:"location"`
	Description string   `json:"description"`
	Invitees    []string `json:"invitees"`
}

var localDatetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

func parseLocalDatetime(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	for _, layout := range localDatetimeLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			// Offsets are dropped so all drafts live in naive local time.
			return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.Local), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable datetime %q", value)
}

// =============================================================================
// Time Phrase Extraction
// =============================================================================

var (
	twelveHourPattern = regexp.MustCompile(`(?i)\b(\d{1,2})(?::([0-5]\d))?\s*(am|pm)\b`)
	twentyFourPattern = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
	noonPattern       = regexp.MustCompile(`(?i)\bnoon\b`)
	midnightPattern   = regexp.MustCompile(`(?i)\bmidnight\b`)
)

// extractExplicitTime finds an explicit clock time in text. Twelve-hour
// phrasing wins over twenty-four-hour, then noon and midnight.
func extractExplicitTime(text string) (hour, minute int, ok bool) {
	if m := twelveHourPattern.FindStringSubmatch(text); m != nil {
		hour, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		meridiem := strings.ToLower(m[3])
		if meridiem == "pm" && hour != 12 {
			hour += 12
		}
		if meridiem == "am" && hour == 12 {
			hour = 0
		}
		return hour, minute, true
	}
	if m := twentyFourPattern.FindStringSubmatch(text); m != nil {
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
		return hour, minute, true
	}
	if noonPattern.MatchString(text) {
		return 12, 0, true
	}
	if midnightPattern.MatchString(text) {
		return 0, 0, true
	}
	return 0, 0, false
}

// =============================================================================
// Draft Normalization and Alignment
// =============================================================================

// normalizeEventDraft guarantees EndAt > StartAt, defaulting to a one-hour
// duration.
func normalizeEventDraft(draft EventDraft) EventDraft {
	if !draft.EndAt.After(draft.StartAt) {
		draft.EndAt = draft.StartAt.Add(60 * time.Minute)
	}
	return draft
}

// alignEventDraftWithPrompt re-applies the prompt's explicit signals over a
// model draft. An explicit clock time overrides the draft's start time,
// "tomorrow"/"today" override the date, and the draft's duration (or one
// hour) is preserved from the adjusted start.
func alignEventDraftWithPrompt(prompt string, draft EventDraft, now time.Time) EventDraft {
	lowered := strings.ToLower(prompt)

	startAt := draft.StartAt
	duration := 60 * time.Minute
	if draft.EndAt.After(draft.StartAt) {
		duration = draft.EndAt.Sub(draft.StartAt)
	}

	if hour, minute, ok := extractExplicitTime(prompt); ok {
		startAt = time.Date(startAt.Year(), startAt.Month(), startAt.Day(), hour, minute, 0, 0, startAt.Location())
	}

	today := now
	if strings.Contains(lowered, "tomorrow") {
		target := today.AddDate(0, 0, 1)
		startAt = time.Date(target.Year(), target.Month(), target.Day(),
			startAt.Hour(), startAt.Minute(), startAt.Second(), 0, startAt.Location())
	} else if strings.Contains(lowered, "today") {
		startAt = time.Date(today.Year(), today.Month(), today.Day(),
			startAt.Hour(), startAt.Minute(), startAt.Second(), 0, startAt.Location())
	}

	draft.StartAt = startAt
	draft.EndAt = startAt.Add(duration)
	return draft
}

// =============================================================================
// Deterministic Fallback Extraction
// =============================================================================

var (
	emailPattern         = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	durationPattern      = regexp.MustCompile(`(?i)for\s+(\d+)\s*(minutes|minute|min|hours|hour|h)\b`)
	invitePhrasePattern  = regexp.MustCompile(`(?i)\b(invite|inviting)\b\s+[A-Za-z0-9._%+@,\s-]+`)
	withPhrasePattern    = regexp.MustCompile(`(?i)\bwith\b\s+[A-Za-z0-9._%+@,\s-]+`)
	durationStripPattern = regexp.MustCompile(`(?i)for\s+\d+\s*(minutes|minute|min|hours|hour|h)\b`)
	tomorrowPattern      = regexp.MustCompile(`(?i)\btomorrow\b`)
	todayPattern         = regexp.MustCompile(`(?i)\btoday\b`)
	titleSplitPattern    = regexp.MustCompile(`(?i)\bat\b|\bon\b|\b\d{1,2}:?\d{0,2}\s*(?:am|pm)?\b`)
	dayWordStripPattern  = regexp.MustCompile(`(?i)\btomorrow\b|\btoday\b`)
	trailingAtPattern    = regexp.MustCompile(`(?i)\bat\s+([A-Za-z0-9\-\s]+)$`)
)

// eventDraftFallback builds a draft from the prompt alone: invitee emails,
// a "for N minutes/hours" duration, tomorrow/today date words, an explicit
// clock time (else the next full hour), a title cut at the first time or
// place token, and a trailing "at <place>" location.
func eventDraftFallback(prompt string, now time.Time) EventDraft {
	now = now.Truncate(time.Minute)
	text := html.UnescapeString(strings.TrimSpace(prompt))
	emails := emailPattern.FindAllString(text, -1)

	durationMinutes := 60
	if m := durationPattern.FindStringSubmatch(text); m != nil {
		value, _ := strconv.Atoi(m[1])
		if strings.HasPrefix(strings.ToLower(m[2]), "h") {
			durationMinutes = value * 60
		} else {
			durationMinutes = value
		}
	}

	working := emailPattern.ReplaceAllString(text, " ")
	working = invitePhrasePattern.ReplaceAllString(working, " ")
	working = withPhrasePattern.ReplaceAllString(working, " ")
	working = durationStripPattern.ReplaceAllString(working, " ")

	baseDate := now
	if tomorrowPattern.MatchString(working) {
		baseDate = baseDate.AddDate(0, 0, 1)
		working = tomorrowPattern.ReplaceAllString(working, " ")
	} else if todayPattern.MatchString(working) {
		working = todayPattern.ReplaceAllString(working, " ")
	}

	hour, minute := 0, 0
	if h, m, ok := extractExplicitTime(working); ok {
		hour, minute = h, m
	} else {
		next := now.Add(time.Hour)
		hour, minute = next.Hour(), 0
	}
	startAt := time.Date(baseDate.Year(), baseDate.Month(), baseDate.Day(), hour, minute, 0, 0, now.Location())
	endAt := startAt.Add(time.Duration(durationMinutes) * time.Minute)

	title := strings.TrimSpace(titleSplitPattern.Split(text, 2)[0])
	title = strings.TrimSpace(dayWordStripPattern.ReplaceAllString(title, ""))
	if title == "" {
		title = "New Event"
	}
	if len(title) > 120 {
		title = title[:120]
	}

	location := ""
	if m := trailingAtPattern.FindStringSubmatch(text); m != nil {
		location = strings.TrimSpace(m[1])
	}

	return EventDraft{
		Title:    title,
		StartAt:  startAt,
		EndAt:    endAt,
		Location: location,
		Invitees: emails,
	}
}

// =============================================================================
// Draft Extraction
// =============================================================================

// CreateEventDraft extracts a structured event draft from a prompt.
//
// Description:
//
//	Tries the model first, then the deterministic fallback. Either way the
//	draft is normalized (positive duration) and re-aligned to the prompt's
//	explicit time and day words, so "tomorrow at 12pm" lands on tomorrow
//	at noon even when the model disagrees. Invitees that are not valid
//	email addresses are dropped.
//
// Thread Safety: Safe for concurrent use.
func (s *Service) CreateEventDraft(ctx context.Context, ident Identity, prompt string) EventDraft {
	ctx, span := eventTracer.Start(ctx, "copilot.create_event_draft")
	defer span.End()
	start := s.now()

	var draft EventDraft
	decoded := false
	if s.llm != nil {
		extractionPrompt := fmt.Sprintf(
			"Extract event draft as JSON with keys title,start_at,end_at,location,description,invitees. "+
				"Use the user's local time context and preserve explicit times as written. "+
				"Return ISO datetimes without timezone offsets. "+
				"Current local datetime is %s. Prompt: %s",
			s.now().Format("2006-01-02T15:04:05"), prompt)
		if raw, err := s.llm.GenerateJSON(ctx, extractionPrompt); err == nil && len(raw) > 0 {
			var wire eventDraftWire
			if err := json.Unmarshal(raw, &wire); err == nil {
				startAt, startErr := parseLocalDatetime(wire.StartAt)
				endAt, endErr := parseLocalDatetime(wire.EndAt)
				if startErr == nil && endErr == nil {
					draft = EventDraft{
						Title:       wire.Title,
						StartAt:     startAt,
						EndAt:       endAt,
						Location:    wire.Location,
						Description: wire.Description,
						Invitees:    wire.Invitees,
					}
					decoded = true
				}
			}
		}
	}
	if !decoded {
		draft = eventDraftFallback(prompt, s.now())
	}

	draft = normalizeEventDraft(draft)
	draft = alignEventDraftWithPrompt(prompt, draft, s.now())
	draft.Invitees = s.validEmails(draft.Invitees)

	s.logRun(ctx, ident, "events_nl_create", true, s.now().Sub(start), "")
	return draft
}

func (s *Service) validEmails(candidates []string) []string {
	var out []string
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if err := s.validate.Var(c, "email"); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}
