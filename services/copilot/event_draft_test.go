// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

package copilot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var draftNow = time.Date(2025, 3, 10, 9, 30, 0, 0, time.Local)

func TestExtractExplicitTime(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		hour   int
		minute int
		ok     bool
	}{
		{"pm hour", "sync at 3pm", 15, 0, true},
		{"pm with minutes", "sync at 3:45 pm", 15, 45, true},
		{"noon as 12pm", "lunch at 12pm", 12, 0, true},
		{"midnight as 12am", "maintenance at 12am", 0, 0, true},
		{"am hour", "standup at 9am", 9, 0, true},
		{"24 hour clock", "review 14:30 slot", 14, 30, true},
		{"noon word", "meet at noon", 12, 0, true},
		{"midnight word", "deploy at midnight", 0, 0, true},
		{"no time", "quarterly planning", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hour, minute, ok := extractExplicitTime(tt.text)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.hour, hour)
				assert.Equal(t, tt.minute, minute)
			}
		})
	}
}

func TestNormalizeEventDraftForcesDuration(t *testing.T) {
	start := draftNow
	draft := normalizeEventDraft(EventDraft{StartAt: start, EndAt: start})
	assert.Equal(t, start.Add(time.Hour), draft.EndAt)

	inverted := normalizeEventDraft(EventDraft{StartAt: start, EndAt: start.Add(-time.Hour)})
	assert.Equal(t, start.Add(time.Hour), inverted.EndAt)

	fine := normalizeEventDraft(EventDraft{StartAt: start, EndAt: start.Add(30 * time.Minute)})
	assert.Equal(t, start.Add(30*time.Minute), fine.EndAt)
}

func TestAlignEventDraftWithPrompt(t *testing.T) {
	draft := EventDraft{
		Title:   "Team Sync",
		StartAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.Local),
		EndAt:   time.Date(2025, 3, 10, 9, 30, 0, 0, time.Local),
	}

	t.Run("explicit time overrides and tomorrow shifts date", func(t *testing.T) {
		got := alignEventDraftWithPrompt("team sync tomorrow at 12pm", draft, draftNow)
		assert.Equal(t, time.Date(2025, 3, 11, 12, 0, 0, 0, time.Local), got.StartAt)
		// Thirty-minute duration survives the shift.
		assert.Equal(t, time.Date(2025, 3, 11, 12, 30, 0, 0, time.Local), got.EndAt)
	})

	t.Run("today keeps the current date", func(t *testing.T) {
		shifted := draft
		shifted.StartAt = time.Date(2025, 3, 14, 16, 0, 0, 0, time.Local)
		shifted.EndAt = shifted.StartAt.Add(time.Hour)
		got := alignEventDraftWithPrompt("review today at 4pm", shifted, draftNow)
		assert.Equal(t, time.Date(2025, 3, 10, 16, 0, 0, 0, time.Local), got.StartAt)
	})

	t.Run("no signals leaves the draft alone", func(t *testing.T) {
		got := alignEventDraftWithPrompt("team sync", draft, draftNow)
		assert.Equal(t, draft.StartAt, got.StartAt)
		assert.Equal(t, draft.EndAt, got.EndAt)
	})
}

func TestEventDraftFallback(t *testing.T) {
	got := eventDraftFallback("Team sync tomorrow at 3pm for 45 min with alice@example.com at Room 42", draftNow)

	assert.Equal(t, "Team sync", got.Title)
	assert.Equal(t, time.Date(2025, 3, 11, 15, 0, 0, 0, time.Local), got.StartAt)
	assert.Equal(t, time.Date(2025, 3, 11, 15, 45, 0, 0, time.Local), got.EndAt)
	assert.Equal(t, "Room 42", got.Location)
	assert.Equal(t, []string{"alice@example.com"}, got.Invitees)
}

func TestEventDraftFallbackDefaults(t *testing.T) {
	got := eventDraftFallback("", draftNow)
	assert.Equal(t, "New Event", got.Title)
	// Next full hour from 09:30.
	assert.Equal(t, time.Date(2025, 3, 10, 10, 0, 0, 0, time.Local), got.StartAt)
	assert.Equal(t, got.StartAt.Add(time.Hour), got.EndAt)
	assert.Empty(t, got.Location)
	assert.Empty(t, got.Invitees)
}

func TestEventDraftFallbackHourDuration(t *testing.T) {
	got := eventDraftFallback("Planning workshop today at 10am for 2 hours", draftNow)
	assert.Equal(t, time.Date(2025, 3, 10, 10, 0, 0, 0, time.Local), got.StartAt)
	assert.Equal(t, time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local), got.EndAt)
	assert.Equal(t, "Planning workshop", got.Title)
}

func TestCreateEventDraftRealignsModelOutput(t *testing.T) {
	// The model answers with the wrong hour; the prompt's explicit "12pm"
	// and "tomorrow" win.
	svc := newTestService(t, &stubLLM{
		jsonOut: `{"title":"Team Sync","start_at":"2025-03-10T09:00:00","end_at":"2025-03-10T09:30:00","location":"HQ","invitees":["alice@example.com","not-an-email"]}`,
	})
	svc.now = func() time.Time { return draftNow }

	got := svc.CreateEventDraft(context.Background(), Identity{}, "team sync tomorrow at 12pm")
	assert.Equal(t, "Team Sync", got.Title)
	assert.Equal(t, time.Date(2025, 3, 11, 12, 0, 0, 0, time.Local), got.StartAt)
	assert.Equal(t, time.Date(2025, 3, 11, 12, 30, 0, 0, time.Local), got.EndAt)
	assert.Equal(t, "HQ", got.Location)
	assert.Equal(t, []string{"alice@example.com"}, got.Invitees)
}

func TestCreateEventDraftFallsBackOnBadModelDatetime(t *testing.T) {
	svc := newTestService(t, &stubLLM{
		jsonOut: `{"title":"Team Sync","start_at":"next thursday-ish","end_at":""}`,
	})
	svc.now = func() time.Time { return draftNow }

	got := svc.CreateEventDraft(context.Background(), Identity{}, "team sync tomorrow at 12pm")
	assert.Equal(t, time.Date(2025, 3, 11, 12, 0, 0, 0, time.Local), got.StartAt)
	require.True(t, got.EndAt.After(got.StartAt))
}

func TestParseLocalDatetimeDropsOffset(t *testing.T) {
	got, err := parseLocalDatetime("2025-03-10T09:00:00+05:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 9, 0, 0, 0, time.Local), got)

	got, err = parseLocalDatetime("2025-03-10 09:00")
	require.NoError(t, err)
	assert.Equal(t, 9, got.Hour())

	_, err = parseLocalDatetime("not a datetime")
	assert.Error(t, err)
}
