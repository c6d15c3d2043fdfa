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

var composeParams = ComposeParams{
	Title:   "Quarterly Review",
	StartAt: time.Date(2025, 3, 11, 14, 0, 0, 0, time.Local),
	EndAt:   time.Date(2025, 3, 11, 15, 0, 0, 0, time.Local),
}

func TestGenerateEventDescriptionFallback(t *testing.T) {
	svc := newTestService(t, nil)
	got := svc.GenerateEventDescription(context.Background(), Identity{}, composeParams)
	assert.Equal(t,
		"Quarterly Review is scheduled for 2025-03-11 14:00 to 15:00 at TBD. "+
			"The session will align participants on priorities and close with clear next actions.",
		got)
}

func TestGenerateEventDescriptionUsesModel(t *testing.T) {
	svc := newTestService(t, &stubLLM{jsonOut: `{"description":"A focused review of Q1 results."}`})
	got := svc.GenerateEventDescription(context.Background(), Identity{}, composeParams)
	assert.Equal(t, "A focused review of Q1 results.", got)
}

func TestGenerateInviteMessageFallback(t *testing.T) {
	p := composeParams
	p.Location = "Room 4"
	svc := newTestService(t, &stubLLM{jsonOut: `{"message":""}`})
	got := svc.GenerateInviteMessage(context.Background(), Identity{}, p)
	assert.Equal(t,
		"You are invited to 'Quarterly Review' on 2025-03-11 14:00 until 15:00 at Room 4.\n\n"+
			"Agenda:\n- Align on priorities\n- Confirm action items",
		got)
}

func TestSuggestAlternativesStepsPastConflicts(t *testing.T) {
	svc := newTestService(t, nil)
	startAt := time.Date(2025, 3, 11, 10, 0, 0, 0, time.Local)
	endAt := startAt.Add(time.Hour)

	// Busy from 10:30 to 11:30 blocks the first two candidates.
	existing := []EventWindow{{StartAt: startAt.Add(30 * time.Minute), EndAt: startAt.Add(90 * time.Minute)}}

	got := svc.SuggestAlternatives(context.Background(), Identity{}, startAt, endAt, existing)
	require.Len(t, got, 3)
	assert.Equal(t, time.Date(2025, 3, 11, 11, 30, 0, 0, time.Local), got[0].StartAt)
	assert.Equal(t, time.Date(2025, 3, 11, 12, 30, 0, 0, time.Local), got[0].EndAt)
	assert.Equal(t, time.Date(2025, 3, 11, 12, 0, 0, 0, time.Local), got[1].StartAt)
	assert.Equal(t, time.Date(2025, 3, 11, 12, 30, 0, 0, time.Local), got[2].StartAt)
	for _, s := range got {
		assert.Equal(t, "No overlap with current schedule", s.Reason)
		assert.Equal(t, time.Hour, s.EndAt.Sub(s.StartAt))
	}
}

func TestSuggestAlternativesGivesUpWhenFullyBooked(t *testing.T) {
	svc := newTestService(t, nil)
	startAt := time.Date(2025, 3, 11, 10, 0, 0, 0, time.Local)
	endAt := startAt.Add(time.Hour)

	// One long block covers every candidate in the 20-attempt scan window.
	existing := []EventWindow{{StartAt: startAt, EndAt: startAt.Add(24 * time.Hour)}}

	got := svc.SuggestAlternatives(context.Background(), Identity{}, startAt, endAt, existing)
	assert.Empty(t, got)
}

func TestSuggestAlternativesNoConflicts(t *testing.T) {
	svc := newTestService(t, nil)
	startAt := time.Date(2025, 3, 11, 10, 0, 0, 0, time.Local)
	got := svc.SuggestAlternatives(context.Background(), Identity{}, startAt, startAt.Add(30*time.Minute), nil)
	require.Len(t, got, 3)
	// First candidate starts one step after the requested slot.
	assert.Equal(t, startAt.Add(30*time.Minute), got[0].StartAt)
}
