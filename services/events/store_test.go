// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

package events

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeckhq/opsdeck/services/store"
)

// newTestStore returns an events store with one seeded workspace and the
// ids of the workspace and its owner.
func newTestStore(t *testing.T) (*Store, int64, int64) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	userID, workspaceID := seedWorkspace(t, db)
	return NewStore(db), workspaceID, userID
}

func seedWorkspace(t *testing.T, db *sql.DB) (int64, int64) {
	t.Helper()
	res, err := db.Exec(`INSERT INTO users (email, password_hash) VALUES (?, ?)`,
		"owner@example.com", "x")
	require.NoError(t, err)
	userID, err := res.LastInsertId()
	require.NoError(t, err)

	res, err = db.Exec(`INSERT INTO workspaces (name, created_by) VALUES (?, ?)`,
		"test workspace", userID)
	require.NoError(t, err)
	workspaceID, err := res.LastInsertId()
	require.NoError(t, err)
	return userID, workspaceID
}

var baseStart = time.Date(2025, 3, 11, 14, 0, 0, 0, time.UTC)

func TestCreateAndGetEvent(t *testing.T) {
	s, ws, user := newTestStore(t)
	ctx := context.Background()

	event, err := s.Create(ctx, ws, user, EventInput{
		Title:   "  Quarterly Review ",
		StartAt: baseStart,
		EndAt:   baseStart.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "Quarterly Review", event.Title)
	assert.Equal(t, StatusScheduled, event.Status)
	assert.Equal(t, user, event.CreatedBy)
	assert.True(t, event.EndAt.After(event.StartAt))

	got, err := s.Get(ctx, ws, event.ID)
	require.NoError(t, err)
	assert.Equal(t, event.ID, got.ID)

	_, err = s.Get(ctx, ws+1, event.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateRejectsInvertedWindow(t *testing.T) {
	s, ws, user := newTestStore(t)
	_, err := s.Create(context.Background(), ws, user, EventInput{
		Title: "broken", StartAt: baseStart, EndAt: baseStart,
	})
	assert.Error(t, err)
}

func TestListFilters(t *testing.T) {
	s, ws, user := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, ws, user, EventInput{
		Title: "Team Sync", StartAt: baseStart, EndAt: baseStart.Add(time.Hour), Location: "Room 4",
	})
	require.NoError(t, err)
	_, err = s.Create(ctx, ws, user, EventInput{
		Title: "Board Meeting", StartAt: baseStart.Add(24 * time.Hour), EndAt: baseStart.Add(25 * time.Hour), Location: "HQ",
	})
	require.NoError(t, err)

	byQuery, err := s.List(ctx, ws, ListFilter{Query: "sync"})
	require.NoError(t, err)
	require.Len(t, byQuery, 1)
	assert.Equal(t, "Team Sync", byQuery[0].Title)

	byLocation, err := s.List(ctx, ws, ListFilter{Location: "hq"})
	require.NoError(t, err)
	require.Len(t, byLocation, 1)
	assert.Equal(t, "Board Meeting", byLocation[0].Title)

	from := baseStart.Add(2 * time.Hour)
	byFrom, err := s.List(ctx, ws, ListFilter{From: &from})
	require.NoError(t, err)
	require.Len(t, byFrom, 1)
	assert.Equal(t, "Board Meeting", byFrom[0].Title)

	to := baseStart.Add(2 * time.Hour)
	byTo, err := s.List(ctx, ws, ListFilter{To: &to})
	require.NoError(t, err)
	require.Len(t, byTo, 1)
	assert.Equal(t, "Team Sync", byTo[0].Title)

	all, err := s.List(ctx, ws, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	// Ordered by start time.
	assert.Equal(t, "Team Sync", all[0].Title)
}

func TestOverlapping(t *testing.T) {
	s, ws, user := newTestStore(t)
	ctx := context.Background()

	busy, err := s.Create(ctx, ws, user, EventInput{
		Title: "Busy", StartAt: baseStart, EndAt: baseStart.Add(time.Hour),
	})
	require.NoError(t, err)

	overlaps, err := s.Overlapping(ctx, ws, baseStart.Add(30*time.Minute), baseStart.Add(90*time.Minute))
	require.NoError(t, err)
	require.Len(t, overlaps, 1)
	assert.Equal(t, busy.ID, overlaps[0].ID)

	// Touching windows do not overlap.
	none, err := s.Overlapping(ctx, ws, baseStart.Add(time.Hour), baseStart.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)

	// Cancelled events are ignored.
	cancelled := StatusCancelled
	_, err = s.Update(ctx, ws, busy.ID, EventPatch{Status: &cancelled})
	require.NoError(t, err)
	none, err = s.Overlapping(ctx, ws, baseStart, baseStart.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpdateEvent(t *testing.T) {
	s, ws, user := newTestStore(t)
	ctx := context.Background()

	event, err := s.Create(ctx, ws, user, EventInput{
		Title: "Sync", StartAt: baseStart, EndAt: baseStart.Add(time.Hour),
	})
	require.NoError(t, err)

	title := "Renamed Sync"
	location := "Room 9"
	updated, err := s.Update(ctx, ws, event.ID, EventPatch{Title: &title, Location: &location})
	require.NoError(t, err)
	assert.Equal(t, "Renamed Sync", updated.Title)
	assert.Equal(t, "Room 9", updated.Location)

	// A patch that inverts the window is rejected.
	badEnd := baseStart.Add(-time.Hour)
	_, err = s.Update(ctx, ws, event.ID, EventPatch{EndAt: &badEnd})
	assert.Error(t, err)

	bogus := "postponed"
	_, err = s.Update(ctx, ws, event.ID, EventPatch{Status: &bogus})
	assert.Error(t, err)

	message := "You are invited."
	updated, err = s.Update(ctx, ws, event.ID, EventPatch{InviteMessage: &message})
	require.NoError(t, err)
	assert.Equal(t, "You are invited.", updated.InviteMessage)
}

func TestDeleteEvent(t *testing.T) {
	s, ws, user := newTestStore(t)
	ctx := context.Background()

	event, err := s.Create(ctx, ws, user, EventInput{
		Title: "Sync", StartAt: baseStart, EndAt: baseStart.Add(time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, ws, event.ID))
	assert.ErrorIs(t, s.Delete(ctx, ws, event.ID), ErrNotFound)
}

func TestInvites(t *testing.T) {
	s, ws, user := newTestStore(t)
	ctx := context.Background()

	event, err := s.Create(ctx, ws, user, EventInput{
		Title: "Sync", StartAt: baseStart, EndAt: baseStart.Add(time.Hour),
	})
	require.NoError(t, err)

	invite, err := s.AddInvite(ctx, ws, event.ID, "  Alice@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", invite.Email)
	assert.Equal(t, InvitePending, invite.Status)

	// Idempotent on the same email.
	again, err := s.AddInvite(ctx, ws, event.ID, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, invite.ID, again.ID)

	invites, err := s.ListInvites(ctx, ws, event.ID)
	require.NoError(t, err)
	assert.Len(t, invites, 1)

	responded, err := s.RespondInvite(ctx, ws, event.ID, invite.ID, InviteAccepted)
	require.NoError(t, err)
	assert.Equal(t, InviteAccepted, responded.Status)

	_, err = s.RespondInvite(ctx, ws, event.ID, invite.ID, "maybe")
	assert.Error(t, err)
	_, err = s.RespondInvite(ctx, ws, event.ID, invite.ID+99, InviteDeclined)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.AddInvite(ctx, ws, event.ID+99, "bob@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}
