// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

// Package events implements the workspace event calendar: CRUD, invites,
// and the copilot-assisted natural-language flows.
package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNotFound = errors.New("event not found")

// Event statuses.
const (
	StatusScheduled = "scheduled"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

func validEventStatus(status string) bool {
	switch status {
	case StatusScheduled, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Invite statuses.
const (
	InvitePending  = "pending"
	InviteAccepted = "accepted"
	InviteDeclined = "declined"
)

func validInviteStatus(status string) bool {
	switch status {
	case InvitePending, InviteAccepted, InviteDeclined:
		return true
	}
	return false
}

// Event is one calendar entry.
type Event struct {
	ID            int64     `json:"id"`
	WorkspaceID   int64     `json:"workspace_id"`
	Title         string    `json:"title"`
	StartAt       time.Time `json:"start_at"`
	EndAt         time.Time `json:"end_at"`
	Location      string    `json:"location"`
	Description   string    `json:"description"`
	Status        string    `json:"status"`
	InviteMessage string    `json:"invite_message"`
	CreatedBy     int64     `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Invite is one attendee of an event.
type Invite struct {
	ID        int64     `json:"id"`
	EventID   int64     `json:"event_id"`
	Email     string    `json:"email"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// EventInput is the payload for create and update.
type EventInput struct {
	Title       string    `json:"title" binding:"required"`
	StartAt     time.Time `json:"start_at" binding:"required"`
	EndAt       time.Time `json:"end_at" binding:"required"`
	Location    string    `json:"location"`
	Description string    `json:"description"`
}

// Store is the events data layer.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const eventColumns = `id, workspace_id, title, start_at, end_at, location, description,
	status, invite_message, created_by, created_at, updated_at`

func scanEvent(row interface{ Scan(...any) error }) (Event, error) {
	var e Event
	err := row.Scan(&e.ID, &e.WorkspaceID, &e.Title, &e.StartAt, &e.EndAt, &e.Location,
		&e.Description, &e.Status, &e.InviteMessage, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

// Create inserts a scheduled event.
func (s *Store) Create(ctx context.Context, workspaceID, createdBy int64, input EventInput) (Event, error) {
	if !input.EndAt.After(input.StartAt) {
		return Event{}, fmt.Errorf("end_at must be after start_at")
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (workspace_id, title, start_at, end_at, location, description, status, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		workspaceID, strings.TrimSpace(input.Title), input.StartAt, input.EndAt,
		strings.TrimSpace(input.Location), strings.TrimSpace(input.Description),
		StatusScheduled, createdBy)
	if err != nil {
		return Event{}, fmt.Errorf("inserting event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Event{}, fmt.Errorf("reading insert id: %w", err)
	}
	return s.Get(ctx, workspaceID, id)
}

// Get fetches one event scoped to the workspace.
func (s *Store) Get(ctx context.Context, workspaceID, eventID int64) (Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE workspace_id = ? AND id = ?`,
		workspaceID, eventID)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, ErrNotFound
	}
	if err != nil {
		return Event{}, fmt.Errorf("fetching event: %w", err)
	}
	return e, nil
}

// ListFilter narrows List output.
type ListFilter struct {
	Query    string
	Location string
	From     *time.Time
	To       *time.Time
}

// List returns workspace events ordered by start time.
func (s *Store) List(ctx context.Context, workspaceID int64, filter ListFilter) ([]Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE workspace_id = ?`
	args := []any{workspaceID}
	if filter.Query != "" {
		query += ` AND instr(lower(title), ?) > 0`
		args = append(args, strings.ToLower(filter.Query))
	}
	if filter.Location != "" {
		query += ` AND instr(lower(location), ?) > 0`
		args = append(args, strings.ToLower(filter.Location))
	}
	if filter.From != nil {
		query += ` AND end_at >= ?`
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		query += ` AND start_at <= ?`
		args = append(args, *filter.To)
	}
	query += ` ORDER BY start_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Overlapping returns scheduled events intersecting [startAt, endAt).
func (s *Store) Overlapping(ctx context.Context, workspaceID int64, startAt, endAt time.Time) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE workspace_id = ? AND status = ? AND start_at < ? AND end_at > ?
		 ORDER BY start_at`,
		workspaceID, StatusScheduled, endAt, startAt)
	if err != nil {
		return nil, fmt.Errorf("querying overlaps: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EventPatch updates a subset of event fields. Nil means unchanged.
type EventPatch struct {
	Title         *string    `json:"title"`
	StartAt       *time.Time `json:"start_at"`
	EndAt         *time.Time `json:"end_at"`
	Location      *string    `json:"location"`
	Description   *string    `json:"description"`
	Status        *string    `json:"status"`
	InviteMessage *string    `json:"invite_message"`
}

// Update applies a patch.
func (s *Store) Update(ctx context.Context, workspaceID, eventID int64, patch EventPatch) (Event, error) {
	event, err := s.Get(ctx, workspaceID, eventID)
	if err != nil {
		return Event{}, err
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) != "" {
		event.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.StartAt != nil {
		event.StartAt = *patch.StartAt
	}
	if patch.EndAt != nil {
		event.EndAt = *patch.EndAt
	}
	if !event.EndAt.After(event.StartAt) {
		return Event{}, fmt.Errorf("end_at must be after start_at")
	}
	if patch.Location != nil {
		event.Location = strings.TrimSpace(*patch.Location)
	}
	if patch.Description != nil {
		event.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Status != nil {
		if !validEventStatus(*patch.Status) {
			return Event{}, fmt.Errorf("invalid status %q", *patch.Status)
		}
		event.Status = *patch.Status
	}
	if patch.InviteMessage != nil {
		event.InviteMessage = *patch.InviteMessage
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE events
		SET title = ?, start_at = ?, end_at = ?, location = ?, description = ?, status = ?,
			invite_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE workspace_id = ? AND id = ?`,
		event.Title, event.StartAt, event.EndAt, event.Location, event.Description,
		event.Status, event.InviteMessage, workspaceID, eventID)
	if err != nil {
		return Event{}, fmt.Errorf("updating event: %w", err)
	}
	return s.Get(ctx, workspaceID, eventID)
}

// Delete removes an event.
func (s *Store) Delete(ctx context.Context, workspaceID, eventID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE workspace_id = ? AND id = ?`, workspaceID, eventID)
	if err != nil {
		return fmt.Errorf("deleting event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// Invites
// =============================================================================

// AddInvite attaches an attendee email to an event, idempotently.
func (s *Store) AddInvite(ctx context.Context, workspaceID, eventID int64, email string) (Invite, error) {
	if _, err := s.Get(ctx, workspaceID, eventID); err != nil {
		return Invite{}, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO event_invites (event_id, email) VALUES (?, ?)
		 ON CONFLICT(event_id, email) DO NOTHING`,
		eventID, email); err != nil {
		return Invite{}, fmt.Errorf("inserting invite: %w", err)
	}
	var inv Invite
	err := s.db.QueryRowContext(ctx,
		`SELECT id, event_id, email, status, created_at FROM event_invites
		 WHERE event_id = ? AND email = ?`, eventID, email).
		Scan(&inv.ID, &inv.EventID, &inv.Email, &inv.Status, &inv.CreatedAt)
	if err != nil {
		return Invite{}, fmt.Errorf("fetching invite: %w", err)
	}
	return inv, nil
}

// ListInvites returns an event's invites.
func (s *Store) ListInvites(ctx context.Context, workspaceID, eventID int64) ([]Invite, error) {
	if _, err := s.Get(ctx, workspaceID, eventID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, email, status, created_at FROM event_invites
		 WHERE event_id = ? ORDER BY id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("listing invites: %w", err)
	}
	defer rows.Close()

	var out []Invite
	for rows.Next() {
		var inv Invite
		if err := rows.Scan(&inv.ID, &inv.EventID, &inv.Email, &inv.Status, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning invite: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// RespondInvite records an accept or decline.
func (s *Store) RespondInvite(ctx context.Context, workspaceID, eventID, inviteID int64, status string) (Invite, error) {
	if !validInviteStatus(status) {
		return Invite{}, fmt.Errorf("invalid invite status %q", status)
	}
	if _, err := s.Get(ctx, workspaceID, eventID); err != nil {
		return Invite{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE event_invites SET status = ? WHERE id = ? AND event_id = ?`,
		status, inviteID, eventID)
	if err != nil {
		return Invite{}, fmt.Errorf("updating invite: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Invite{}, fmt.Errorf("reading update result: %w", err)
	}
	if affected == 0 {
		return Invite{}, ErrNotFound
	}
	var inv Invite
	err = s.db.QueryRowContext(ctx,
		`SELECT id, event_id, email, status, created_at FROM event_invites WHERE id = ?`, inviteID).
		Scan(&inv.ID, &inv.EventID, &inv.Email, &inv.Status, &inv.CreatedAt)
	if err != nil {
		return Invite{}, fmt.Errorf("fetching invite: %w", err)
	}
	return inv, nil
}
