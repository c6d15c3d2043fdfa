// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

// Package auth implements users, sessions, workspaces, and the tenancy
// middleware. Sessions are opaque bearer tokens stored server-side.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrEmailTaken     = errors.New("email already registered")
	ErrNotMember      = errors.New("not a member of this workspace")
	ErrSessionExpired = errors.New("session expired")
)

// Member roles.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

func ValidRole(role string) bool {
	switch role {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// User is an account. PasswordHash never serializes.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Workspace is one tenant.
type Workspace struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership ties a user to a workspace with a role.
type Membership struct {
	ID          int64     `json:"id"`
	WorkspaceID int64     `json:"workspace_id"`
	UserID      int64     `json:"user_id"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

const sessionTTL = 7 * 24 * time.Hour

// Store is the auth data layer.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// =============================================================================
// Users and Sessions
// =============================================================================

// CreateUser registers an account with an already-hashed password.
func (s *Store) CreateUser(ctx context.Context, email, fullName, passwordHash string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email, full_name, password_hash) VALUES (?, ?, ?)`,
		email, strings.TrimSpace(fullName), passwordHash)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("inserting user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, fmt.Errorf("reading insert id: %w", err)
	}
	return s.GetUser(ctx, id)
}

func (s *Store) GetUser(ctx context.Context, id int64) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, full_name, password_hash, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("fetching user: %w", err)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, full_name, password_hash, created_at FROM users WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email))).
		Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("fetching user by email: %w", err)
	}
	return u, nil
}

// CreateSession issues an opaque bearer token for a user.
func (s *Store) CreateSession(ctx context.Context, userID int64) (string, error) {
	token := uuid.NewString()
	expires := time.Now().UTC().Add(sessionTTL)
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (token, user_id, expires_at) VALUES (?, ?, ?)`,
		token, userID, expires); err != nil {
		return "", fmt.Errorf("inserting session: %w", err)
	}
	return token, nil
}

// ResolveSession returns the user behind a bearer token. Expired sessions
// are deleted on sight.
func (s *Store) ResolveSession(ctx context.Context, token string) (User, error) {
	var userID int64
	var expires time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, expires_at FROM sessions WHERE token = ?`, token).
		Scan(&userID, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("fetching session: %w", err)
	}
	if time.Now().UTC().After(expires) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
		return User{}, ErrSessionExpired
	}
	return s.GetUser(ctx, userID)
}

// DeleteSession logs a token out.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return err
}

// =============================================================================
// Workspaces and Membership
// =============================================================================

// CreateWorkspace creates a tenant and makes the creator its owner.
func (s *Store) CreateWorkspace(ctx context.Context, name string, createdBy int64) (Workspace, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO workspaces (name, created_by) VALUES (?, ?)`,
		strings.TrimSpace(name), createdBy)
	if err != nil {
		return Workspace{}, fmt.Errorf("inserting workspace: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Workspace{}, fmt.Errorf("reading insert id: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO workspace_members (workspace_id, user_id, role) VALUES (?, ?, ?)`,
		id, createdBy, RoleOwner); err != nil {
		return Workspace{}, fmt.Errorf("inserting owner membership: %w", err)
	}
	return s.GetWorkspace(ctx, id)
}

func (s *Store) GetWorkspace(ctx context.Context, id int64) (Workspace, error) {
	var w Workspace
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_by, created_at FROM workspaces WHERE id = ?`, id).
		Scan(&w.ID, &w.Name, &w.CreatedBy, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Workspace{}, ErrNotFound
	}
	if err != nil {
		return Workspace{}, fmt.Errorf("fetching workspace: %w", err)
	}
	return w, nil
}

// ListWorkspaces returns the workspaces a user belongs to.
func (s *Store) ListWorkspaces(ctx context.Context, userID int64) ([]Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.id, w.name, w.created_by, w.created_at
		FROM workspaces w
		JOIN workspace_members m ON m.workspace_id = w.id
		WHERE m.user_id = ?
		ORDER BY w.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing workspaces: %w", err)
	}
	defer rows.Close()

	var out []Workspace
	for rows.Next() {
		var w Workspace
		if err := rows.Scan(&w.ID, &w.Name, &w.CreatedBy, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning workspace: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// GetMembership returns a user's membership in a workspace, or ErrNotMember.
func (s *Store) GetMembership(ctx context.Context, workspaceID, userID int64) (Membership, error) {
	var m Membership
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, user_id, role, created_at
		FROM workspace_members WHERE workspace_id = ? AND user_id = ?`,
		workspaceID, userID).
		Scan(&m.ID, &m.WorkspaceID, &m.UserID, &m.Role, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Membership{}, ErrNotMember
	}
	if err != nil {
		return Membership{}, fmt.Errorf("fetching membership: %w", err)
	}
	return m, nil
}

// AddMember adds a registered user to a workspace by email.
func (s *Store) AddMember(ctx context.Context, workspaceID int64, email, role string) (Membership, error) {
	if !ValidRole(role) {
		return Membership{}, fmt.Errorf("invalid role %q", role)
	}
	user, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		return Membership{}, err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO workspace_members (workspace_id, user_id, role) VALUES (?, ?, ?)
		 ON CONFLICT(workspace_id, user_id) DO UPDATE SET role = excluded.role`,
		workspaceID, user.ID, role); err != nil {
		return Membership{}, fmt.Errorf("inserting membership: %w", err)
	}
	return s.GetMembership(ctx, workspaceID, user.ID)
}

// ListMembers returns all memberships of a workspace.
func (s *Store) ListMembers(ctx context.Context, workspaceID int64) ([]Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, user_id, role, created_at
		FROM workspace_members WHERE workspace_id = ? ORDER BY id`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	defer rows.Close()

	var out []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.ID, &m.WorkspaceID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning membership: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
