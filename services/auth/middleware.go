// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

package auth

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/opsdeckhq/opsdeck/services/httpapi"
)

// Gin context keys set by the middleware.
const (
	ContextUserKey      = "auth.user"
	ContextWorkspaceKey = "auth.workspace_id"
	ContextRoleKey      = "auth.role"
)

// WorkspaceHeader selects the tenant on workspace-scoped routes.
const WorkspaceHeader = "X-Workspace-Id"

// RequireUser resolves the bearer token into a User and stores it on the
// context. Missing, unknown, or expired tokens abort with 401.
func RequireUser(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			httpapi.AbortError(c, http.StatusUnauthorized, "missing_token", "Authorization bearer token required")
			return
		}
		user, err := store.ResolveSession(c.Request.Context(), strings.TrimSpace(token))
		if err != nil {
			code := "invalid_token"
			if errors.Is(err, ErrSessionExpired) {
				code = "session_expired"
			}
			httpapi.AbortError(c, http.StatusUnauthorized, code, "invalid or expired session")
			return
		}
		c.Set(ContextUserKey, user)
		c.Next()
	}
}

// RequireWorkspace reads the workspace header and verifies the current
// user's membership. Runs after RequireUser.
func RequireWorkspace(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(WorkspaceHeader)
		workspaceID, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || workspaceID <= 0 {
			httpapi.AbortError(c, http.StatusBadRequest, "missing_workspace", WorkspaceHeader+" header required")
			return
		}
		user := CurrentUser(c)
		membership, err := store.GetMembership(c.Request.Context(), workspaceID, user.ID)
		if err != nil {
			httpapi.AbortError(c, http.StatusForbidden, "not_a_member", "not a member of this workspace")
			return
		}
		c.Set(ContextWorkspaceKey, workspaceID)
		c.Set(ContextRoleKey, membership.Role)
		c.Next()
	}
}

// CurrentUser returns the authenticated user set by RequireUser.
func CurrentUser(c *gin.Context) User {
	u, _ := c.MustGet(ContextUserKey).(User)
	return u
}

// CurrentWorkspaceID returns the tenant selected by RequireWorkspace.
func CurrentWorkspaceID(c *gin.Context) int64 {
	id, _ := c.MustGet(ContextWorkspaceKey).(int64)
	return id
}
