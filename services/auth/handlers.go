// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/opsdeckhq/opsdeck/services/httpapi"
)

// Handlers serves the auth and workspace endpoints.
type Handlers struct {
	store  *Store
	logger *slog.Logger
}

func NewHandlers(store *Store, logger *slog.Logger) *Handlers {
	return &Handlers{store: store, logger: logger}
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	FullName string `json:"full_name"`
}

// Register creates an account.
func (h *Handlers) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.AbortError(c, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		httpapi.AbortError(c, http.StatusInternalServerError, "hash_failed", "could not hash password")
		return
	}
	user, err := h.store.CreateUser(c.Request.Context(), req.Email, req.FullName, hash)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			httpapi.AbortError(c, http.StatusConflict, "email_taken", "email already registered")
			return
		}
		h.logger.Error("user registration failed", "error", err)
		httpapi.AbortError(c, http.StatusInternalServerError, "registration_failed", "could not create user")
		return
	}
	c.JSON(http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Login verifies credentials and issues a session token.
func (h *Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.AbortError(c, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}
	user, err := h.store.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil || !VerifyPassword(req.Password, user.PasswordHash) {
		httpapi.AbortError(c, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
		return
	}
	token, err := h.store.CreateSession(c.Request.Context(), user.ID)
	if err != nil {
		h.logger.Error("session creation failed", "error", err)
		httpapi.AbortError(c, http.StatusInternalServerError, "session_failed", "could not create session")
		return
	}
	c.JSON(http.StatusOK, loginResponse{Token: token, User: user})
}

// Me returns the authenticated user.
func (h *Handlers) Me(c *gin.Context) {
	c.JSON(http.StatusOK, CurrentUser(c))
}

type createWorkspaceRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateWorkspace creates a tenant owned by the caller.
func (h *Handlers) CreateWorkspace(c *gin.Context) {
	var req createWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.AbortError(c, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}
	ws, err := h.store.CreateWorkspace(c.Request.Context(), req.Name, CurrentUser(c).ID)
	if err != nil {
		h.logger.Error("workspace creation failed", "error", err)
		httpapi.AbortError(c, http.StatusInternalServerError, "workspace_failed", "could not create workspace")
		return
	}
	c.JSON(http.StatusCreated, ws)
}

// ListWorkspaces returns the caller's workspaces.
func (h *Handlers) ListWorkspaces(c *gin.Context) {
	out, err := h.store.ListWorkspaces(c.Request.Context(), CurrentUser(c).ID)
	if err != nil {
		h.logger.Error("workspace listing failed", "error", err)
		httpapi.AbortError(c, http.StatusInternalServerError, "listing_failed", "could not list workspaces")
		return
	}
	c.JSON(http.StatusOK, out)
}

type addMemberRequest struct {
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role" binding:"required,oneof=owner admin member"`
}

// AddMember invites a registered user into a workspace. The caller must be
// an owner or admin of that workspace.
func (h *Handlers) AddMember(c *gin.Context) {
	workspaceID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		httpapi.AbortError(c, http.StatusBadRequest, "invalid_workspace", "invalid workspace id")
		return
	}
	caller, err := h.store.GetMembership(c.Request.Context(), workspaceID, CurrentUser(c).ID)
	if err != nil || (caller.Role != RoleOwner && caller.Role != RoleAdmin) {
		httpapi.AbortError(c, http.StatusForbidden, "forbidden", "owner or admin role required")
		return
	}
	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.AbortError(c, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}
	membership, err := h.store.AddMember(c.Request.Context(), workspaceID, req.Email, req.Role)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpapi.AbortError(c, http.StatusNotFound, "user_not_found", "no user with that email")
			return
		}
		h.logger.Error("member invite failed", "error", err)
		httpapi.AbortError(c, http.StatusInternalServerError, "invite_failed", "could not add member")
		return
	}
	c.JSON(http.StatusCreated, membership)
}

// ListMembers returns workspace memberships; caller must be a member.
func (h *Handlers) ListMembers(c *gin.Context) {
	workspaceID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		httpapi.AbortError(c, http.StatusBadRequest, "invalid_workspace", "invalid workspace id")
		return
	}
	if _, err := h.store.GetMembership(c.Request.Context(), workspaceID, CurrentUser(c).ID); err != nil {
		httpapi.AbortError(c, http.StatusForbidden, "not_a_member", "not a member of this workspace")
		return
	}
	members, err := h.store.ListMembers(c.Request.Context(), workspaceID)
	if err != nil {
		h.logger.Error("member listing failed", "error", err)
		httpapi.AbortError(c, http.StatusInternalServerError, "listing_failed", "could not list members")
		return
	}
	c.JSON(http.StatusOK, members)
}

// RegisterRoutes mounts the auth and workspace endpoints.
func (h *Handlers) RegisterRoutes(rg *gin.RouterGroup, store *Store) {
	rg.POST("/auth/register", h.Register)
	rg.POST("/auth/login", h.Login)

	authed := rg.Group("", RequireUser(store))
	authed.GET("/auth/me", h.Me)
	authed.POST("/workspaces", h.CreateWorkspace)
	authed.GET("/workspaces", h.ListWorkspaces)
	authed.POST("/workspaces/:id/members", h.AddMember)
	authed.GET("/workspaces/:id/members", h.ListMembers)
}
