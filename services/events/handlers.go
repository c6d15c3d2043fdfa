// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

package events

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opsdeckhq/opsdeck/services/auth"
	"github.com/opsdeckhq/opsdeck/services/copilot"
	"github.com/opsdeckhq/opsdeck/services/httpapi"
)

// Handlers serves the event CRUD, invite, and copilot-assisted endpoints.
type Handlers struct {
	store   *Store
	copilot *copilot.Service
	logger  *slog.Logger
}

func NewHandlers(store *Store, svc *copilot.Service, logger *slog.Logger) *Handlers {
	return &Handlers{store: store, copilot: svc, logger: logger}
}

func identity(c *gin.Context) copilot.Identity {
	return copilot.Identity{
		UserID:      auth.CurrentUser(c).ID,
		WorkspaceID: auth.CurrentWorkspaceID(c),
	}
}

func (h *Handlers) eventID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		httpapi.AbortError(c, http.StatusBadRequest, "invalid_id", "invalid event id")
		return 0, false
	}
	return id, true
}

// =============================================================================
// CRUD
// =============================================================================

// List returns workspace events with optional q/location/from/to filters.
func (h *Handlers) List(c *gin.Context) {
	filter := ListFilter{
		Query:    c.Query("q"),
		Location: c.Query("location"),
	}
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpapi.AbortError(c, http.StatusBadRequest, "invalid_from", "from must be RFC3339")
			return
		}
		filter.From = &t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpapi.AbortError(c, http.StatusBadRequest, "invalid_to", "to must be RFC3339")
			return
		}
		filter.To = &t
	}

	out, err := h.store.List(c.Request.Context(), auth.CurrentWorkspaceID(c), filter)
	if err != nil {
		h.logger.Error("event listing failed", "error", err)
		httpapi.AbortError(c, http.StatusInternalServerError, "listing_failed", "could not list events")
		return
	}
	if out == nil {
		out = []Event{}
	}
	c.JSON(http.StatusOK, out)
}

// Create schedules an event.
func (h *Handlers) Create(c *gin.Context) {
	var input EventInput
	if err := c.ShouldBindJSON(&input); err != nil {
		httpapi.AbortError(c, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}
	event, err := h.store.Create(c.Request.Context(), auth.CurrentWorkspaceID(c), auth.CurrentUser(c).ID, input)
	if err != nil {
		httpapi.AbortError(c, http.StatusBadRequest, "create_failed", err.Error())
		return
	}
	c.JSON(http.StatusCreated, event)
}

// Get returns one event.
func (h *Handlers) Get(c *gin.Context) {
	id, ok := h.eventID(c)
	if !ok {
		return
	}
	event, err := h.store.Get(c.Request.Context(), auth.CurrentWorkspaceID(c), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpapi.AbortError(c, http.StatusNotFound, "not_found", "event not found")
			return
		}
		h.logger.Error("event fetch failed", "error", err)
		httpapi.AbortError(c, http.StatusInternalServerError, "fetch_failed", "could not fetch event")
		return
	}
	c.JSON(http.StatusOK, event)
}

// Update applies a partial patch.
func (h *Handlers) Update(c *gin.Context) {
	id, ok := h.eventID(c)
	if !ok {
		return
	}
	var patch EventPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		httpapi.AbortError(c, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}
	event, err := h.store.Update(c.Request.Context(), auth.CurrentWorkspaceID(c), id, patch)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpapi.AbortError(c, http.StatusNotFound, "not_found", "event not found")
			return
		}
		httpapi.AbortError(c, http.StatusBadRequest, "update_failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, event)
}

// Delete removes an event.
func (h *Handlers) Delete(c *gin.Context) {
	id, ok := h.eventID(c)
	if !ok {
		return
	}
	if err := h.store.Delete(c.Request.Context(), auth.CurrentWorkspaceID(c), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			httpapi.AbortError(c, http.StatusNotFound, "not_found", "event not found")
			return
		}
		h.logger.Error("event deletion failed", "error", err)
		httpapi.AbortError(c, http.StatusInternalServerError, "delete_failed", "could not delete event")
		return
	}
	c.Status(http.StatusNoContent)
}

// =============================================================================
// Invites
// =============================================================================

type inviteRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// AddInvite attaches an attendee to an event.
func (h *Handlers) AddInvite(c *gin.Context) {
	id, ok := h.eventID(c)
	if !ok {
		return
	}
	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.AbortError(c, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}
	invite, err := h.store.AddInvite(c.Request.Context(), auth.CurrentWorkspaceID(c), id, req.Email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpapi.AbortError(c, http.StatusNotFound, "not_found", "event not found")
			return
		}
		h.logger.Error("invite creation failed", "error", err)
		httpapi.AbortError(c, http.StatusInternalServerError, "invite_failed", "could not add invite")
		return
	}
	c.JSON(http.StatusCreated, invite)
}

// ListInvites returns an event's invites.
func (h *Handlers) ListInvites(c *gin.Context) {
	id, ok := h.eventID(c)
	if !ok {
		return
	}
	out, err := h.store.ListInvites(c.Request.Context(), auth.CurrentWorkspaceID(c), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpapi.AbortError(c, http.StatusNotFound, "not_found", "event not found")
			return
		}
		h.logger.Error("invite listing failed", "error", err)
		httpapi.AbortError(c, http.StatusInternalServerError, "listing_failed", "could not list invites")
		return
	}
	if out == nil {
		out = []Invite{}
	}
	c.JSON(http.StatusOK, out)
}

type respondRequest struct {
	Status string `json:"status" binding:"required,oneof=accepted declined pending"`
}

// RespondInvite records an attendee response.
func (h *Handlers) RespondInvite(c *gin.Context) {
	id, ok := h.eventID(c)
	if !ok {
		return
	}
	inviteID, err := strconv.ParseInt(c.Param("inviteId"), 10, 64)
	if err != nil {
		httpapi.AbortError(c, http.StatusBadRequest, "invalid_id", "invalid invite id")
		return
	}
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.AbortError(c, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}
	invite, err := h.store.RespondInvite(c.Request.Context(), auth.CurrentWorkspaceID(c), id, inviteID, req.Status)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpapi.AbortError(c, http.StatusNotFound, "not_found", "invite not found")
			return
		}
		httpapi.AbortError(c, http.StatusBadRequest, "respond_failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, invite)
}

// =============================================================================
// Copilot-Assisted Flows
// =============================================================================

type nlCreateRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

// NLCreate drafts and schedules an event from a natural-language prompt.
// When the drafted slot conflicts with the schedule, the event is still
// created and alternative slots ride along in the response.
func (h *Handlers) NLCreate(c *gin.Context) {
	var req nlCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.AbortError(c, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}

	ctx := c.Request.Context()
	workspaceID := auth.CurrentWorkspaceID(c)
	draft := h.copilot.CreateEventDraft(ctx, identity(c), req.Prompt)

	event, err := h.store.Create(ctx, workspaceID, auth.CurrentUser(c).ID, EventInput{
		Title:       draft.Title,
		StartAt:     draft.StartAt,
		EndAt:       draft.EndAt,
		Location:    draft.Location,
		Description: draft.Description,
	})
	if err != nil {
		httpapi.AbortError(c, http.StatusBadRequest, "create_failed", err.Error())
		return
	}
	for _, email := range draft.Invitees {
		if _, err := h.store.AddInvite(ctx, workspaceID, event.ID, email); err != nil {
			h.logger.Warn("drafted invite not saved", "email", email, "error", err)
		}
	}

	conflicts, err := h.store.Overlapping(ctx, workspaceID, event.StartAt, event.EndAt)
	if err != nil {
		h.logger.Warn("conflict check failed", "error", err)
	}
	var alternatives []copilot.AlternativeSlot
	otherConflicts := make([]Event, 0, len(conflicts))
	for _, ev := range conflicts {
		if ev.ID != event.ID {
			otherConflicts = append(otherConflicts, ev)
		}
	}
	if len(otherConflicts) > 0 {
		windows := make([]copilot.EventWindow, 0, len(otherConflicts))
		for _, ev := range otherConflicts {
			windows = append(windows, copilot.EventWindow{StartAt: ev.StartAt, EndAt: ev.EndAt})
		}
		alternatives = h.copilot.SuggestAlternatives(ctx, identity(c), event.StartAt, event.EndAt, windows)
	}

	c.JSON(http.StatusCreated, gin.H{
		"event":        event,
		"draft":        draft,
		"conflicts":    otherConflicts,
		"alternatives": alternatives,
	})
}

type suggestAlternativesRequest struct {
	StartAt time.Time `json:"start_at" binding:"required"`
	EndAt   time.Time `json:"end_at" binding:"required"`
}

// SuggestAlternatives proposes conflict-free slots near a requested window.
func (h *Handlers) SuggestAlternatives(c *gin.Context) {
	var req suggestAlternativesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.AbortError(c, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}
	if !req.EndAt.After(req.StartAt) {
		httpapi.AbortError(c, http.StatusBadRequest, "invalid_window", "end_at must be after start_at")
		return
	}

	ctx := c.Request.Context()
	workspaceID := auth.CurrentWorkspaceID(c)
	// Scan a day ahead so the 30-minute stepping has windows to test against.
	existing, err := h.store.Overlapping(ctx, workspaceID, req.StartAt, req.EndAt.Add(24*time.Hour))
	if err != nil {
		h.logger.Error("schedule scan failed", "error", err)
		httpapi.AbortError(c, http.StatusInternalServerError, "scan_failed", "could not scan schedule")
		return
	}
	windows := make([]copilot.EventWindow, 0, len(existing))
	for _, ev := range existing {
		windows = append(windows, copilot.EventWindow{StartAt: ev.StartAt, EndAt: ev.EndAt})
	}
	suggestions := h.copilot.SuggestAlternatives(ctx, identity(c), req.StartAt, req.EndAt, windows)
	if suggestions == nil {
		suggestions = []copilot.AlternativeSlot{}
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}

// GenerateDescription writes a description for an event and stores it.
func (h *Handlers) GenerateDescription(c *gin.Context) {
	id, ok := h.eventID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	workspaceID := auth.CurrentWorkspaceID(c)
	event, err := h.store.Get(ctx, workspaceID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpapi.AbortError(c, http.StatusNotFound, "not_found", "event not found")
			return
		}
		httpapi.AbortError(c, http.StatusInternalServerError, "fetch_failed", "could not fetch event")
		return
	}

	text := h.copilot.GenerateEventDescription(ctx, identity(c), copilot.ComposeParams{
		Title:       event.Title,
		StartAt:     event.StartAt,
		EndAt:       event.EndAt,
		Location:    event.Location,
		Description: event.Description,
	})
	if _, err := h.store.Update(ctx, workspaceID, id, EventPatch{Description: &text}); err != nil {
		h.logger.Warn("generated description not saved", "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"description": text})
}

// GenerateInviteMessage writes an invite message for an event and stores it.
func (h *Handlers) GenerateInviteMessage(c *gin.Context) {
	id, ok := h.eventID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	workspaceID := auth.CurrentWorkspaceID(c)
	event, err := h.store.Get(ctx, workspaceID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpapi.AbortError(c, http.StatusNotFound, "not_found", "event not found")
			return
		}
		httpapi.AbortError(c, http.StatusInternalServerError, "fetch_failed", "could not fetch event")
		return
	}

	msg := h.copilot.GenerateInviteMessage(ctx, identity(c), copilot.ComposeParams{
		Title:       event.Title,
		StartAt:     event.StartAt,
		EndAt:       event.EndAt,
		Location:    event.Location,
		Description: event.Description,
	})
	if _, err := h.store.Update(ctx, workspaceID, id, EventPatch{InviteMessage: &msg}); err != nil {
		h.logger.Warn("generated invite message not saved", "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// RegisterRoutes mounts the event endpoints on a workspace-scoped group.
func (h *Handlers) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/events", h.List)
	rg.POST("/events", h.Create)
	rg.GET("/events/:id", h.Get)
	rg.PATCH("/events/:id", h.Update)
	rg.DELETE("/events/:id", h.Delete)

	rg.POST("/events/:id/invites", h.AddInvite)
	rg.GET("/events/:id/invites", h.ListInvites)
	rg.PATCH("/events/:id/invites/:inviteId", h.RespondInvite)

	rg.POST("/events/nl-create", h.NLCreate)
	rg.POST("/events/suggest-alternatives", h.SuggestAlternatives)
	rg.POST("/events/:id/generate-description", h.GenerateDescription)
	rg.POST("/events/:id/generate-invite-message", h.GenerateInviteMessage)
}
