// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/opsdeckhq/opsdeck/services/auth"
	"github.com/opsdeckhq/opsdeck/services/copilot"
	"github.com/opsdeckhq/opsdeck/services/httpapi"
)

// Handlers serves the inventory CRUD, import, and copilot endpoints.
type Handlers struct {
	store   *Store
	copilot *copilot.Service
	logger  *slog.Logger

	// Per-workspace copilot rate limiters.
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	rpm      int
}

// NewHandlers wires the inventory surface. copilotRPM caps copilot queries
// per workspace per minute; zero disables the cap.
func NewHandlers(store *Store, svc *copilot.Service, logger *slog.Logger, copilotRPM int) *Handlers {
	return &Handlers{
		store:    store,
		copilot:  svc,
		logger:   logger,
		limiters: make(map[int64]*rate.Limiter),
		rpm:      copilotRPM,
	}
}

func (h *Handlers) limiter(workspaceID int64) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	lim, ok := h.limiters[workspaceID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(h.rpm)/60.0), h.rpm)
		h.limiters[workspaceID] = lim
	}
	return lim
}

func identity(c *gin.Context) copilot.Identity {
	return copilot.Identity{
		UserID:      auth.CurrentUser(c).ID,
		WorkspaceID: auth.CurrentWorkspaceID(c),
	}
}

// =============================================================================
// CRUD
// =============================================================================

// List returns workspace items with optional q/category/status filters.
func (h *Handlers) List(c *gin.Context) {
	items, err := h.store.List(c.Request.Context(), auth.CurrentWorkspaceID(c), ListFilter{
		Query:    c.Query("q"),
		Category: c.Query("category"),
		Status:   c.Query("status"),
	})
	if err != nil {
		h.logger.Error("item listing failed", "error", err)
		httpapi.AbortError(c, http.StatusInternalServerError, "listing_failed", "could not list items")
		return
	}
	if items == nil {
		items = []Item{}
	}
	c.JSON(http.StatusOK, items)
}

// Create inserts an item, merging into an existing one when the canonical
// name collides. Responds 200 on merge, 201 on insert.
func (h *Handlers) Create(c *gin.Context) {
	var input ItemInput
	if err := c.ShouldBindJSON(&input); err != nil {
		httpapi.AbortError(c, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}
	item, merged, err := h.store.Create(c.Request.Context(), auth.CurrentWorkspaceID(c), input)
	if err != nil {
		h.logger.Error("item creation failed", "error", err)
		httpapi.AbortError(c, http.StatusInternalServerError, "create_failed", "could not create item")
		return
	}
	status := http.StatusCreated
	if merged {
		status = http.StatusOK
	}
	c.JSON(status, item)
}

// Get returns one item.
func (h *Handlers) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		httpapi.AbortError(c, http.StatusBadRequest, "invalid_id", "invalid item id")
		return
	}
	item, err := h.store.Get(c.Request.Context(), auth.CurrentWorkspaceID(c), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpapi.AbortError(c, http.StatusNotFound, "not_found", "item not found")
			return
		}
		h.logger.Error("item fetch failed", "error", err)
		httpapi.AbortError(c, http.StatusInternalServerError, "fetch_failed", "could not fetch item")
		return
	}
	c.JSON(http.StatusOK, item)
}

// Update applies a partial patch.
func (h *Handlers) Update(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		httpapi.AbortError(c, http.StatusBadRequest, "invalid_id", "invalid item id")
		return
	}
	var patch ItemPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		httpapi.AbortError(c, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}
	item, err := h.store.Update(c.Request.Context(), auth.CurrentWorkspaceID(c), id, patch)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpapi.AbortError(c, http.StatusNotFound, "not_found", "item not found")
			return
		}
		httpapi.AbortError(c, http.StatusBadRequest, "update_failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, item)
}

// Delete removes an item.
func (h *Handlers) Delete(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		httpapi.AbortError(c, http.StatusBadRequest, "invalid_id", "invalid item id")
		return
	}
	if err := h.store.Delete(c.Request.Context(), auth.CurrentWorkspaceID(c), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			httpapi.AbortError(c, http.StatusNotFound, "not_found", "item not found")
			return
		}
		h.logger.Error("item deletion failed", "error", err)
		httpapi.AbortError(c, http.StatusInternalServerError, "delete_failed", "could not delete item")
		return
	}
	c.Status(http.StatusNoContent)
}

// =============================================================================
// Import Flow
// =============================================================================

type importParseRequest struct {
	Text string `json:"text" binding:"required"`
}

// ImportParse extracts structured items from pasted receipt text.
func (h *Handlers) ImportParse(c *gin.Context) {
	var req importParseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.AbortError(c, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}
	extraction := h.copilot.ParseReceipt(c.Request.Context(), identity(c), req.Text)
	c.JSON(http.StatusOK, extraction)
}

type importSuggestRequest struct {
	Items []ItemInput `json:"items" binding:"required"`
}

// ImportSuggest returns duplicate candidates per import row.
func (h *Handlers) ImportSuggest(c *gin.Context) {
	var req importSuggestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.AbortError(c, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}
	workspaceID := auth.CurrentWorkspaceID(c)
	suggestions := make([]DuplicateSuggestion, 0, len(req.Items))
	for _, input := range req.Items {
		suggestion, err := h.store.SuggestDuplicates(c.Request.Context(), workspaceID, input)
		if err != nil {
			h.logger.Error("duplicate suggestion failed", "error", err)
			httpapi.AbortError(c, http.StatusInternalServerError, "suggest_failed", "could not analyze duplicates")
			return
		}
		suggestions = append(suggestions, suggestion)
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}

type importCommitRow struct {
	Item   ItemInput `json:"item" binding:"required"`
	Action string    `json:"action" binding:"required,oneof=auto merge create_new review"`
}

type importCommitRequest struct {
	Rows []importCommitRow `json:"rows" binding:"required"`
}

// ImportCommit applies resolved import rows. A row still marked "review"
// rejects the whole commit; "auto" lets the canonical-name merge rule
// decide, while "merge" and "create_new" force the outcome.
func (h *Handlers) ImportCommit(c *gin.Context) {
	var req importCommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.AbortError(c, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}
	for _, row := range req.Rows {
		if row.Action == ActionReview {
			httpapi.AbortError(c, http.StatusBadRequest, "unresolved_review",
				"resolve review rows before committing")
			return
		}
	}

	ctx := c.Request.Context()
	workspaceID := auth.CurrentWorkspaceID(c)
	created, merged := 0, 0
	items := make([]Item, 0, len(req.Rows))
	for _, row := range req.Rows {
		input := row.Item
		if row.Action == ActionCreateNew {
			// Force a distinct row even when the canonical name collides.
			existing, err := h.store.FindByNormalizedName(ctx, workspaceID, copilot.NormalizeItemName(input.Name))
			if err == nil && existing.ID != 0 {
				input.Name = input.Name + " (new)"
			}
		}
		item, wasMerged, err := h.store.Create(ctx, workspaceID, input)
		if err != nil {
			h.logger.Error("import commit failed", "error", err, "item", input.Name)
			httpapi.AbortError(c, http.StatusInternalServerError, "commit_failed", "could not commit import")
			return
		}
		if wasMerged {
			merged++
		} else {
			created++
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"created": created, "merged": merged, "items": items})
}

// =============================================================================
// Copilot
// =============================================================================

type copilotRequest struct {
	Query string `json:"query"`
}

// Copilot answers a natural-language inventory question.
func (h *Handlers) Copilot(c *gin.Context) {
	workspaceID := auth.CurrentWorkspaceID(c)
	if h.rpm > 0 && !h.limiter(workspaceID).Allow() {
		httpapi.AbortError(c, http.StatusTooManyRequests, "rate_limited", "copilot rate limit exceeded")
		return
	}

	var req copilotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.AbortError(c, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}

	answer, err := h.copilot.RunCopilot(c.Request.Context(), identity(c), req.Query,
		h.store.NewExecutor(workspaceID))
	if err != nil {
		h.logger.Error("copilot execution failed", "error", err)
		httpapi.AbortError(c, http.StatusInternalServerError, "copilot_failed", "could not answer query")
		return
	}
	c.JSON(http.StatusOK, answer)
}

// RegisterRoutes mounts the inventory endpoints on a workspace-scoped group.
func (h *Handlers) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/inventory/items", h.List)
	rg.POST("/inventory/items", h.Create)
	rg.GET("/inventory/items/:id", h.Get)
	rg.PATCH("/inventory/items/:id", h.Update)
	rg.DELETE("/inventory/items/:id", h.Delete)

	rg.POST("/inventory/import/parse", h.ImportParse)
	rg.POST("/inventory/import/suggest", h.ImportSuggest)
	rg.POST("/inventory/import/commit", h.ImportCommit)

	rg.POST("/inventory/copilot", h.Copilot)
}
