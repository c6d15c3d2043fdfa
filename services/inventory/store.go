// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

// Package inventory implements the workspace-scoped inventory store, the
// plan execution engine behind the copilot, duplicate detection for
// imports, and the HTTP surface.
package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opsdeckhq/opsdeck/services/copilot"
)

// ErrNotFound is returned when an item does not exist in the workspace.
var ErrNotFound = errors.New("inventory item not found")

// Item statuses.
const (
	StatusInStock      = "in_stock"
	StatusLowStock     = "low_stock"
	StatusOrdered      = "ordered"
	StatusDiscontinued = "discontinued"
)

func validStatus(status string) bool {
	switch status {
	case StatusInStock, StatusLowStock, StatusOrdered, StatusDiscontinued:
		return true
	}
	return false
}

// unitAliases folds common plural spellings to one canonical unit.
var unitAliases = map[string]string{
	"units":  "unit",
	"unit":   "unit",
	"pieces": "piece",
	"packs":  "pack",
}

// NormalizeUnit lowercases a unit and folds plural aliases.
func NormalizeUnit(unit string) string {
	lowered := strings.ToLower(strings.TrimSpace(unit))
	if lowered == "" {
		return "unit"
	}
	if canonical, ok := unitAliases[lowered]; ok {
		return canonical
	}
	return lowered
}

// ResolveStatus derives the stored status. Ordered and discontinued pass
// through untouched; otherwise the low-stock threshold decides.
func ResolveStatus(requested string, quantity, threshold float64) string {
	if requested == StatusOrdered || requested == StatusDiscontinued {
		return requested
	}
	if quantity <= threshold {
		return StatusLowStock
	}
	if validStatus(requested) && requested != StatusLowStock {
		return requested
	}
	return StatusInStock
}

// Item is one inventory row.
type Item struct {
	ID                int64     `json:"id"`
	WorkspaceID       int64     `json:"workspace_id"`
	Name              string    `json:"name"`
	NormalizedName    string    `json:"normalized_name"`
	Vendor            string    `json:"vendor"`
	Category          string    `json:"category"`
	Quantity          float64   `json:"quantity"`
	Unit              string    `json:"unit"`
	LowStockThreshold float64   `json:"low_stock_threshold"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ItemInput is the payload for create and import operations.
type ItemInput struct {
	Name              string  `json:"name" binding:"required"`
	Vendor            string  `json:"vendor"`
	Category          string  `json:"category"`
	Quantity          float64 `json:"quantity"`
	Unit              string  `json:"unit"`
	LowStockThreshold float64 `json:"low_stock_threshold"`
	Status            string  `json:"status"`
}

// Store is the workspace-agnostic data layer; every method takes the
// workspace explicitly.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the handle for the plan executor.
func (s *Store) DB() *sql.DB { return s.db }

const itemColumns = `id, workspace_id, name, normalized_name, vendor, category,
	quantity, unit, low_stock_threshold, status, created_at, updated_at`

func scanItem(row interface{ Scan(...any) error }) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.WorkspaceID, &it.Name, &it.NormalizedName, &it.Vendor,
		&it.Category, &it.Quantity, &it.Unit, &it.LowStockThreshold, &it.Status,
		&it.CreatedAt, &it.UpdatedAt)
	return it, err
}

// Get fetches one item scoped to the workspace.
func (s *Store) Get(ctx context.Context, workspaceID, itemID int64) (Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM inventory_items WHERE workspace_id = ? AND id = ?`,
		workspaceID, itemID)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("fetching item: %w", err)
	}
	return it, nil
}

// FindByNormalizedName looks up the workspace item with the given canonical
// name, returning ErrNotFound when absent.
func (s *Store) FindByNormalizedName(ctx context.Context, workspaceID int64, normalized string) (Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM inventory_items WHERE workspace_id = ? AND normalized_name = ?`,
		workspaceID, normalized)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("fetching item by name: %w", err)
	}
	return it, nil
}

// ListFilter narrows List output.
type ListFilter struct {
	Query    string
	Category string
	Status   string
}

// List returns workspace items, newest first, with optional filters.
func (s *Store) List(ctx context.Context, workspaceID int64, filter ListFilter) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM inventory_items WHERE workspace_id = ?`
	args := []any{workspaceID}
	if filter.Query != "" {
		query += ` AND normalized_name LIKE ?`
		args = append(args, "%"+copilot.NormalizeItemName(filter.Query)+"%")
	}
	if filter.Category != "" {
		query += ` AND lower(category) = ?`
		args = append(args, strings.ToLower(filter.Category))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY updated_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Create inserts an item, or merges into an existing item with the same
// normalized name: quantities add and non-empty incoming fields overwrite.
func (s *Store) Create(ctx context.Context, workspaceID int64, input ItemInput) (Item, bool, error) {
	normalized := copilot.NormalizeItemName(input.Name)
	existing, err := s.FindByNormalizedName(ctx, workspaceID, normalized)
	switch {
	case err == nil:
		merged, err := s.mergeInto(ctx, existing, input)
		return merged, true, err
	case errors.Is(err, ErrNotFound):
		item, err := s.insert(ctx, workspaceID, input, normalized)
		return item, false, err
	default:
		return Item{}, false, err
	}
}

func (s *Store) insert(ctx context.Context, workspaceID int64, input ItemInput, normalized string) (Item, error) {
	category := strings.ToLower(strings.TrimSpace(input.Category))
	if category == "" {
		category = copilot.SuggestCategory(input.Name)
	}
	unit := NormalizeUnit(input.Unit)
	status := ResolveStatus(input.Status, input.Quantity, input.LowStockThreshold)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_items
			(workspace_id, name, normalized_name, vendor, category, quantity, unit, low_stock_threshold, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		workspaceID, strings.TrimSpace(input.Name), normalized, strings.TrimSpace(input.Vendor),
		category, input.Quantity, unit, input.LowStockThreshold, status)
	if err != nil {
		return Item{}, fmt.Errorf("inserting item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Item{}, fmt.Errorf("reading insert id: %w", err)
	}
	return s.Get(ctx, workspaceID, id)
}

func (s *Store) mergeInto(ctx context.Context, existing Item, input ItemInput) (Item, error) {
	quantity := existing.Quantity + input.Quantity
	vendor := existing.Vendor
	if v := strings.TrimSpace(input.Vendor); v != "" {
		vendor = v
	}
	category := existing.Category
	if c := strings.ToLower(strings.TrimSpace(input.Category)); c != "" {
		category = c
	}
	unit := existing.Unit
	if u := strings.TrimSpace(input.Unit); u != "" {
		unit = NormalizeUnit(u)
	}
	threshold := existing.LowStockThreshold
	if input.LowStockThreshold > 0 {
		threshold = input.LowStockThreshold
	}
	status := ResolveStatus(input.Status, quantity, threshold)

	_, err := s.db.ExecContext(ctx, `
		UPDATE inventory_items
		SET quantity = ?, vendor = ?, category = ?, unit = ?, low_stock_threshold = ?, status = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		quantity, vendor, category, unit, threshold, status, existing.ID)
	if err != nil {
		return Item{}, fmt.Errorf("merging item: %w", err)
	}
	return s.Get(ctx, existing.WorkspaceID, existing.ID)
}

// ItemPatch updates a subset of item fields. Nil means unchanged.
type ItemPatch struct {
	Name              *string  `json:"name"`
	Vendor            *string  `json:"vendor"`
	Category          *string  `json:"category"`
	Quantity          *float64 `json:"quantity"`
	Unit              *string  `json:"unit"`
	LowStockThreshold *float64 `json:"low_stock_threshold"`
	Status            *string  `json:"status"`
}

// Update applies a patch and re-resolves status from the patched state.
func (s *Store) Update(ctx context.Context, workspaceID, itemID int64, patch ItemPatch) (Item, error) {
	item, err := s.Get(ctx, workspaceID, itemID)
	if err != nil {
		return Item{}, err
	}

	if patch.Name != nil && strings.TrimSpace(*patch.Name) != "" {
		item.Name = strings.TrimSpace(*patch.Name)
		item.NormalizedName = copilot.NormalizeItemName(item.Name)
	}
	if patch.Vendor != nil {
		item.Vendor = strings.TrimSpace(*patch.Vendor)
	}
	if patch.Category != nil && strings.TrimSpace(*patch.Category) != "" {
		item.Category = strings.ToLower(strings.TrimSpace(*patch.Category))
	}
	if patch.Quantity != nil {
		item.Quantity = *patch.Quantity
	}
	if patch.Unit != nil && strings.TrimSpace(*patch.Unit) != "" {
		item.Unit = NormalizeUnit(*patch.Unit)
	}
	if patch.LowStockThreshold != nil {
		item.LowStockThreshold = *patch.LowStockThreshold
	}
	requested := item.Status
	if patch.Status != nil {
		if !validStatus(*patch.Status) {
			return Item{}, fmt.Errorf("invalid status %q", *patch.Status)
		}
		requested = *patch.Status
	}
	item.Status = ResolveStatus(requested, item.Quantity, item.LowStockThreshold)

	_, err = s.db.ExecContext(ctx, `
		UPDATE inventory_items
		SET name = ?, normalized_name = ?, vendor = ?, category = ?, quantity = ?, unit = ?,
			low_stock_threshold = ?, status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE workspace_id = ? AND id = ?`,
		item.Name, item.NormalizedName, item.Vendor, item.Category, item.Quantity, item.Unit,
		item.LowStockThreshold, item.Status, workspaceID, itemID)
	if err != nil {
		return Item{}, fmt.Errorf("updating item: %w", err)
	}
	return s.Get(ctx, workspaceID, itemID)
}

// Delete removes an item from the workspace.
func (s *Store) Delete(ctx context.Context, workspaceID, itemID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM inventory_items WHERE workspace_id = ? AND id = ?`, workspaceID, itemID)
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
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
