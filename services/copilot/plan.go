// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

package copilot

import (
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// Plan Vocabulary
// =============================================================================

// Metric selects what a plan computes.
type Metric string

const (
	MetricRows          Metric = "rows"
	MetricCountItems    Metric = "count_items"
	MetricSumQuantity   Metric = "sum_quantity"
	MetricCountLowStock Metric = "count_low_stock"
	MetricLowStockRatio Metric = "low_stock_ratio"
)

// Valid reports whether the metric is a known member of the vocabulary.
func (m Metric) Valid() bool {
	switch m {
	case MetricRows, MetricCountItems, MetricSumQuantity, MetricCountLowStock, MetricLowStockRatio:
		return true
	}
	return false
}

// GroupBy selects the grouping dimension for aggregate metrics.
type GroupBy string

const (
	GroupNone     GroupBy = "none"
	GroupCategory GroupBy = "category"
	GroupVendor   GroupBy = "vendor"
	GroupStatus   GroupBy = "status"
	GroupUnit     GroupBy = "unit"
	GroupItem     GroupBy = "item"
)

func (g GroupBy) Valid() bool {
	switch g {
	case GroupNone, GroupCategory, GroupVendor, GroupStatus, GroupUnit, GroupItem:
		return true
	}
	return false
}

// FilterField names an item attribute a filter can constrain.
type FilterField string

const (
	FieldName     FilterField = "name"
	FieldVendor   FilterField = "vendor"
	FieldCategory FilterField = "category"
	FieldStatus   FilterField = "status"
	FieldUnit     FilterField = "unit"
	FieldQuantity FilterField = "quantity"
	FieldLowStock FilterField = "low_stock"
)

func (f FilterField) Valid() bool {
	switch f {
	case FieldName, FieldVendor, FieldCategory, FieldStatus, FieldUnit, FieldQuantity, FieldLowStock:
		return true
	}
	return false
}

// FilterOp is a comparison operator.
type FilterOp string

const (
	OpEq       FilterOp = "eq"
	OpContains FilterOp = "contains"
	OpLt       FilterOp = "lt"
	OpLte      FilterOp = "lte"
	OpGt       FilterOp = "gt"
	OpGte      FilterOp = "gte"
)

func (o FilterOp) Valid() bool {
	switch o {
	case OpEq, OpContains, OpLt, OpLte, OpGt, OpGte:
		return true
	}
	return false
}

// SortDirection orders results ascending or descending.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

func (d SortDirection) Valid() bool {
	switch d {
	case SortAsc, SortDesc:
		return true
	}
	return false
}

// rowSortFields are the item attributes a rows plan may sort by.
var rowSortFields = map[string]bool{
	"name":     true,
	"quantity": true,
	"vendor":   true,
	"category": true,
	"status":   true,
	"unit":     true,
}

// =============================================================================
// Plan
// =============================================================================

// Filter is one predicate of a plan. Value holds a string, number, or
// boolean depending on the field and operator.
type Filter struct {
	Field FilterField `json:"field"`
	Op    FilterOp    `json:"op"`
	Value any         `json:"value"`
}

// StringValue renders the filter value as text for string-field comparisons.
func (f Filter) StringValue() string {
	switch v := f.Value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// FloatValue renders the filter value as a number for quantity comparisons.
func (f Filter) FloatValue() (float64, error) {
	switch v := f.Value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("filter value %v is not numeric", f.Value)
	}
}

// BoolValue renders the filter value as a boolean. Strings "true", "1" and
// "yes" count as true.
func (f Filter) BoolValue() bool {
	switch v := f.Value.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true
		}
	}
	return false
}

// Plan is the closed, validated query contract between the copilot and the
// inventory executor. A plan either lists matching rows or computes one
// metric, optionally grouped.
type Plan struct {
	Metric        Metric        `json:"metric"`
	GroupBy       GroupBy       `json:"group_by"`
	Filters       []Filter      `json:"filters"`
	SortBy        string        `json:"sort_by"`
	SortDirection SortDirection `json:"sort_direction"`
	Limit         int           `json:"limit"`
}

// DefaultPlan returns the neutral plan a model response is decoded over, so
// omitted fields keep their documented defaults.
func DefaultPlan() Plan {
	return Plan{
		Metric:        MetricRows,
		GroupBy:       GroupNone,
		SortBy:        "metric",
		SortDirection: SortDesc,
		Limit:         20,
	}
}

const (
	minPlanLimit = 1
	maxPlanLimit = 100
)

// Validate checks the construction invariants of a plan.
//
// Description:
//
//	Enforces enum membership for every closed field, the limit range, and
//	the shape rules: a rows plan is ungrouped and sorts by a row field; an
//	ungrouped aggregate sorts by "metric"; a grouped aggregate sorts by
//	"metric" or "group".
//
// Outputs:
//
//	error - nil when the plan is executable, otherwise the first violated rule.
func (p Plan) Validate() error {
	if !p.Metric.Valid() {
		return fmt.Errorf("unknown metric %q", p.Metric)
	}
	if !p.GroupBy.Valid() {
		return fmt.Errorf("unknown group_by %q", p.GroupBy)
	}
	if !p.SortDirection.Valid() {
		return fmt.Errorf("unknown sort_direction %q", p.SortDirection)
	}
	for _, f := range p.Filters {
		if !f.Field.Valid() {
			return fmt.Errorf("unknown filter field %q", f.Field)
		}
		if !f.Op.Valid() {
			return fmt.Errorf("unknown filter op %q", f.Op)
		}
	}
	if p.Limit < minPlanLimit || p.Limit > maxPlanLimit {
		return fmt.Errorf("limit %d out of range [%d,%d]", p.Limit, minPlanLimit, maxPlanLimit)
	}

	switch {
	case p.Metric == MetricRows:
		if p.GroupBy != GroupNone {
			return fmt.Errorf("rows plan cannot group by %q", p.GroupBy)
		}
		if !rowSortFields[p.SortBy] {
			return fmt.Errorf("rows plan cannot sort by %q", p.SortBy)
		}
	case p.GroupBy == GroupNone:
		if p.SortBy != "metric" {
			return fmt.Errorf("scalar plan must sort by metric, got %q", p.SortBy)
		}
	default:
		if p.SortBy != "metric" && p.SortBy != "group" {
			return fmt.Errorf("grouped plan must sort by metric or group, got %q", p.SortBy)
		}
	}
	return nil
}

// ClampLimit forces the limit into the executable range.
func (p *Plan) ClampLimit() {
	if p.Limit < minPlanLimit {
		p.Limit = minPlanLimit
	}
	if p.Limit > maxPlanLimit {
		p.Limit = maxPlanLimit
	}
}
