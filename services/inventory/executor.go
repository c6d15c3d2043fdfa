// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

package inventory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opsdeckhq/opsdeck/services/copilot"
)

var executorTracer = otel.Tracer("opsdeck.inventory.executor")

// lowStockCondition is the shared SQL predicate for "this item is low".
const lowStockCondition = "(quantity <= low_stock_threshold OR status = 'low_stock')"

// Executor runs validated copilot plans against one workspace's inventory.
// Implements copilot.PlanExecutor.
type Executor struct {
	store       *Store
	workspaceID int64
}

// NewExecutor scopes plan execution to a workspace.
func (s *Store) NewExecutor(workspaceID int64) *Executor {
	return &Executor{store: s, workspaceID: workspaceID}
}

// ExecutePlan implements copilot.PlanExecutor.
//
// Description:
//
//	Validates the plan, compiles its filters to SQL, and produces one of
//	the three result shapes: a rows listing, a single scalar metric, or
//	per-group aggregates with the metric derived per group. All queries
//	are scoped to the executor's workspace.
//
// Thread Safety: Safe for concurrent use.
func (e *Executor) ExecutePlan(ctx context.Context, plan copilot.Plan) (copilot.PlanResult, error) {
	ctx, span := executorTracer.Start(ctx, "inventory.execute_plan")
	defer span.End()
	span.SetAttributes(
		attribute.String("plan.metric", string(plan.Metric)),
		attribute.String("plan.group_by", string(plan.GroupBy)),
	)

	if err := plan.Validate(); err != nil {
		return copilot.PlanResult{}, fmt.Errorf("invalid plan: %w", err)
	}

	where, args, err := compileFilters(plan.Filters)
	if err != nil {
		return copilot.PlanResult{}, err
	}
	where = "workspace_id = ?" + where
	args = append([]any{e.workspaceID}, args...)

	switch {
	case plan.Metric == copilot.MetricRows:
		return e.executeRows(ctx, plan, where, args)
	case plan.GroupBy == copilot.GroupNone:
		return e.executeScalar(ctx, plan, where, args)
	default:
		return e.executeGrouped(ctx, plan, where, args)
	}
}

// compileFilters turns plan filters into an AND-joined SQL fragment. The
// operator set per field is closed: text fields support eq/contains, status
// supports eq over known statuses, quantity supports comparisons, and
// low_stock supports eq over a boolean.
func compileFilters(filters []copilot.Filter) (string, []any, error) {
	var sb strings.Builder
	var args []any

	for _, f := range filters {
		switch f.Field {
		case copilot.FieldName, copilot.FieldVendor, copilot.FieldCategory, copilot.FieldUnit:
			column := string(f.Field)
			value := strings.ToLower(strings.TrimSpace(f.StringValue()))
			switch f.Op {
			case copilot.OpEq:
				sb.WriteString(fmt.Sprintf(" AND lower(coalesce(%s, '')) = ?", column))
				args = append(args, value)
			case copilot.OpContains:
				sb.WriteString(fmt.Sprintf(" AND instr(lower(coalesce(%s, '')), ?) > 0", column))
				args = append(args, value)
			default:
				return "", nil, fmt.Errorf("operator %q not supported for field %q", f.Op, f.Field)
			}

		case copilot.FieldStatus:
			if f.Op != copilot.OpEq {
				return "", nil, fmt.Errorf("operator %q not supported for status", f.Op)
			}
			status := strings.ToLower(strings.TrimSpace(f.StringValue()))
			if !validStatus(status) {
				return "", nil, fmt.Errorf("unknown status value %q", status)
			}
			sb.WriteString(" AND status = ?")
			args = append(args, status)

		case copilot.FieldQuantity:
			value, err := f.FloatValue()
			if err != nil {
				return "", nil, fmt.Errorf("quantity filter: %w", err)
			}
			var op string
			switch f.Op {
			case copilot.OpEq:
				op = "="
			case copilot.OpLt:
				op = "<"
			case copilot.OpLte:
				op = "<="
			case copilot.OpGt:
				op = ">"
			case copilot.OpGte:
				op = ">="
			default:
				return "", nil, fmt.Errorf("operator %q not supported for quantity", f.Op)
			}
			sb.WriteString(" AND quantity " + op + " ?")
			args = append(args, value)

		case copilot.FieldLowStock:
			if f.Op != copilot.OpEq {
				return "", nil, fmt.Errorf("operator %q not supported for low_stock", f.Op)
			}
			if f.BoolValue() {
				sb.WriteString(" AND " + lowStockCondition)
			} else {
				sb.WriteString(" AND NOT " + lowStockCondition)
			}

		default:
			return "", nil, fmt.Errorf("unknown filter field %q", f.Field)
		}
	}
	return sb.String(), args, nil
}

// =============================================================================
// Rows Execution
// =============================================================================

func rowSortColumn(sortBy string) (string, error) {
	switch sortBy {
	case "name", "quantity", "vendor", "category", "status", "unit":
		return sortBy, nil
	}
	return "", fmt.Errorf("unsupported rows sort %q", sortBy)
}

func (e *Executor) executeRows(ctx context.Context, plan copilot.Plan, where string, args []any) (copilot.PlanResult, error) {
	column, err := rowSortColumn(plan.SortBy)
	if err != nil {
		return copilot.PlanResult{}, err
	}
	direction := "ASC"
	if plan.SortDirection == copilot.SortDesc {
		direction = "DESC"
	}

	query := fmt.Sprintf(`
		SELECT id, name, coalesce(vendor, ''), category, quantity, unit, status
		FROM inventory_items
		WHERE %s
		ORDER BY %s %s, id ASC
		LIMIT ?`, where, column, direction)
	args = append(args, plan.Limit)

	rows, err := e.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return copilot.PlanResult{}, fmt.Errorf("executing rows plan: %w", err)
	}
	defer rows.Close()

	items := []copilot.ItemRow{}
	for rows.Next() {
		var it copilot.ItemRow
		if err := rows.Scan(&it.ID, &it.Name, &it.Vendor, &it.Category, &it.Quantity, &it.Unit, &it.Status); err != nil {
			return copilot.PlanResult{}, fmt.Errorf("scanning row: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return copilot.PlanResult{}, fmt.Errorf("iterating rows: %w", err)
	}

	return copilot.PlanResult{
		Kind:    copilot.KindRows,
		Metric:  plan.Metric,
		GroupBy: plan.GroupBy,
		Items:   items,
	}, nil
}

// =============================================================================
// Scalar Execution
// =============================================================================

func (e *Executor) executeScalar(ctx context.Context, plan copilot.Plan, where string, args []any) (copilot.PlanResult, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*),
			COALESCE(SUM(quantity), 0),
			COALESCE(SUM(CASE WHEN %s THEN 1 ELSE 0 END), 0)
		FROM inventory_items
		WHERE %s`, lowStockCondition, where)

	var count int
	var quantitySum float64
	var lowCount int
	if err := e.store.db.QueryRowContext(ctx, query, args...).Scan(&count, &quantitySum, &lowCount); err != nil {
		return copilot.PlanResult{}, fmt.Errorf("executing scalar plan: %w", err)
	}

	var value float64
	switch plan.Metric {
	case copilot.MetricCountItems:
		value = float64(count)
	case copilot.MetricSumQuantity:
		value = quantitySum
	case copilot.MetricCountLowStock:
		value = float64(lowCount)
	case copilot.MetricLowStockRatio:
		if count > 0 {
			value = roundRatio(float64(lowCount) / float64(count))
		}
	default:
		return copilot.PlanResult{}, fmt.Errorf("metric %q is not scalar", plan.Metric)
	}

	return copilot.PlanResult{
		Kind:        copilot.KindScalar,
		Metric:      plan.Metric,
		GroupBy:     plan.GroupBy,
		MetricValue: value,
	}, nil
}

// =============================================================================
// Grouped Execution
// =============================================================================

func groupExpression(groupBy copilot.GroupBy) (string, error) {
	switch groupBy {
	case copilot.GroupCategory:
		return "lower(trim(category))", nil
	case copilot.GroupVendor:
		return "lower(trim(coalesce(vendor, '')))", nil
	case copilot.GroupStatus:
		return "lower(trim(status))", nil
	case copilot.GroupUnit:
		return "lower(trim(unit))", nil
	case copilot.GroupItem:
		return "lower(trim(name))", nil
	}
	return "", fmt.Errorf("unsupported group_by %q", groupBy)
}

func (e *Executor) executeGrouped(ctx context.Context, plan copilot.Plan, where string, args []any) (copilot.PlanResult, error) {
	groupExpr, err := groupExpression(plan.GroupBy)
	if err != nil {
		return copilot.PlanResult{}, err
	}

	query := fmt.Sprintf(`
		SELECT %s AS grp,
			COUNT(*),
			COALESCE(SUM(quantity), 0),
			COALESCE(SUM(CASE WHEN %s THEN 1 ELSE 0 END), 0)
		FROM inventory_items
		WHERE %s
		GROUP BY grp`, groupExpr, lowStockCondition, where)

	rows, err := e.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return copilot.PlanResult{}, fmt.Errorf("executing grouped plan: %w", err)
	}
	defer rows.Close()

	groups := []copilot.GroupRow{}
	for rows.Next() {
		var g copilot.GroupRow
		if err := rows.Scan(&g.Group, &g.ItemCount, &g.QuantitySum, &g.LowStockCount); err != nil {
			return copilot.PlanResult{}, fmt.Errorf("scanning group: %w", err)
		}
		if g.Group == "" {
			g.Group = "unknown"
		}
		switch plan.Metric {
		case copilot.MetricCountItems:
			g.Metric = float64(g.ItemCount)
		case copilot.MetricSumQuantity:
			g.Metric = g.QuantitySum
		case copilot.MetricCountLowStock:
			g.Metric = float64(g.LowStockCount)
		case copilot.MetricLowStockRatio:
			if g.ItemCount > 0 {
				g.Metric = roundRatio(float64(g.LowStockCount) / float64(g.ItemCount))
			}
		default:
			return copilot.PlanResult{}, fmt.Errorf("metric %q cannot be grouped", plan.Metric)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return copilot.PlanResult{}, fmt.Errorf("iterating groups: %w", err)
	}

	asc := plan.SortDirection == copilot.SortAsc
	sort.SliceStable(groups, func(i, j int) bool {
		if plan.SortBy == "group" {
			if asc {
				return groups[i].Group < groups[j].Group
			}
			return groups[i].Group > groups[j].Group
		}
		if groups[i].Metric == groups[j].Metric {
			return groups[i].Group < groups[j].Group
		}
		if asc {
			return groups[i].Metric < groups[j].Metric
		}
		return groups[i].Metric > groups[j].Metric
	})
	if len(groups) > plan.Limit {
		groups = groups[:plan.Limit]
	}

	return copilot.PlanResult{
		Kind:    copilot.KindGrouped,
		Metric:  plan.Metric,
		GroupBy: plan.GroupBy,
		Groups:  groups,
	}, nil
}

func roundRatio(v float64) float64 {
	return math.Round(v*10000) / 10000
}
