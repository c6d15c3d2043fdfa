// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

package copilot

import "strings"

// NormalizePlan corrects the common model confusion between "which item has
// the lowest stock" and "which category has the lowest stock". When the
// query asks about lowest stock, the plan is rewritten to the canonical
// item-level or category-level shape; superlative phrasing pins the limit
// to 1. Idempotent, and a no-op for queries without the lowest-stock cue.
func NormalizePlan(query string, plan Plan) Plan {
	lowered := strings.ToLower(query)
	asksLowestStock := strings.Contains(lowered, "lowest") && strings.Contains(lowered, "stock")
	if !asksLowestStock {
		plan.ClampLimit()
		return plan
	}

	itemCue := strings.Contains(lowered, "item") ||
		strings.Contains(lowered, "items") ||
		strings.Contains(lowered, "product") ||
		strings.Contains(lowered, "sku") ||
		strings.Contains(lowered, "which") ||
		strings.Contains(lowered, "what")
	categoryCue := strings.Contains(lowered, "category")

	switch {
	case itemCue && !categoryCue:
		plan.Metric = MetricRows
		plan.GroupBy = GroupNone
		plan.SortBy = "quantity"
		plan.SortDirection = SortAsc
		if strings.Contains(lowered, "what") || strings.Contains(lowered, "which") ||
			strings.Contains(lowered, "lowest") {
			plan.Limit = 1
		} else if plan.Limit > 5 {
			plan.Limit = 5
		}
	case categoryCue:
		plan.Metric = MetricLowStockRatio
		plan.GroupBy = GroupCategory
		plan.SortBy = "metric"
		plan.SortDirection = SortAsc
		if strings.Contains(lowered, "what") || strings.Contains(lowered, "which") ||
			strings.Contains(lowered, "the category") {
			plan.Limit = 1
		} else if plan.Limit > 5 {
			plan.Limit = 5
		}
	}
	plan.ClampLimit()
	return plan
}
