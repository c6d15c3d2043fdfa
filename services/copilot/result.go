// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

package copilot

// ResultKind discriminates the three execution outcomes of a plan.
type ResultKind string

const (
	// KindScalar is a single metric value.
	KindScalar ResultKind = "scalar"
	// KindGrouped is one aggregate row per group.
	KindGrouped ResultKind = "grouped"
	// KindRows is a list of matching inventory items.
	KindRows ResultKind = "rows"
)

// ItemRow is one inventory item in a rows result.
type ItemRow struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Vendor   string  `json:"vendor"`
	Category string  `json:"category"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
	Status   string  `json:"status"`
}

// GroupRow is one group's aggregates in a grouped result. Metric is the
// value selected by the plan's metric; the raw aggregates ride along for
// phrasing and display.
type GroupRow struct {
	Group         string  `json:"group"`
	Metric        float64 `json:"metric"`
	ItemCount     int     `json:"item_count"`
	QuantitySum   float64 `json:"quantity_sum"`
	LowStockCount int     `json:"low_stock_count"`
}

// PlanResult is the closed result union for an executed plan. Exactly one
// of MetricValue, Groups, or Items is meaningful, selected by Kind.
type PlanResult struct {
	Kind        ResultKind `json:"kind"`
	Metric      Metric     `json:"metric"`
	GroupBy     GroupBy    `json:"group_by"`
	MetricValue float64    `json:"metric_value,omitempty"`
	Groups      []GroupRow `json:"groups,omitempty"`
	Items       []ItemRow  `json:"rows,omitempty"`
}
