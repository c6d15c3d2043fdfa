// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

package copilot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanValidateShapeRules(t *testing.T) {
	tests := []struct {
		name    string
		plan    Plan
		wantErr bool
	}{
		{
			name: "rows plan sorted by row field",
			plan: Plan{Metric: MetricRows, GroupBy: GroupNone, SortBy: "name", SortDirection: SortAsc, Limit: 20},
		},
		{
			name:    "rows plan cannot group",
			plan:    Plan{Metric: MetricRows, GroupBy: GroupVendor, SortBy: "name", SortDirection: SortAsc, Limit: 20},
			wantErr: true,
		},
		{
			name:    "rows plan cannot sort by metric",
			plan:    Plan{Metric: MetricRows, GroupBy: GroupNone, SortBy: "metric", SortDirection: SortAsc, Limit: 20},
			wantErr: true,
		},
		{
			name: "ungrouped aggregate sorts by metric",
			plan: Plan{Metric: MetricSumQuantity, GroupBy: GroupNone, SortBy: "metric", SortDirection: SortDesc, Limit: 1},
		},
		{
			name:    "ungrouped aggregate cannot sort by name",
			plan:    Plan{Metric: MetricSumQuantity, GroupBy: GroupNone, SortBy: "name", SortDirection: SortDesc, Limit: 1},
			wantErr: true,
		},
		{
			name: "grouped aggregate sorts by group",
			plan: Plan{Metric: MetricCountItems, GroupBy: GroupCategory, SortBy: "group", SortDirection: SortAsc, Limit: 10},
		},
		{
			name:    "grouped aggregate cannot sort by quantity",
			plan:    Plan{Metric: MetricCountItems, GroupBy: GroupCategory, SortBy: "quantity", SortDirection: SortAsc, Limit: 10},
			wantErr: true,
		},
		{
			name:    "limit below range",
			plan:    Plan{Metric: MetricRows, GroupBy: GroupNone, SortBy: "name", SortDirection: SortAsc, Limit: 0},
			wantErr: true,
		},
		{
			name:    "limit above range",
			plan:    Plan{Metric: MetricRows, GroupBy: GroupNone, SortBy: "name", SortDirection: SortAsc, Limit: 101},
			wantErr: true,
		},
		{
			name:    "unknown metric",
			plan:    Plan{Metric: "median", GroupBy: GroupNone, SortBy: "metric", SortDirection: SortAsc, Limit: 1},
			wantErr: true,
		},
		{
			name:    "unknown sort direction",
			plan:    Plan{Metric: MetricRows, GroupBy: GroupNone, SortBy: "name", SortDirection: "sideways", Limit: 1},
			wantErr: true,
		},
		{
			name: "filters with valid members",
			plan: Plan{
				Metric:  MetricRows,
				GroupBy: GroupNone,
				Filters: []Filter{
					{Field: FieldName, Op: OpContains, Value: "cable"},
					{Field: FieldQuantity, Op: OpLt, Value: float64(5)},
				},
				SortBy: "name", SortDirection: SortAsc, Limit: 20,
			},
		},
		{
			name: "unknown filter op",
			plan: Plan{
				Metric:  MetricRows,
				GroupBy: GroupNone,
				Filters: []Filter{{Field: FieldName, Op: "like", Value: "cable"}},
				SortBy:  "name", SortDirection: SortAsc, Limit: 20,
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultPlanFillsOmittedFields(t *testing.T) {
	// Partial model output keeps documented defaults for what it omits.
	plan := DefaultPlan()
	require.NoError(t, json.Unmarshal([]byte(`{"metric":"count_items","group_by":"category"}`), &plan))
	assert.Equal(t, MetricCountItems, plan.Metric)
	assert.Equal(t, GroupCategory, plan.GroupBy)
	assert.Equal(t, "metric", plan.SortBy)
	assert.Equal(t, SortDesc, plan.SortDirection)
	assert.Equal(t, 20, plan.Limit)
}

func TestClampLimit(t *testing.T) {
	low := Plan{Limit: -3}
	low.ClampLimit()
	assert.Equal(t, 1, low.Limit)

	high := Plan{Limit: 5000}
	high.ClampLimit()
	assert.Equal(t, 100, high.Limit)

	fine := Plan{Limit: 42}
	fine.ClampLimit()
	assert.Equal(t, 42, fine.Limit)
}

func TestFilterValueHelpers(t *testing.T) {
	assert.Equal(t, "cable", Filter{Value: "cable"}.StringValue())
	assert.Equal(t, "5", Filter{Value: float64(5)}.StringValue())
	assert.Equal(t, "", Filter{Value: nil}.StringValue())

	v, err := Filter{Value: float64(2.5)}.FloatValue()
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)
	v, err = Filter{Value: " 7 "}.FloatValue()
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)
	_, err = Filter{Value: map[string]any{}}.FloatValue()
	assert.Error(t, err)

	assert.True(t, Filter{Value: true}.BoolValue())
	assert.True(t, Filter{Value: "yes"}.BoolValue())
	assert.True(t, Filter{Value: float64(1)}.BoolValue())
	assert.False(t, Filter{Value: "no"}.BoolValue())
	assert.False(t, Filter{Value: nil}.BoolValue())
}
