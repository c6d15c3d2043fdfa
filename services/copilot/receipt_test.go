// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

package copilot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReceiptFallbackPatterns(t *testing.T) {
	text := "Acme Store\n3 x USB-C Cable\nPaper 500 sheets $4.99\nStapler 2"
	got := parseReceiptFallback(text, "2025-03-10")

	assert.Equal(t, "Acme Store", got.Vendor)
	assert.Equal(t, "2025-03-10", got.Date)
	require.Len(t, got.Items, 3)

	assert.Equal(t, "USB-C Cable", got.Items[0].Name)
	assert.Equal(t, 3.0, got.Items[0].Quantity)
	assert.Equal(t, "units", got.Items[0].Unit)
	assert.Equal(t, "electronics", got.Items[0].Category)
	assert.Equal(t, "Acme Store", got.Items[0].Vendor)
	assert.Nil(t, got.Items[0].Price)

	assert.Equal(t, "Paper", got.Items[1].Name)
	assert.Equal(t, 500.0, got.Items[1].Quantity)
	assert.Equal(t, "sheets", got.Items[1].Unit)
	require.NotNil(t, got.Items[1].Price)
	assert.Equal(t, 4.99, *got.Items[1].Price)

	assert.Equal(t, "Stapler", got.Items[2].Name)
	assert.Equal(t, 2.0, got.Items[2].Quantity)
	assert.Equal(t, "units", got.Items[2].Unit)
}

func TestParseReceiptFallbackCommaLines(t *testing.T) {
	// Lines that match neither pattern fall back to "name, qty" splitting.
	text := "Corner Shop\nmilk, 2\nbread,"
	got := parseReceiptFallback(text, "2025-03-10")

	require.Len(t, got.Items, 2)
	assert.Equal(t, "milk", got.Items[0].Name)
	assert.Equal(t, 2.0, got.Items[0].Quantity)
	assert.Equal(t, "groceries", got.Items[0].Category)
	assert.Equal(t, "bread", got.Items[1].Name)
	assert.Equal(t, 1.0, got.Items[1].Quantity)
}

func TestParseReceiptFallbackSkipsShortLines(t *testing.T) {
	got := parseReceiptFallback("Vendor\n-\n3 x Cable", "2025-03-10")
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Cable", got.Items[0].Name)
}

func TestParseReceiptFallbackTruncatesLongVendor(t *testing.T) {
	long := ""
	for i := 0; i < 30; i++ {
		long += "vendorname"
	}
	got := parseReceiptFallback(long+"\n3 x Cable", "2025-03-10")
	assert.Len(t, got.Vendor, 100)
}

func TestNormalizeReceiptItems(t *testing.T) {
	price := 9.5
	in := ReceiptExtraction{
		Vendor: "  Acme  ",
		Date:   "2025-03-10",
		Items: []ReceiptItem{
			{Name: "   ", Quantity: 3},
			{Name: "Cable", Quantity: -2, Unit: "", Category: ""},
			{Name: "Milk", Quantity: 2, Unit: "liters", Category: "Groceries", Vendor: "Dairy Co", Price: &price},
		},
	}
	got := normalizeReceiptItems(in)

	assert.Equal(t, "Acme", got.Vendor)
	require.Len(t, got.Items, 2)

	cable := got.Items[0]
	assert.Equal(t, "Cable", cable.Name)
	assert.Equal(t, 1.0, cable.Quantity)
	assert.Equal(t, "units", cable.Unit)
	assert.Equal(t, "electronics", cable.Category)
	assert.Equal(t, "Acme", cable.Vendor)

	milk := got.Items[1]
	assert.Equal(t, "groceries", milk.Category)
	assert.Equal(t, "Dairy Co", milk.Vendor)
	require.NotNil(t, milk.Price)
	assert.Equal(t, 9.5, *milk.Price)
}

func TestParseReceiptPrefersModelExtraction(t *testing.T) {
	svc := newTestService(t, &stubLLM{
		jsonOut: `{"vendor":"Acme","date":"2025-01-02","items":[{"name":"Cable","quantity":0,"unit":""}]}`,
	})
	got := svc.ParseReceipt(context.Background(), Identity{}, "whatever text")

	assert.Equal(t, "Acme", got.Vendor)
	assert.Equal(t, "2025-01-02", got.Date)
	require.Len(t, got.Items, 1)
	// Hygiene rules apply to model output too.
	assert.Equal(t, 1.0, got.Items[0].Quantity)
	assert.Equal(t, "units", got.Items[0].Unit)
	assert.Equal(t, "electronics", got.Items[0].Category)
}

func TestParseReceiptFallsBackOnModelFailure(t *testing.T) {
	svc := newTestService(t, &stubLLM{jsonOut: `not json at all`})
	svc.now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }

	got := svc.ParseReceipt(context.Background(), Identity{}, "Acme Store\n3 x Cable")
	assert.Equal(t, "Acme Store", got.Vendor)
	assert.Equal(t, "2025-03-10", got.Date)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Cable", got.Items[0].Name)
}

func TestParseReceiptDeterministicWithoutModel(t *testing.T) {
	svc := newTestService(t, nil)
	svc.now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }

	got := svc.ParseReceipt(context.Background(), Identity{}, "Acme Store\nPaper 500 sheets")
	assert.Equal(t, "2025-03-10", got.Date)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "office", got.Items[0].Category)
}
