// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

package copilot

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
)

var receiptTracer = otel.Tracer("opsdeck.copilot.receipt")

// ReceiptItem is one extracted line item. Price is optional.
type ReceiptItem struct {
	Name     string   `json:"name"`
	Quantity float64  `json:"quantity"`
	Unit     string   `json:"unit"`
	Vendor   string   `json:"vendor,omitempty"`
	Category string   `json:"category,omitempty"`
	Price    *float64 `json:"price,omitempty"`
}

// ReceiptExtraction is the structured form of a pasted receipt.
type ReceiptExtraction struct {
	Vendor string        `json:"vendor,omitempty"`
	Date   string        `json:"date"`
	Items  []ReceiptItem `json:"items"`
}

// =============================================================================
// Fallback Line Parser
// =============================================================================

var receiptLinePatterns = []*regexp.Regexp{
	// "3 x USB-C Cable"
	regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*[xX]\s*([A-Za-z0-9\-\s]+)$`),
	// "USB-C Cable 3 pcs $12.50"
	regexp.MustCompile(`^([A-Za-z0-9\-\s]+?)\s+(\d+(?:\.\d+)?)\s*([A-Za-z]+)?\s*(?:\$?(\d+(?:\.\d+)?))?$`),
}

// parseReceiptFallback parses normalized receipt text with line patterns:
// the first non-empty line is the vendor, subsequent lines match either a
// "qty x name" or "name qty [unit] [$price]" shape. When no line matches,
// comma-separated "name, qty" lines are accepted as a last resort.
func parseReceiptFallback(text string, today string) ReceiptExtraction {
	var items []ReceiptItem
	vendor := ""

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if len(lines) > 0 {
		vendor = lines[0]
		if len(vendor) > 100 {
			vendor = vendor[:100]
		}
	}

	body := lines
	if len(body) > 0 {
		body = body[1:]
	}
	for _, line := range body {
		if len(line) < 2 {
			continue
		}
		name, qtyText, unit, priceText := "", "", "", ""
		if m := receiptLinePatterns[0].FindStringSubmatch(line); m != nil {
			qtyText, name = m[1], m[2]
		} else if m := receiptLinePatterns[1].FindStringSubmatch(line); m != nil {
			name, qtyText, unit, priceText = m[1], m[2], m[3], m[4]
		} else {
			continue
		}

		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		quantity := 1.0
		if qtyText != "" {
			if q, err := strconv.ParseFloat(qtyText, 64); err == nil {
				quantity = q
			}
		}
		if unit == "" {
			unit = "units"
		}
		item := ReceiptItem{
			Name:     name,
			Quantity: quantity,
			Unit:     strings.ToLower(unit),
			Vendor:   vendor,
			Category: SuggestCategory(name),
		}
		if priceText != "" {
			if p, err := strconv.ParseFloat(priceText, 64); err == nil {
				item.Price = &p
			}
		}
		items = append(items, item)
	}

	if len(items) == 0 {
		// Fallback split by commas for ad-hoc pasted lists.
		for _, line := range body {
			if !strings.Contains(line, ",") {
				continue
			}
			var parts []string
			for _, p := range strings.Split(line, ",") {
				if trimmed := strings.TrimSpace(p); trimmed != "" {
					parts = append(parts, trimmed)
				}
			}
			if len(parts) == 0 {
				continue
			}
			qty := 1.0
			if len(parts) > 1 {
				if q, err := strconv.ParseFloat(parts[1], 64); err == nil {
					qty = q
				}
			}
			items = append(items, ReceiptItem{
				Name:     parts[0],
				Quantity: qty,
				Unit:     "units",
				Vendor:   vendor,
				Category: SuggestCategory(parts[0]),
			})
		}
	}

	return ReceiptExtraction{Vendor: vendor, Date: today, Items: items}
}

// normalizeReceiptItems applies the item hygiene rules: blank names drop,
// non-positive quantities become 1, blank units become "units", a missing
// category is suggested from the name, and a missing item vendor inherits
// the receipt vendor.
func normalizeReceiptItems(extraction ReceiptExtraction) ReceiptExtraction {
	vendor := strings.TrimSpace(extraction.Vendor)
	normalized := make([]ReceiptItem, 0, len(extraction.Items))
	for _, item := range extraction.Items {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			continue
		}
		quantity := item.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		unit := strings.TrimSpace(item.Unit)
		if unit == "" {
			unit = "units"
		}
		category := strings.ToLower(strings.TrimSpace(item.Category))
		if category == "" {
			category = SuggestCategory(name)
		}
		itemVendor := strings.TrimSpace(item.Vendor)
		if itemVendor == "" {
			itemVendor = vendor
		}
		normalized = append(normalized, ReceiptItem{
			Name:     name,
			Quantity: quantity,
			Unit:     unit,
			Vendor:   itemVendor,
			Category: category,
			Price:    item.Price,
		})
	}
	return ReceiptExtraction{Vendor: vendor, Date: extraction.Date, Items: normalized}
}

// ParseReceipt extracts structured items from pasted receipt text.
//
// Description:
//
//	Normalizes markup and whitespace, asks the model for a JSON extraction
//	when available, and falls back to the deterministic line parser on any
//	model failure. The result always passes the item hygiene rules, so
//	callers never see blank names, zero quantities, or missing units.
//
// Thread Safety: Safe for concurrent use.
func (s *Service) ParseReceipt(ctx context.Context, ident Identity, rawText string) ReceiptExtraction {
	ctx, span := receiptTracer.Start(ctx, "copilot.parse_receipt")
	defer span.End()
	start := s.now()

	text := NormalizeReceiptText(rawText)
	today := s.now().UTC().Format("2006-01-02")

	var extraction ReceiptExtraction
	decoded := false
	if s.llm != nil {
		prompt := fmt.Sprintf(
			"Extract receipt fields as JSON with keys vendor,date,items. "+
				"Each item needs name,quantity,unit,vendor(optional),category(optional),price(optional).\nText:\n%s",
			text)
		if raw, err := s.llm.GenerateJSON(ctx, prompt); err == nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, &extraction); err == nil {
				decoded = true
			}
		}
	}
	if !decoded {
		extraction = parseReceiptFallback(text, today)
	}
	if extraction.Date == "" {
		extraction.Date = today
	}
	extraction = normalizeReceiptItems(extraction)

	s.logRun(ctx, ident, "inventory_import_parse", true, s.now().Sub(start), "")
	return extraction
}
