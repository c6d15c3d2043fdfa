// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

package copilot

import (
	"html"
	"regexp"
	"strings"
)

// =============================================================================
// Receipt Text Normalization
// =============================================================================

var (
	htmlTokenPattern    = regexp.MustCompile(`(?i)<\s*(html|table|tr|td|div|br|body)\b`)
	brTagPattern        = regexp.MustCompile(`(?i)<\s*br\s*/?\s*>`)
	blockClosePattern   = regexp.MustCompile(`(?i)</\s*(p|div|tr|li|h[1-6])\s*>`)
	anyTagPattern       = regexp.MustCompile(`<[^>]+>`)
	runSpacesPattern    = regexp.MustCompile(`[ \t]+`)
	multiNewlinePattern = regexp.MustCompile(`\n{2,}`)
)

// NormalizeReceiptText flattens pasted receipt text into clean plain-text
// lines. HTML-looking input has line-break and block-close tags converted to
// newlines before all remaining tags are stripped and entities unescaped.
// Horizontal whitespace runs collapse to one space and blank-line runs to a
// single newline.
func NormalizeReceiptText(raw string) string {
	text := raw
	if htmlTokenPattern.MatchString(text) {
		text = brTagPattern.ReplaceAllString(text, "\n")
		text = blockClosePattern.ReplaceAllString(text, "\n")
		text = anyTagPattern.ReplaceAllString(text, " ")
		text = html.UnescapeString(text)
	}
	text = runSpacesPattern.ReplaceAllString(text, " ")
	text = multiNewlinePattern.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text)
}

// NormalizeItemName lowercases and trims an item name and collapses interior
// whitespace, producing the canonical key used for duplicate detection.
func NormalizeItemName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// =============================================================================
// Category Suggestion
// =============================================================================

// categoryRules maps keyword groups to a category, evaluated in order with
// first match winning.
var categoryRules = []struct {
	keywords []string
	category string
}{
	{[]string{"cable", "usb", "charger", "adapter", "ssd", "hdmi"}, "electronics"},
	{[]string{"paper", "pen", "notebook", "marker"}, "office"},
	{[]string{"milk", "bread", "fruit", "water", "snack", "coffee"}, "groceries"},
	{[]string{"cleaner", "soap", "detergent", "tissue"}, "supplies"},
}

// SuggestCategory classifies an item name into a coarse category by keyword
// lookup, defaulting to "general".
func SuggestCategory(name string) string {
	lowered := strings.ToLower(name)
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lowered, kw) {
				return rule.category
			}
		}
	}
	return "general"
}
