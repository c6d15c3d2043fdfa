// Copyright (C) 2025 OpsDeck Labs (eng@opsdeck.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/> for the full license text.

package copilot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeReceiptTextPlain(t *testing.T) {
	raw := "Acme Store\n\n\n3 x USB-C   Cable\n\tPaper\t500 sheets"
	got := NormalizeReceiptText(raw)
	assert.Equal(t, "Acme Store\n3 x USB-C Cable\n Paper 500 sheets", got)
}

func TestNormalizeReceiptTextHTML(t *testing.T) {
	raw := `<html><body><div>Acme Store</div><table><tr><td>3 x Cable</td></tr><tr><td>Paper &amp; Pens</td></tr></table></body></html>`
	got := NormalizeReceiptText(raw)
	assert.Contains(t, got, "Acme Store")
	assert.Contains(t, got, "3 x Cable")
	assert.Contains(t, got, "Paper & Pens")
	assert.NotContains(t, got, "<")
}

func TestNormalizeReceiptTextBrTags(t *testing.T) {
	raw := `<div>Acme Store<br>3 x Cable<br/>2 x Adapter</div>`
	got := NormalizeReceiptText(raw)
	assert.Contains(t, got, "Acme Store")
	assert.Contains(t, got, "\n")
}

func TestNormalizeItemName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  USB-C   Cable  ", "usb-c cable"},
		{"Printer\tPaper", "printer paper"},
		{"soap", "soap"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeItemName(tt.in))
	}
}

func TestSuggestCategory(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"USB-C Cable", "electronics"},
		{"HDMI adapter", "electronics"},
		{"A4 Paper", "office"},
		{"Whole Milk", "groceries"},
		{"Dish Soap", "supplies"},
		{"Mystery Widget", "general"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SuggestCategory(tt.name))
	}
}
