package output

import (
	"strings"
	"testing"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"four_chars", "abcd", 1},
		{"rounds_up", "abcdef", 2},
		{"forty_chars", strings.Repeat("x", 40), 10},
		{"counts_runes_not_bytes", strings.Repeat("é", 8), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateTokens(tt.text)
			if got != tt.want {
				t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestFormatTokenCount(t *testing.T) {
	tests := []struct {
		tokens int
		want   string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1.0k"},
		{1500, "1.5k"},
		{128000, "128.0k"},
	}

	for _, tt := range tests {
		got := FormatTokenCount(tt.tokens)
		if got != tt.want {
			t.Errorf("FormatTokenCount(%d) = %q, want %q", tt.tokens, got, tt.want)
		}
	}
}

func TestWithinBudget(t *testing.T) {
	if !WithinBudget("short text", 100) {
		t.Error("short text should fit a 100-token budget")
	}
	if WithinBudget(strings.Repeat("x", 800), 100) {
		t.Error("800 chars should exceed a 100-token budget")
	}
	if !WithinBudget(strings.Repeat("x", 800), 0) {
		t.Error("zero budget should fall back to the default")
	}
}
