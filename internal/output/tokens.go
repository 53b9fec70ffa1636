package output

import (
	"fmt"
	"strconv"
	"unicode/utf8"
)

// DefaultBudget is the assumed context window when none is configured.
// Dead-code reports in toon format are written for model consumption;
// oversized ones get truncated against this budget.
const DefaultBudget = 128000

// CharsPerToken is the approximate character-to-token ratio for code-heavy
// text.
const CharsPerToken = 4.0

// EstimateTokens returns an approximate token count for the given text,
// using a character-based heuristic. Good enough for budget guards; exact
// counts need a tokenizer.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	runes := utf8.RuneCountInString(text)
	return int(float64(runes)/CharsPerToken + 0.5)
}

// FormatTokenCount formats a token count for display. Counts of a thousand
// or more render as "X.Xk".
func FormatTokenCount(tokens int) string {
	if tokens >= 1000 {
		return fmt.Sprintf("%.1fk", float64(tokens)/1000)
	}
	return strconv.Itoa(tokens)
}

// WithinBudget reports whether text fits the token budget. budget <= 0
// means DefaultBudget.
func WithinBudget(text string, budget int) bool {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return EstimateTokens(text) <= budget
}
