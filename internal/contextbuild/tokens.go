package contextbuild

import "strings"

// EstimateTokens is a conservative heuristic: whitespace-separated words
// plus a surcharge for punctuation-heavy runs, roughly 1.3 tokens per word.
// It intentionally overestimates so budgets fail safe.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	punct := 0
	for _, r := range text {
		switch r {
		case '.', ',', ';', ':', '!', '?', '(', ')', '[', ']', '{', '}', '"', '\'', '`':
			punct++
		}
	}
	return words + (words+2)/3 + punct/2
}
