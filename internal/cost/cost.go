package cost

import (
	"fmt"
	"strconv"
	"strings"
)

// Rate holds per-1M-token pricing in USD at the batch-discounted tier.
type Rate struct {
	Prompt     float64 // USD per 1M prompt tokens
	Completion float64 // USD per 1M completion tokens
}

// DefaultRates contains hardcoded per-model pricing. Models missing here
// report zero cost; callers should surface that rather than hide it.
var DefaultRates = map[string]Rate{
	"gpt-5-mini": {Prompt: 0.075, Completion: 0.30},
}

// Calculate returns the estimated cost in USD for the given token counts.
func Calculate(model string, promptTokens, completionTokens int64) float64 {
	rate, ok := DefaultRates[model]
	if !ok {
		return 0
	}
	promptCost := float64(promptTokens) / 1_000_000 * rate.Prompt
	completionCost := float64(completionTokens) / 1_000_000 * rate.Completion
	return promptCost + completionCost
}

// Known reports whether pricing exists for a model.
func Known(model string) bool {
	_, ok := DefaultRates[model]
	return ok
}

// FormatUSD formats a cost as a dollar string (e.g. "$0.42" or "$1.23").
func FormatUSD(cost float64) string {
	return fmt.Sprintf("$%.2f", cost)
}

// FormatRate returns a display string for a model's rate
// (e.g. "$0.075/$0.30 per 1M tokens").
func FormatRate(model string) string {
	rate, ok := DefaultRates[model]
	if !ok {
		return "unknown pricing"
	}
	return fmt.Sprintf("$%s/$%s per 1M tokens", formatPrice(rate.Prompt), formatPrice(rate.Completion))
}

// formatPrice renders a per-1M rate with at least two decimals, keeping
// sub-cent precision intact.
func formatPrice(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i < 0 || len(s)-i-1 < 2 {
		return strconv.FormatFloat(v, 'f', 2, 64)
	}
	return s
}
