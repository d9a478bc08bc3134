package llm

import "strings"

// modelRate holds USD per million tokens. Cached input is billed at half
// the input rate.
type modelRate struct {
	input  float64
	output float64
}

// Published Gemini rates, USD per 1M tokens.
var modelRates = map[string]modelRate{
	"gemini-2.5-pro":        {input: 1.25, output: 10.00},
	"gemini-2.5-flash":      {input: 0.30, output: 2.50},
	"gemini-2.5-flash-lite": {input: 0.10, output: 0.40},
	"gemini-2.0-flash":      {input: 0.10, output: 0.40},
}

// topTierRate is used for models missing from the table, so cost estimates
// err on the high side rather than silently under-reporting.
var topTierRate = modelRate{input: 1.25, output: 10.00}

func rateFor(model string) modelRate {
	if r, ok := modelRates[model]; ok {
		return r
	}
	// Versioned model IDs ("gemini-2.5-pro-preview-05-06") share base rates.
	for name, r := range modelRates {
		if strings.HasPrefix(model, name) {
			return r
		}
	}
	return topTierRate
}

// EstimateCost returns the estimated USD cost of the given usage. Cached
// prompt tokens are a subset of PromptTokens and are billed at half rate.
func EstimateCost(model string, u Usage) float64 {
	r := rateFor(model)
	fresh := u.PromptTokens - u.CachedTokens
	if fresh < 0 {
		fresh = 0
	}
	cost := float64(fresh) * r.input
	cost += float64(u.CachedTokens) * r.input / 2
	cost += float64(u.CompletionTokens) * r.output
	return cost / 1e6
}
