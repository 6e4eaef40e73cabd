package costs

import (
	"math"
	"strings"
)

// ModelPrice is the USD cost per 1,000 tokens.
type ModelPrice struct {
	InputPer1K  float64 `yaml:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k"`
}

// Calculator prices token usage. It is read-only after construction and
// safe for concurrent use.
type Calculator struct {
	prices map[string]ModelPrice
}

// NewCalculator creates a calculator over a copy of prices.
func NewCalculator(prices map[string]ModelPrice) *Calculator {
	cp := make(map[string]ModelPrice, len(prices))
	for k, v := range prices {
		cp[k] = v
	}
	return &Calculator{prices: cp}
}

// Pricing returns the price for model and whether any entry matched.
func (c *Calculator) Pricing(model string) (ModelPrice, bool) {
	if p, ok := c.prices[model]; ok {
		return p, true
	}

	var (
		best    ModelPrice
		bestLen int
	)
	for pattern, p := range c.prices {
		if pattern != "default" && strings.HasPrefix(model, pattern) && len(pattern) > bestLen {
			best, bestLen = p, len(pattern)
		}
	}
	if bestLen > 0 {
		return best, true
	}

	p, ok := c.prices["default"]
	return p, ok
}

// Cost returns the USD cost of the given usage, rounded to six decimals.
func (c *Calculator) Cost(model string, promptTokens, completionTokens int) float64 {
	p, _ := c.Pricing(model)
	cost := calculateTokenCost(promptTokens, p.InputPer1K) + calculateTokenCost(completionTokens, p.OutputPer1K)
	return math.Round(cost*1e6) / 1e6
}

func calculateTokenCost(tokens int, per1K float64) float64 {
	return float64(tokens) / 1000.0 * per1K
}
