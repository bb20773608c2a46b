package usage

import "strings"

// Pricing is the USD price per million tokens for a model family.
type Pricing struct {
	Input      float64
	Output     float64
	CacheWrite float64
	CacheRead  float64
}

// pricingTable is matched by substring against the model name, first match
// wins.
var pricingTable = []struct {
	family  string
	pricing Pricing
}{
	{"opus", Pricing{Input: 15, Output: 75, CacheWrite: 18.75, CacheRead: 1.5}},
	{"sonnet", Pricing{Input: 3, Output: 15, CacheWrite: 3.75, CacheRead: 0.3}},
	{"claude-3-haiku", Pricing{Input: 0.25, Output: 1.25, CacheWrite: 0.3, CacheRead: 0.03}},
	{"haiku", Pricing{Input: 0.8, Output: 4, CacheWrite: 1, CacheRead: 0.08}},
}

// PricingFor returns the pricing for model and whether it is known.
func PricingFor(model string) (Pricing, bool) {
	m := strings.ToLower(model)
	for _, e := range pricingTable {
		if strings.Contains(m, e.family) {
			return e.pricing, true
		}
	}
	return Pricing{}, false
}

// EstimateCost returns the USD cost of the token counts for model. Unknown
// models cost zero.
func EstimateCost(model string, input, output, cacheRead, cacheCreation int64) float64 {
	p, ok := PricingFor(model)
	if !ok {
		return 0
	}
	const perMillion = 1_000_000.0
	return (float64(input)*p.Input +
		float64(output)*p.Output +
		float64(cacheRead)*p.CacheRead +
		float64(cacheCreation)*p.CacheWrite) / perMillion
}
