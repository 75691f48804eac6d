package budget

import (
	"sort"
	"strings"
)

// Pricing is USD per million tokens.
type Pricing struct {
	InputPerMillion  float64 `koanf:"input" json:"input"`
	OutputPerMillion float64 `koanf:"output" json:"output"`
}

// DefaultPricing covers the models the connectors are usually configured with. Keys match
// exactly or as a prefix of the model id, longest prefix first.
var DefaultPricing = map[string]Pricing{
	"gpt-4o-mini":       {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"gpt-4o":            {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gpt-4.1-mini":      {InputPerMillion: 0.40, OutputPerMillion: 1.60},
	"gpt-4.1":           {InputPerMillion: 2.00, OutputPerMillion: 8.00},
	"claude-3-5-haiku":  {InputPerMillion: 0.80, OutputPerMillion: 4.00},
	"claude-3-5-sonnet": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-sonnet-4":   {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"gemini-2.0-flash":  {InputPerMillion: 0.10, OutputPerMillion: 0.40},
	"gemini-1.5-flash":  {InputPerMillion: 0.075, OutputPerMillion: 0.30},
	"command-r":         {InputPerMillion: 0.15, OutputPerMillion: 0.60},
}

// FallbackPricing is charged for unknown models so that spend is never under-counted.
var FallbackPricing = Pricing{InputPerMillion: 3.00, OutputPerMillion: 15.00}

// Cost computes the USD cost of a call.
func (p Pricing) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1e6*p.InputPerMillion + float64(outputTokens)/1e6*p.OutputPerMillion
}

type pricingTable struct {
	exact    map[string]Pricing
	prefixes []string
}

func newPricingTable(m map[string]Pricing) pricingTable {
	t := pricingTable{exact: make(map[string]Pricing, len(m))}
	for k, v := range m {
		k = strings.ToLower(k)
		t.exact[k] = v
		t.prefixes = append(t.prefixes, k)
	}
	sort.Slice(t.prefixes, func(i, j int) bool { return len(t.prefixes[i]) > len(t.prefixes[j]) })
	return t
}

// lookup returns the pricing for model and whether it was known. Ollama and other local
// models are free when listed with zero prices.
func (t pricingTable) lookup(model string) (Pricing, bool) {
	m := strings.ToLower(model)
	if p, ok := t.exact[m]; ok {
		return p, true
	}
	for _, prefix := range t.prefixes {
		if strings.HasPrefix(m, prefix) {
			return t.exact[prefix], true
		}
	}
	return FallbackPricing, false
}
