// Package usage implements cost accounting: per-model pricing, budget
// admission, usage recording with threshold alerts, and period resets.
package usage

import "sync"

// ModelRates prices one model in micro-dollars per token
type ModelRates struct {
	InputMicrosPerToken  float64 `json:"input_micros_per_token" yaml:"input_micros_per_token"`
	OutputMicrosPerToken float64 `json:"output_micros_per_token" yaml:"output_micros_per_token"`
}

// PricingTable maps model ids to rates. Unknown models cost zero; that
// is deliberate so an unpriced model never blocks traffic.
type PricingTable struct {
	mu    sync.RWMutex
	rates map[string]ModelRates
}

// defaultRates covers the commonly routed models, priced per token
var defaultRates = map[string]ModelRates{
	"gpt-4o":                    {InputMicrosPerToken: 2.5, OutputMicrosPerToken: 10},
	"gpt-4o-mini":               {InputMicrosPerToken: 0.15, OutputMicrosPerToken: 0.6},
	"gpt-4-turbo":               {InputMicrosPerToken: 10, OutputMicrosPerToken: 30},
	"gpt-3.5-turbo":             {InputMicrosPerToken: 0.5, OutputMicrosPerToken: 1.5},
	"claude-3-5-sonnet-latest":  {InputMicrosPerToken: 3, OutputMicrosPerToken: 15},
	"claude-3-5-haiku-latest":   {InputMicrosPerToken: 0.8, OutputMicrosPerToken: 4},
	"claude-3-opus-latest":      {InputMicrosPerToken: 15, OutputMicrosPerToken: 75},
	"text-embedding-3-small":    {InputMicrosPerToken: 0.02},
	"text-embedding-3-large":    {InputMicrosPerToken: 0.13},
}

// NewPricingTable creates a table seeded with the default rates
func NewPricingTable() *PricingTable {
	rates := make(map[string]ModelRates, len(defaultRates))
	for model, r := range defaultRates {
		rates[model] = r
	}
	return &PricingTable{rates: rates}
}

// SetRates overrides or adds the rates for a model
func (p *PricingTable) SetRates(model string, rates ModelRates) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rates[model] = rates
}

// Rates returns the rates for a model and whether it is priced
func (p *PricingTable) Rates(model string) (ModelRates, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.rates[model]
	return r, ok
}

// Cost computes the micro-dollar cost of a completion. Unknown models
// cost zero.
func (p *PricingTable) Cost(model string, inputTokens, outputTokens int) int64 {
	r, ok := p.Rates(model)
	if !ok {
		return 0
	}
	cost := float64(inputTokens)*r.InputMicrosPerToken + float64(outputTokens)*r.OutputMicrosPerToken
	return int64(cost)
}
