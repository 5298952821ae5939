package jobs

import (
	"strings"

	"github.com/jackzampolin/takeoff/internal/providers"
)

// Price is a model's list price in USD per million tokens.
type Price struct {
	Prompt     float64
	Completion float64
}

// prices is used when a provider does not report cost itself.
var prices = map[string]Price{
	"anthropic/claude-sonnet-4":   {Prompt: 3, Completion: 15},
	"anthropic/claude-3.7-sonnet": {Prompt: 3, Completion: 15},
	"anthropic/claude-3.5-haiku":  {Prompt: 0.8, Completion: 4},
	"openai/gpt-4o":               {Prompt: 2.5, Completion: 10},
	"openai/gpt-4o-mini":          {Prompt: 0.15, Completion: 0.6},
	"openai/gpt-4.1":              {Prompt: 2, Completion: 8},
	"openai/gpt-4.1-mini":         {Prompt: 0.4, Completion: 1.6},
	"google/gemini-2.5-flash":     {Prompt: 0.3, Completion: 2.5},
	"google/gemini-2.5-pro":       {Prompt: 1.25, Completion: 10},
}

// LookupPrice finds a model's price. Provider prefixes and bare OpenAI
// model names are accepted.
func LookupPrice(model string) (Price, bool) {
	_, name := providers.ParseModelID(model)
	name = strings.ToLower(name)
	if p, ok := prices[name]; ok {
		return p, true
	}
	if !strings.Contains(name, "/") {
		if p, ok := prices["openai/"+name]; ok {
			return p, true
		}
	}
	return Price{}, false
}

// EstimateCost prices a call. Unknown models cost zero.
func EstimateCost(model string, promptTokens, completionTokens int) float64 {
	p, ok := LookupPrice(model)
	if !ok {
		return 0
	}
	return (float64(promptTokens)*p.Prompt + float64(completionTokens)*p.Completion) / 1e6
}
