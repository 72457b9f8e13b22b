// Package cost estimates, caches, and ledgers the monetary cost of agent
// actions and tracks spend against daily and weekly budgets.
package cost

import (
	"math"

	"github.com/ShayCichocki/reflex/pkg/models"
)

// ModelPricing contains pricing per 1M tokens for a model.
type ModelPricing struct {
	InputPerMillion  float64 // Cost per 1M input tokens
	OutputPerMillion float64 // Cost per 1M output tokens
}

// Cost returns the price of the given token counts.
func (p ModelPricing) Cost(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)/1_000_000*p.InputPerMillion +
		float64(outputTokens)/1_000_000*p.OutputPerMillion
}

// Candidate is one (provider, model) pair that can serve a request.
type Candidate struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

func (c Candidate) key() string {
	return c.Provider + "/" + c.Model
}

// DefaultPricing is keyed by "provider/model".
var DefaultPricing = map[string]ModelPricing{
	"anthropic/claude-3-5-haiku": {InputPerMillion: 0.80, OutputPerMillion: 4.00},
	"anthropic/claude-sonnet-4":  {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"anthropic/claude-opus-4-5":  {InputPerMillion: 15.00, OutputPerMillion: 75.00},
	"openai/gpt-4o-mini":         {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"openai/gpt-4o":              {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"openai/o1":                  {InputPerMillion: 15.00, OutputPerMillion: 60.00},
	"google/gemini-1.5-flash":    {InputPerMillion: 0.075, OutputPerMillion: 0.30},
	"google/gemini-1.5-pro":      {InputPerMillion: 1.25, OutputPerMillion: 5.00},
}

// FallbackPricing is used for models missing from the pricing table.
var FallbackPricing = ModelPricing{InputPerMillion: 3.00, OutputPerMillion: 15.00}

// DefaultCandidates lists the ranked candidates per complexity.
var DefaultCandidates = map[models.Complexity][]Candidate{
	models.ComplexitySimple: {
		{"anthropic", "claude-3-5-haiku"},
		{"openai", "gpt-4o-mini"},
		{"google", "gemini-1.5-flash"},
	},
	models.ComplexityModerate: {
		{"anthropic", "claude-sonnet-4"},
		{"openai", "gpt-4o"},
		{"google", "gemini-1.5-pro"},
	},
	models.ComplexityComplex: {
		{"anthropic", "claude-sonnet-4"},
		{"openai", "gpt-4o"},
		{"anthropic", "claude-opus-4-5"},
	},
	models.ComplexityExpert: {
		{"anthropic", "claude-opus-4-5"},
		{"openai", "o1"},
	},
}

// InputTokenRatio is the heuristic tokens-per-character multiplier.
const InputTokenRatio = 0.25

// outputTokens is the expected completion size per complexity.
var outputTokens = map[models.Complexity]int64{
	models.ComplexitySimple:   250,
	models.ComplexityModerate: 800,
	models.ComplexityComplex:  2000,
	models.ComplexityExpert:   4000,
}

// EstimateInputTokens approximates the token count of a prompt.
// A non-empty prompt is at least one token.
func EstimateInputTokens(prompt string) int64 {
	if prompt == "" {
		return 0
	}
	n := int64(math.Ceil(float64(len(prompt)) * InputTokenRatio))
	if n < 1 {
		n = 1
	}
	return n
}

// EstimateOutputTokens returns the expected completion size, or 0 for an
// unknown complexity.
func EstimateOutputTokens(c models.Complexity) int64 {
	return outputTokens[c]
}
