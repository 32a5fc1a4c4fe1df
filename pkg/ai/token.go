package ai

import (
	"github.com/pkoukk/tiktoken-go"
)

// CountTokens returns the number of tokens in a string for a specific model.
func CountTokens(model string, text string) (int, error) {
	// Get the encoding for the model (e.g., gpt-4 uses 'cl100k_base')
	tkm, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Unknown model: fall back to the cl100k_base encoding
		tkm, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return 0, err
		}
	}

	tokenIds := tkm.Encode(text, nil, nil)
	return len(tokenIds), nil
}

// EstimateCost prices input tokens against the per-1k pricing map from
// config. Unknown models get a conservative default so the budget breaker
// errs toward blocking rather than free rides.
func EstimateCost(tokens int, model string, pricing map[string]float64) float64 {
	pricePer1k, ok := pricing[model]
	if !ok {
		pricePer1k = 0.01
	}
	return (float64(tokens) / 1000.0) * pricePer1k
}
