// Package embedding generates the fixed-dimension vectors the cold tier
// matches on. The HTTP provider speaks the OpenAI-compatible /embeddings
// shape; the deterministic provider is scaffolding for deployments without
// an embedding credential and for tests.
package embedding

import (
	"context"
	"math"
)

// Provider turns text into a fixed-dimension embedding vector.
type Provider interface {
	// EmbedQuery embeds a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float64, error)
	// Dimensions returns the vector width this provider produces.
	Dimensions() int
	// Name identifies the provider in logs and audit entries.
	Name() string
}

// Cosine computes cosine similarity between two vectors of equal length.
// Returns 0 for mismatched or zero-magnitude vectors.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
