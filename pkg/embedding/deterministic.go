package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// Deterministic derives a pseudo-random unit vector from the SHA-256 of the
// input text. Identical texts always map to identical vectors, so exact
// repeats still match in the cold tier, but there is no semantic signal.
//
// This exists for two reasons only: tests, and deployments that have not
// configured an embedding credential. It is not an acceptable stand-in for
// a real embedding model in production; main.go warns loudly when it is
// selected, and the cold tier reports "deterministic" as its provider so
// audit entries make the degradation visible.
type Deterministic struct {
	dims int
}

// NewDeterministic creates the fallback provider.
func NewDeterministic(dims int) *Deterministic {
	if dims <= 0 {
		dims = 256
	}
	return &Deterministic{dims: dims}
}

func (d *Deterministic) Name() string    { return "deterministic" }
func (d *Deterministic) Dimensions() int { return d.dims }

// EmbedQuery expands the text hash into d.dims floats in [-1, 1) and
// normalizes the result to unit length.
func (d *Deterministic) EmbedQuery(_ context.Context, text string) ([]float64, error) {
	seed := sha256.Sum256([]byte(text))

	vec := make([]float64, d.dims)
	block := seed
	var norm float64
	for i := 0; i < d.dims; i++ {
		if i%4 == 0 && i > 0 {
			block = sha256.Sum256(block[:])
		}
		bits := binary.BigEndian.Uint64(block[(i%4)*8 : (i%4)*8+8])
		v := float64(int64(bits)) / math.MaxInt64 // in [-1, 1)
		vec[i] = v
		norm += v * v
	}

	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}
