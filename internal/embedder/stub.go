package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// Stub produces deterministic, unit-length vectors from a SHA-256 hash
// of the input text. Same text always yields the same vector; it is
// not semantically meaningful, only useful for exercising the rest of
// the system (spec §6 embedder_backend=stub) without a model.
type Stub struct {
	dims int
}

// NewStub returns a Stub embedder of the given dimension.
func NewStub(dims int) *Stub {
	return &Stub{dims: dims}
}

func (s *Stub) Name() string   { return "stub" }
func (s *Stub) Dimension() int { return s.dims }

func (s *Stub) Embed(ctx context.Context, text string) ([]float32, error) {
	hash := sha256.Sum256([]byte(text))

	vec := make([]float32, s.dims)
	for i := 0; i < s.dims; i++ {
		start := (i * 4) % (len(hash) - 4)
		val := binary.BigEndian.Uint32(hash[start : start+4])
		vec[i] = float32(val) / float32(math.MaxUint32)
	}

	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	norm = float32(math.Sqrt(float64(norm)))
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}
