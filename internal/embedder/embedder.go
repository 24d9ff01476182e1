// Package embedder provides the Embedder trait (spec §4.4, §6) plus a
// deterministic stub implementation and an Ollama-backed implementation
// wrapped for resilience, grounded on the pack's Ollama client and
// circuit-breaker idioms.
package embedder

import "context"

// Embedder turns text into a fixed-dimension vector for VecIndex.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Name() string
}
