package embedder

import (
	"context"
	"errors"
	"testing"

	"github.com/mycelicmemory/memcore/internal/backend"
)

type failingEmbedder struct {
	dims int
	err  error
}

func (f *failingEmbedder) Name() string   { return "failing" }
func (f *failingEmbedder) Dimension() int { return f.dims }
func (f *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, f.err
}

func TestResilientOpensCircuitAfterConsecutiveFailures(t *testing.T) {
	inner := &failingEmbedder{dims: 4, err: errors.New("boom")}
	r := NewResilient(inner, ResilientConfig{MaxFailures: 2, MaxRetries: 0})

	for i := 0; i < 2; i++ {
		if _, err := r.Embed(context.Background(), "x"); err == nil {
			t.Fatalf("expected failure on attempt %d", i)
		}
	}

	_, err := r.Embed(context.Background(), "x")
	if !backend.Is(err, backend.KindEmbedderUnavailable) {
		t.Fatalf("expected EmbedderUnavailable once circuit opens, got %v", err)
	}
}

func TestResilientPassesThroughSuccess(t *testing.T) {
	inner := NewStub(8)
	r := NewResilient(inner, ResilientConfig{})

	vec, err := r.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if len(vec) != 8 {
		t.Fatalf("expected 8 dims, got %d", len(vec))
	}
}
