package memory

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/ayureze/astra/internal/provider"
)

// DefaultDimension matches the sentence-embedding model used in production.
const DefaultDimension = 384

// Embedder turns text into a fixed-size vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// HashEmbedder produces a deterministic pseudo-random unit vector seeded by
// the text hash. Vectors carry no meaning: only identical text lands on the
// same point.
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder creates a fallback embedder.
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &HashEmbedder{dimension: dimension}
}

func (h *HashEmbedder) Dimension() int { return h.dimension }

func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	rng := rand.New(rand.NewPCG(binary.LittleEndian.Uint64(sum[0:8]), binary.LittleEndian.Uint64(sum[8:16])))
	v := make([]float32, h.dimension)
	var norm float64
	for i := range v {
		f := rng.NormFloat64()
		v[i] = float32(f)
		norm += f * f
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range v {
			v[i] = float32(float64(v[i]) / norm)
		}
	}
	return v, nil
}

// ProviderEmbedder adapts a provider embedding endpoint.
type ProviderEmbedder struct {
	embedder  provider.Embedder
	model     string
	dimension int
}

// NewProviderEmbedder wraps a provider. Dimension must match what the
// model returns.
func NewProviderEmbedder(e provider.Embedder, model string, dimension int) *ProviderEmbedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &ProviderEmbedder{embedder: e, model: model, dimension: dimension}
}

func (p *ProviderEmbedder) Dimension() int { return p.dimension }

func (p *ProviderEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.embedder.Embed(ctx, &provider.EmbeddingRequest{Input: text, Model: p.model})
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	if len(resp.Vector) != p.dimension {
		return nil, fmt.Errorf("embedding dimension %d, expected %d", len(resp.Vector), p.dimension)
	}
	return resp.Vector, nil
}

// FallbackEmbedder tries primary and falls back to a hash embedder of the
// same dimension when it fails.
type FallbackEmbedder struct {
	primary  Embedder
	fallback *HashEmbedder
}

// NewFallbackEmbedder creates an embedder that never fails.
func NewFallbackEmbedder(primary Embedder) *FallbackEmbedder {
	dim := DefaultDimension
	if primary != nil {
		dim = primary.Dimension()
	}
	return &FallbackEmbedder{primary: primary, fallback: NewHashEmbedder(dim)}
}

func (f *FallbackEmbedder) Dimension() int { return f.fallback.Dimension() }

func (f *FallbackEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.primary != nil {
		v, err := f.primary.Embed(ctx, text)
		if err == nil {
			return v, nil
		}
		slog.Warn("Embedding failed, using hash fallback", "error", err)
	}
	return f.fallback.Embed(ctx, text)
}
