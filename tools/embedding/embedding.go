package embedding

import (
	"context"
	"math"

	"github.com/mohammad-safakhou/growloop/provider"
)

// Embedding computes semantic vectors through the configured LLM provider.
type Embedding struct {
	provider provider.Provider
}

func NewEmbedding(provider provider.Provider) *Embedding {
	return &Embedding{provider: provider}
}

func (e Embedding) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return e.provider.CreateEmbedding(ctx, texts)
}

// Cosine returns the cosine similarity of two vectors, 0 when either has no
// magnitude or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
