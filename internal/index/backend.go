// Package index maintains a per-user semantic index over each user's
// symptom ledger and answers relevance queries against it.
package index

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hyperengineering/bridge/internal/embedding"
)

// Defaults for VectorBackend.
const (
	DefaultMinScore = 0.2
	DefaultTopK     = 5
)

// ErrForeignHandle is returned when a Handle from another backend is searched.
var ErrForeignHandle = errors.New("index handle was not built by this backend")

// Handle is an opaque, immutable built index.
type Handle interface {
	Len() int
}

// Hit is one search result; Position indexes the corpus passed to Build.
type Hit struct {
	Position int
	Text     string
	Score    float64
}

// Backend builds and searches immutable indexes over a text corpus.
type Backend interface {
	Build(ctx context.Context, corpus []string) (Handle, error)
	Search(ctx context.Context, h Handle, query string, k int) ([]Hit, error)
	Model() string
}

// VectorBackend embeds the corpus and ranks by cosine similarity.
type VectorBackend struct {
	embedder embedding.Embedder
	minScore float64
	topK     int
}

// NewVectorBackend creates a VectorBackend. Non-positive topK and negative
// minScore fall back to the defaults.
func NewVectorBackend(embedder embedding.Embedder, minScore float64, topK int) *VectorBackend {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if minScore < 0 {
		minScore = DefaultMinScore
	}
	return &VectorBackend{embedder: embedder, minScore: minScore, topK: topK}
}

type vectorHandle struct {
	texts   []string
	vectors [][]float32
}

func (h *vectorHandle) Len() int { return len(h.texts) }

// Build embeds every corpus text. An empty corpus yields an empty handle
// without calling the embedder.
func (b *VectorBackend) Build(ctx context.Context, corpus []string) (Handle, error) {
	texts := append([]string(nil), corpus...)
	if len(texts) == 0 {
		return &vectorHandle{}, nil
	}

	vectors, err := b.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed corpus: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embed corpus: expected %d vectors, got %d", len(texts), len(vectors))
	}
	return &vectorHandle{texts: texts, vectors: vectors}, nil
}

// Search returns up to k hits scoring at least minScore, best first.
// Equal scores rank the later (newer) position first. k <= 0 uses topK.
func (b *VectorBackend) Search(ctx context.Context, h Handle, query string, k int) ([]Hit, error) {
	vh, ok := h.(*vectorHandle)
	if !ok {
		return nil, ErrForeignHandle
	}
	if k <= 0 {
		k = b.topK
	}
	if vh.Len() == 0 {
		return []Hit{}, nil
	}

	q, err := b.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits := make([]Hit, 0, vh.Len())
	for i, v := range vh.vectors {
		score := embedding.CosineSimilarity(q, v)
		if score < b.minScore {
			continue
		}
		hits = append(hits, Hit{Position: i, Text: vh.texts[i], Score: score})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Position > hits[j].Position
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Model names the embedding model behind the backend.
func (b *VectorBackend) Model() string {
	return b.embedder.ModelName()
}
