package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// DefaultHashingDimensions is the vector width of the Hashing embedder.
const DefaultHashingDimensions = 512

var _ Embedder = (*Hashing)(nil)

// Hashing is a local, deterministic bag-of-words embedder. Each lowercase
// token (and each adjacent token pair) is hashed into a signed bucket and the
// result is L2-normalized. It needs no network and is used in dev mode and
// tests; texts that share words score higher than texts that do not.
type Hashing struct {
	dims int
}

// NewHashing returns a Hashing embedder with dims buckets.
func NewHashing(dims int) *Hashing {
	if dims <= 0 {
		dims = DefaultHashingDimensions
	}
	return &Hashing{dims: dims}
}

// Embed hashes text into a unit vector.
func (h *Hashing) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := make([]float32, h.dims)
	tokens := tokenize(text)
	for i, tok := range tokens {
		h.add(v, tok, 1)
		if i > 0 {
			h.add(v, tokens[i-1]+" "+tok, 0.5)
		}
	}
	normalize(v)
	return v, nil
}

// EmbedBatch embeds each text in order.
func (h *Hashing) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := h.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ModelName identifies the hashing scheme and width.
func (h *Hashing) ModelName() string {
	return "hashing-bow"
}

func (h *Hashing) add(v []float32, token string, weight float32) {
	f := fnv.New64a()
	f.Write([]byte(token))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dims))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
