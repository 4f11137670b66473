package embedder

import (
	"context"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// trigramWeight scales character trigrams relative to whole tokens
const trigramWeight = 0.5

// LocalProvider embeds text offline by hashing tokens and character trigrams into a
// fixed number of buckets. Equal text always yields an equal vector, and texts sharing
// words or word fragments land close together in L2 space.
type LocalProvider struct {
	model     string
	dimension int
	cache     *Cache
}

// NewLocalProvider creates a local embedder. dimension <= 0 selects LocalDimension.
func NewLocalProvider(dimension int, cache *Cache) (*LocalProvider, error) {
	if dimension <= 0 {
		dimension = LocalDimension
	}
	return &LocalProvider{
		model:     DefaultLocalModel,
		dimension: dimension,
		cache:     cache,
	}, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	hash := ComputeHash(req.Text)
	if l.cache != nil {
		if emb, ok := l.cache.Get(hash); ok {
			return emb, nil
		}
	}

	vector := make([]float32, l.dimension)
	for _, token := range tokenize(req.Text) {
		l.accumulate(vector, token, 1)
		if len(token) > 3 {
			padded := "^" + token + "$"
			for i := 0; i+3 <= len(padded); i++ {
				l.accumulate(vector, padded[i:i+3], trigramWeight)
			}
		}
	}

	emb := &Embedding{
		Vector:    NormalizeVector(vector),
		Dimension: l.dimension,
		Provider:  ProviderLocal,
		Model:     l.model,
		Hash:      hash,
	}
	if l.cache != nil {
		l.cache.Set(hash, emb)
	}
	return emb, nil
}

// accumulate adds a signed weight for feature into its bucket
func (l *LocalProvider) accumulate(vector []float32, feature string, weight float32) {
	h := xxhash.Sum64String(feature)
	bucket := h % uint64(len(vector))
	if h>>63 == 1 {
		weight = -weight
	}
	vector[bucket] += weight
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}

// tokenize lowercases text and splits it on anything that is not a letter or digit
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
