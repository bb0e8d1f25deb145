package memory

import (
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Embedder turns text into a unit vector for short-term recall.
type Embedder interface {
	ModelID() string
	Embed(text string) []float32
}

const (
	DefaultEmbeddingModel = "chargram-384-v1"
	hashEmbeddingModel    = "hash-256-v1"
)

// feature is one hashed input to a bucket with its weight.
type feature struct {
	key    string
	weight float32
	signed bool
}

// hashingEmbedder projects features of the input into dims buckets with
// FNV-1a and normalizes the result.
type hashingEmbedder struct {
	modelID  string
	dims     int
	features func(text string) []feature
}

// NewEmbedder returns the local embedder registered under name. Unknown names
// fall back to the character-gram model.
func NewEmbedder(name string) Embedder {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case hashEmbeddingModel, "hash", "hash-256":
		return &hashingEmbedder{modelID: hashEmbeddingModel, dims: 256, features: tokenFeatures}
	default:
		return &hashingEmbedder{modelID: DefaultEmbeddingModel, dims: 384, features: chargramFeatures}
	}
}

func (e *hashingEmbedder) ModelID() string { return e.modelID }

func (e *hashingEmbedder) Embed(text string) []float32 {
	vec := make([]float32, e.dims)
	for _, f := range e.features(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(f.key))
		sum := h.Sum64()
		w := f.weight
		if f.signed && sum&1 == 1 {
			w = -w
		}
		vec[sum%uint64(e.dims)] += w
	}
	normalizeVector(vec)
	return vec
}

// tokenFeatures weights whole words, longer words slightly more.
func tokenFeatures(text string) []feature {
	words := tokenize(text)
	out := make([]feature, 0, len(words))
	for _, w := range words {
		out = append(out, feature{key: w, weight: float32(1 + len(w)/8), signed: true})
	}
	return out
}

// chargramFeatures mixes character trigrams of the padded text with whole
// words, so near-spellings still land close together.
func chargramFeatures(text string) []feature {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return nil
	}
	runes := []rune("#" + normalized + "#")
	out := make([]feature, 0, len(runes))
	for i := 0; i+3 <= len(runes); i++ {
		out = append(out, feature{key: string(runes[i : i+3]), weight: 1})
	}
	for _, w := range tokenize(normalized) {
		out = append(out, feature{key: "tok:" + w, weight: 1.25})
	}
	return out
}

// tokenize splits on anything that is not a letter, digit, '_' or '-'.
// Text without such runs is returned whole.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-'
	})
	if len(words) == 0 {
		return []string{text}
	}
	return words
}

func normalizeVector(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}

// cosineSimilarity assumes both vectors are already normalized.
func cosineSimilarity(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
