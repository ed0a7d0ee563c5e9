package embed

import (
	"context"
	"fmt"
	"math"

	"google.golang.org/genai"
)

// Encoder is the text-to-vector contract spec §4.6 fixes: a callable from
// a list of strings (with a provider-specified per-query prefix) to an
// L2-normalized float matrix of shape (N, D). Any encoder — a hosted API
// or a local ONNX/sentence-transformers-style model — can implement this;
// the pipeline only depends on the interface.
type Encoder interface {
	EmbedBatch(ctx context.Context, texts []string, prefix string) ([][]float32, error)
	Dimensions() int
}

// GeminiEncoder adapts the teacher's internal/llm GenerateEmbedding
// (single-text, gemini-embedding-001, Matryoshka OutputDimensionality) to
// the batch Encoder contract: one EmbedContent call carrying N contents,
// each vector re-normalized on the way out so every Encoder implementation
// honors the same unit-norm guarantee regardless of what the provider
// returns natively.
type GeminiEncoder struct {
	client     *genai.Client
	model      string
	dimensions int32
}

// NewGeminiEncoder builds an encoder bound to model, requesting dimensions
// output values via Matryoshka truncation (spec fixes D, e.g. 384).
func NewGeminiEncoder(client *genai.Client, model string, dimensions int) *GeminiEncoder {
	return &GeminiEncoder{client: client, model: model, dimensions: int32(dimensions)}
}

func (e *GeminiEncoder) Dimensions() int { return int(e.dimensions) }

// EmbedBatch prefixes every text (e.g. "passage: " for documents, "query: "
// for queries — the multilingual-e5 convention this repo's original
// encoder followed) and requests one embedding per input in a single call.
func (e *GeminiEncoder) EmbedBatch(ctx context.Context, texts []string, prefix string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = &genai.Content{
			Parts: []*genai.Part{{Text: prefix + t}},
			Role:  "user",
		}
	}

	dims := e.dimensions
	config := &genai.EmbedContentConfig{OutputDimensionality: &dims}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("embed batch of %d texts: %w", len(texts), err)
	}
	if resp == nil {
		return nil, fmt.Errorf("embed batch: nil response")
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed batch: expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}

	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("embed batch: nil embedding at index %d", i)
		}
		out[i] = l2Normalize(emb.Values)
	}
	return out, nil
}

// l2Normalize scales v to unit length; a zero vector is returned unchanged
// (undefined direction, but callers never quantize an all-zero vector into
// anything meaningful either way).
func l2Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSq))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// CosineDistance computes 1 - cosine_similarity(a, b), matching
// sqlite-vec's vec_distance_cosine so the validation pass (spec §4.6) can
// compare KNN results against a brute-force scan on equal footing.
func CosineDistance(a, b []int8) float64 {
	var dot, normA, normB float64
	for i := range a {
		fa, fb := float64(a[i]), float64(b[i])
		dot += fa * fb
		normA += fa * fa
		normB += fb * fb
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
