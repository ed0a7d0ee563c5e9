// Package embed implements the streaming text-to-vector pipeline (E):
// composite text assembly, batch encoding, int8 quantization, and
// resumable dual-table writes (spec §4.6). Grounded on the teacher's
// internal/llm GenerateEmbedding (encoder client shape) and
// internal/clustering/semantic.go (vector-similarity conventions), adapted
// from rcliao-briefly's single-article float64 embeddings to this spec's
// fixed-dimension, quantized, batch pipeline.
package embed

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/store"
)

// segment is one labeled composite-text part, in the fixed truncation-
// priority order spec §4.6 requires.
type segment struct {
	label string
	value string
}

// CompositeText builds the single text fed to the encoder for one artwork,
// in the exact truncation-priority order the spec fixes: Title, Creator,
// Subjects, Narrative, Inscriptions, Description. Empty segments are
// omitted entirely (not emitted as "[Label]" with nothing after it). An
// artwork with no Tier-2 fields at all yields the empty string, which the
// caller must skip (spec §8 round-trip law).
func CompositeText(a store.ArtworkForEmbedding) string {
	segments := []segment{
		{"Title", a.Title},
		{"Creator", a.CreatorLabel},
		{"Subjects", strings.Join(a.Subjects, ", ")},
		{"Narrative", a.Narrative},
		{"Inscriptions", a.Inscription},
		{"Description", a.Description},
	}

	var parts []string
	for _, s := range segments {
		v := strings.TrimSpace(s.value)
		if v == "" {
			continue
		}
		parts = append(parts, "["+s.label+"] "+v)
	}
	return strings.Join(parts, " ")
}

// SourceHash returns a short, stable hash of the composite text for
// debuggability (spec §4.6 "source text and a short hash of it are
// retained").
func SourceHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}

// Quantize maps an L2-normalized float32 vector from [-1,1] to int8
// [-127,127] with saturation (spec §3 Artwork embedding entity, §4.6
// Quantization, §8 round-trip law). v is expected unit-norm but the
// clamp makes the function total regardless.
func Quantize(v []float32) []int8 {
	out := make([]int8, len(v))
	for i, x := range v {
		scaled := x * 127
		switch {
		case scaled > 127:
			scaled = 127
		case scaled < -127:
			scaled = -127
		}
		out[i] = int8(scaled)
	}
	return out
}

// Dequantize reverses Quantize approximately (int8/127), used only by
// tests asserting the round-trip law's error bound.
func Dequantize(v []int8) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x) / 127
	}
	return out
}
