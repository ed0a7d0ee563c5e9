package embed

import (
	"math"
	"testing"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/store"
)

func TestCompositeTextOrderAndOmission(t *testing.T) {
	a := store.ArtworkForEmbedding{
		Title:        "Nightwatch study",
		CreatorLabel: "Rembrandt van Rijn",
		Subjects:     []string{"militia", "portrait"},
		Narrative:    "",
		Inscription:  "anno 1642",
		Description:  "  ",
	}
	got := CompositeText(a)
	want := "[Title] Nightwatch study [Creator] Rembrandt van Rijn [Subjects] militia, portrait [Inscriptions] anno 1642"
	if got != want {
		t.Errorf("CompositeText() = %q, want %q", got, want)
	}
}

func TestCompositeTextAllEmptyYieldsEmptyString(t *testing.T) {
	if got := CompositeText(store.ArtworkForEmbedding{}); got != "" {
		t.Errorf("expected empty string for an artwork with no fields, got %q", got)
	}
}

func TestSourceHashStableAndDistinct(t *testing.T) {
	h1 := SourceHash("[Title] A")
	h2 := SourceHash("[Title] A")
	h3 := SourceHash("[Title] B")
	if h1 != h2 {
		t.Errorf("expected identical hashes for identical text, got %q vs %q", h1, h2)
	}
	if h1 == h3 {
		t.Errorf("expected different hashes for different text")
	}
}

func TestQuantizeSaturates(t *testing.T) {
	got := Quantize([]float32{2.0, -2.0, 0, 1, -1})
	want := []int8{127, -127, 0, 127, -127}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Quantize()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestQuantizeDequantizeRoundTripErrorBound(t *testing.T) {
	v := []float32{0.5, -0.25, 0.9, -0.9, 0.0}
	q := Quantize(v)
	back := Dequantize(q)
	for i, orig := range v {
		if diff := math.Abs(float64(orig - back[i])); diff > 1.0/127 {
			t.Errorf("round-trip error at %d: %v vs %v exceeds 1/127", i, orig, back[i])
		}
	}
}
