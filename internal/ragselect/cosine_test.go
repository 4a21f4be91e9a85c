package ragselect

import "testing"

func TestCosineIdentical(t *testing.T) {
	a := []float32{1, 0, 0}
	if got := Cosine(a, a); got < 0.999 || got > 1.001 {
		t.Errorf("Cosine(a, a) = %v, want ~1", got)
	}
}

func TestCosineOrthogonal(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	if got := Cosine(a, b); got != 0 {
		t.Errorf("Cosine(a, b) = %v, want 0", got)
	}
}

func TestCosineZeroVector(t *testing.T) {
	a := []float32{0, 0, 0}
	b := []float32{1, 2, 3}
	if got := Cosine(a, b); got != 0 {
		t.Errorf("Cosine(a, b) = %v, want 0", got)
	}
}

func TestCosineMismatchedLength(t *testing.T) {
	a := []float32{1, 1, 1, 1}
	b := []float32{1, 1}
	if got := Cosine(a, b); got < 0.999 || got > 1.001 {
		t.Errorf("Cosine(a, b) = %v, want ~1 (truncated comparison)", got)
	}
}

func TestSelectThresholdAndTopN(t *testing.T) {
	query := []float32{1, 0}
	candidates := []Candidate{
		{Name: "exact", Embedding: []float32{1, 0}},
		{Name: "close", Embedding: []float32{0.9, 0.1}},
		{Name: "far", Embedding: []float32{0, 1}},
	}
	got := Select(query, candidates, 5, 0.5, nil)
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2; got=%v", len(got), got)
	}
	if got[0].Name != "exact" || got[1].Name != "close" {
		t.Errorf("got = %v, want exact then close", got)
	}
}

func TestSelectExcludesBannedAndActive(t *testing.T) {
	query := []float32{1, 0}
	candidates := []Candidate{
		{Name: "banned", Embedding: []float32{1, 0}},
		{Name: "allowed", Embedding: []float32{1, 0}},
	}
	excluded := map[string]bool{"banned": true}
	got := Select(query, candidates, 5, 0, excluded)
	if len(got) != 1 || got[0].Name != "allowed" {
		t.Fatalf("got = %v, want only allowed", got)
	}
}

func TestSelectTopNLimit(t *testing.T) {
	query := []float32{1, 0}
	candidates := []Candidate{
		{Name: "a", Embedding: []float32{1, 0}},
		{Name: "b", Embedding: []float32{1, 0}},
		{Name: "c", Embedding: []float32{1, 0}},
	}
	got := Select(query, candidates, 2, 0, nil)
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].Name != "a" || got[1].Name != "b" {
		t.Errorf("got = %v, want a,b (tie-break by name ascending)", got)
	}
}

func TestSelectTopNZero(t *testing.T) {
	got := Select([]float32{1}, []Candidate{{Name: "a", Embedding: []float32{1}}}, 0, 0, nil)
	if got != nil {
		t.Errorf("got = %v, want nil", got)
	}
}
