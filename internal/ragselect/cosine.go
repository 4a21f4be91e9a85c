// Package ragselect implements the RAG Selector: for a user message, embed
// it and return the top-N skill names whose cosine similarity exceeds a
// threshold, minus banned and already-active skills.
package ragselect

import "math"

// Result is one scored skill.
type Result struct {
	Name  string
	Score float64
}

// Cosine computes cosine similarity between two vectors. Mismatched
// lengths use the shorter vector's length; either zero-norm vector
// yields 0, matching the pattern used elsewhere in this codebase for
// comparing embeddings of unequal provider-reported dimension.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		af, bf := float64(a[i]), float64(b[i])
		dot += af * bf
		normA += af * af
		normB += bf * bf
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Candidate is one skill eligible for RAG scoring.
type Candidate struct {
	Name      string
	Embedding []float32
}

// Select scores query against candidates, excludes any name present in
// excluded, keeps scores strictly above threshold, and returns the top N ordered by
// score descending with ties broken by name ascending.
func Select(query []float32, candidates []Candidate, topN int, threshold float64, excluded map[string]bool) []Result {
	if topN <= 0 {
		return nil
	}

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		if excluded[c.Name] {
			continue
		}
		score := Cosine(query, c.Embedding)
		if score <= threshold {
			continue
		}
		results = append(results, Result{Name: c.Name, Score: score})
	}

	sortResults(results)
	if len(results) > topN {
		results = results[:topN]
	}
	return results
}

func sortResults(results []Result) {
	// Small N in practice (skill counts); a simple insertion sort keeps
	// the stable tie-break (name ascending) explicit and easy to read.
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && less(results[j], results[j-1]); j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

func less(a, b Result) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Name < b.Name
}
