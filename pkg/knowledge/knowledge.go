// Package knowledge splits a knowledge corpus into chunks, embeds them, and
// retrieves the chunks closest to a query.
package knowledge

import (
	"math"
	"strings"
	"unicode"
)

const (
	// DefaultChunkSize is the chunk length in runes.
	DefaultChunkSize = 1000
	// DefaultChunkOverlap is how many runes consecutive chunks share.
	DefaultChunkOverlap = 100
)

// Cosine returns the cosine similarity of a and b. Empty, mismatched, or
// zero-magnitude vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}

	if na == 0 || nb == 0 {
		return 0
	}

	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Splitter cuts text into overlapping chunks of at most Size runes. A cut
// falls on the last whitespace in the second half of the window when there
// is one.
type Splitter struct {
	Size int // Default DefaultChunkSize.
	// Overlap defaults to DefaultChunkOverlap only when Size is unset too.
	// It is clamped below Size.
	Overlap int
}

// Split returns the non-empty chunks of text.
func (s Splitter) Split(text string) []string {
	size := s.Size
	if size <= 0 {
		size = DefaultChunkSize
	}

	overlap := s.Overlap
	if overlap < 0 {
		overlap = 0
	}
	if s.Overlap == 0 && s.Size <= 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 2
	}

	rs := []rune(text)

	var chunks []string
	for start := 0; start < len(rs); {
		end := min(start+size, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start+size/2; i-- {
				if unicode.IsSpace(rs[i]) {
					end = i + 1
					break
				}
			}
		}

		if chunk := strings.TrimSpace(string(rs[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end == len(rs) {
			break
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}
