// Package embedding turns free text into a fixed-size hashed vector so text
// context can travel next to the numeric feature vector.
package embedding

import (
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Dim is the embedding width the classifier feeds to every model.
const Dim = 64

// Tokenize lower-cases text and splits it on anything that is not a letter
// or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Embed hashes every token into one of dim buckets with a signed count and
// L2-normalizes the result. Empty text yields a zero vector.
func Embed(text string, dim int) []float64 {
	if dim <= 0 {
		dim = Dim
	}
	out := make([]float64, dim)
	for _, tok := range Tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		sum := h.Sum32()
		sign := 1.0
		if sum&0x80000000 != 0 {
			sign = -1
		}
		out[int(sum%uint32(dim))] += sign
	}

	var norm float64
	for _, v := range out {
		norm += v * v
	}
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i := range out {
		out[i] /= norm
	}
	return out
}

// Cosine returns the cosine similarity of two equally sized vectors, 0 when
// either is all zeros.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
