package extract

import (
	"hash/fnv"
	"math/bits"
	"strings"
	"unicode"
)

// Simhash returns the 64-bit simhash of the words in text.
// Words are lower-cased and split on anything that is not a letter or digit.
func Simhash(text string) uint64 {
	var weights [64]int
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) == 0 {
		return 0
	}
	for _, w := range words {
		h := fnv.New64a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum64()
		for i := 0; i < 64; i++ {
			if sum&(1<<uint(i)) != 0 {
				weights[i]++
			} else {
				weights[i]--
			}
		}
	}
	var out uint64
	for i, w := range weights {
		if w > 0 {
			out |= 1 << uint(i)
		}
	}
	return out
}

// Distance is the Hamming distance between two simhashes.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
