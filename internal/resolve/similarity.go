package resolve

import (
	"strings"

	"github.com/hashicorp/go-set/v2"
)

// Similarity weights. Sequence ratio dominates, token overlap corrects for
// word reordering, and full containment of one normalized name in the other
// earns a flat boost.
const (
	seqWeight        = 0.65
	jaccardWeight    = 0.35
	containmentBoost = 0.1
)

// stopwords are connective and generic NGO-sector words excluded from token
// comparison, English and Norwegian alike.
var stopwords = set.From([]string{
	"the",
	"and",
	"for",
	"of",
	"in",
	"to",
	"international",
	"organization",
	"organisasjon",
	"centre",
	"center",
	"fund",
	"group",
	"global",
	"world",
	"united",
	"nations",
})

// TokenSet returns the comparison tokens of a name: normalized words of at
// least three runes that are neither stopwords nor pure digits.
func TokenSet(text string) *set.Set[string] {
	tokens := set.New[string](8)
	for _, t := range strings.Fields(NormalizeName(text)) {
		if len([]rune(t)) < 3 || stopwords.Contains(t) || isDigits(t) {
			continue
		}
		tokens.Insert(t)
	}
	return tokens
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Similarity scores two raw names in [0, 1]. It blends the matching-block
// sequence ratio over normalized names with token-set Jaccard overlap, adds
// the containment boost, and clamps at 1.0. Blank names score 0.
func Similarity(a, b string) float64 {
	aNorm := NormalizeName(a)
	bNorm := NormalizeName(b)
	if aNorm == "" || bNorm == "" {
		return 0
	}

	seq := sequenceRatio([]rune(aNorm), []rune(bNorm))

	aTokens := TokenSet(a)
	bTokens := TokenSet(b)
	jaccard := 0.0
	if aTokens.Size() > 0 && bTokens.Size() > 0 {
		inter := aTokens.Intersect(bTokens).(*set.Set[string])
		union := aTokens.Union(bTokens).(*set.Set[string])
		jaccard = float64(inter.Size()) / float64(union.Size())
	}

	score := seq*seqWeight + jaccard*jaccardWeight
	if strings.Contains(aNorm, bNorm) || strings.Contains(bNorm, aNorm) {
		score += containmentBoost
	}
	if score > 1 {
		score = 1
	}
	return score
}

// sequenceRatio is the Ratcliff-Obershelp matching-block ratio:
// 2*M / (len(a)+len(b)) where M counts characters inside recursively found
// longest common substrings. Not an edit distance.
func sequenceRatio(a, b []rune) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 0
	}
	m := matchingBlocks(a, b)
	return 2 * float64(m) / float64(total)
}

func matchingBlocks(a, b []rune) int {
	aStart, bStart, size := longestMatch(a, b)
	if size == 0 {
		return 0
	}
	m := size
	m += matchingBlocks(a[:aStart], b[:bStart])
	m += matchingBlocks(a[aStart+size:], b[bStart+size:])
	return m
}

// longestMatch finds the longest common substring, preferring the earliest
// occurrence in a, then in b.
func longestMatch(a, b []rune) (aStart, bStart, size int) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0, 0
	}

	// positions of each rune in b
	positions := make(map[rune][]int, len(b))
	for j, r := range b {
		positions[r] = append(positions[r], j)
	}

	// lengths[j] = length of match ending at a[i-1], b[j-1]
	lengths := make(map[int]int)
	for i, r := range a {
		next := make(map[int]int, len(lengths))
		for _, j := range positions[r] {
			k := lengths[j-1] + 1
			next[j] = k
			if k > size {
				aStart = i - k + 1
				bStart = j - k + 1
				size = k
			}
		}
		lengths = next
	}
	return aStart, bStart, size
}
