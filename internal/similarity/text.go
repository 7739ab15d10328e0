package similarity

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"github.com/kljensen/snowball/english"
)

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a about above after again against all am an and any are as at be because
		been before being below between both but by can could did do does doing down during each few for
		from further had has have having he her here hers herself him himself his how i if in into is it its
		itself just me more most my myself no nor not now of off on once only or other our ours ourselves out
		over own same she should so some such than that the their theirs them themselves then there these
		they this those through to too under until up very was we were what when where which while who whom
		why will with would you your yours yourself yourselves img image photo pic dsc`) {
		stopWords[w] = struct{}{}
	}
}

func IsStopWord(w string) bool {
	_, ok := stopWords[w]
	return ok
}

// Words splits text on anything that is not a letter or digit and
// lowercases the result
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ContentWords are the words of text without stop words and single
// characters
func ContentWords(text string) []string {
	words := Words(text)
	out := words[:0]

	for _, w := range words {
		if len(w) < 2 || IsStopWord(w) {
			continue
		}

		out = append(out, w)
	}

	return out
}

// Tokens are the stemmed content words of text
func Tokens(text string) []string {
	words := ContentWords(text)
	for i, w := range words {
		words[i] = Stem(w)
	}

	return words
}

// Stem reduces w to its Porter2 English stem
func Stem(w string) string {
	return english.Stem(w, false)
}

// Levenshtein is the edit distance between a and b counted in runes
func Levenshtein(a, b string) int {
	return levenshtein.ComputeDistance(a, b)
}

// Ratio turns the edit distance into a 0-1 similarity
func Ratio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 && lb == 0 {
		return 1
	}

	return 1 - float64(Levenshtein(a, b))/float64(max(la, lb))
}

// Jaccard is |A∩B| / |A∪B| over the distinct elements of a and b
func Jaccard(a, b []string) float64 {
	setA := make(map[string]struct{}, len(a))
	for _, v := range a {
		setA[v] = struct{}{}
	}

	setB := make(map[string]struct{}, len(b))
	for _, v := range b {
		setB[v] = struct{}{}
	}

	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}

	inter := 0
	for v := range setA {
		if _, ok := setB[v]; ok {
			inter++
		}
	}

	return float64(inter) / float64(len(setA)+len(setB)-inter)
}
