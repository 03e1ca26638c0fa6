// Package textfeat turns chat text into TF-IDF feature vectors.
//
// Tokens are maximal runs of letters, digits and underscores of at least two
// characters, taken from the lowercased text. N-grams join consecutive tokens
// with a single space.
package textfeat

import (
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// Tokenize lowercases text and returns its word tokens in order.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// NGrams returns every contiguous n-gram of tokens for n in [minN, maxN],
// grouped by n in ascending order.
func NGrams(tokens []string, minN, maxN int) []string {
	if minN < 1 {
		minN = 1
	}
	var grams []string
	for n := minN; n <= maxN; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			if n == 1 {
				grams = append(grams, tokens[i])
				continue
			}
			grams = append(grams, strings.Join(tokens[i:i+n], " "))
		}
	}
	return grams
}

// Analyze runs Tokenize then NGrams.
func Analyze(text string, minN, maxN int) []string {
	return NGrams(Tokenize(text), minN, maxN)
}
