package textfeat

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrEmptyVocabulary is returned by Fit when no term survives the document
// frequency and size limits.
var ErrEmptyVocabulary = errors.New("empty vocabulary")

// Options controls how a Vectorizer is fit.
type Options struct {
	NgramMin    int
	NgramMax    int
	MinDF       int // minimum number of documents a term must appear in
	MaxFeatures int // 0 means unlimited
}

// Vectorizer maps text to L2-normalised TF-IDF vectors over a fixed vocabulary.
type Vectorizer struct {
	Vocabulary map[string]int
	IDF        []float64
	NgramMin   int
	NgramMax   int
}

// SparseVector holds the non-zero entries of a feature vector, indices ascending.
type SparseVector struct {
	Indices []int
	Values  []float64
}

// Fit learns a vocabulary and IDF table from docs.
func Fit(docs []string, opts Options) (*Vectorizer, error) {
	if opts.NgramMin < 1 {
		opts.NgramMin = 1
	}
	if opts.NgramMax < opts.NgramMin {
		opts.NgramMax = opts.NgramMin
	}
	if opts.MinDF < 1 {
		opts.MinDF = 1
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("fit vectorizer: %w", ErrEmptyVocabulary)
	}

	df := make(map[string]int)
	tf := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]struct{})
		for _, gram := range Analyze(doc, opts.NgramMin, opts.NgramMax) {
			tf[gram]++
			if _, ok := seen[gram]; ok {
				continue
			}
			seen[gram] = struct{}{}
			df[gram]++
		}
	}

	terms := make([]string, 0, len(df))
	for term, n := range df {
		if n >= opts.MinDF {
			terms = append(terms, term)
		}
	}
	sort.Strings(terms)

	if opts.MaxFeatures > 0 && len(terms) > opts.MaxFeatures {
		sort.SliceStable(terms, func(i, j int) bool { return tf[terms[i]] > tf[terms[j]] })
		terms = terms[:opts.MaxFeatures]
		sort.Strings(terms)
	}
	if len(terms) == 0 {
		return nil, fmt.Errorf("fit vectorizer: %w", ErrEmptyVocabulary)
	}

	v := &Vectorizer{
		Vocabulary: make(map[string]int, len(terms)),
		IDF:        make([]float64, len(terms)),
		NgramMin:   opts.NgramMin,
		NgramMax:   opts.NgramMax,
	}
	n := float64(len(docs))
	for i, term := range terms {
		v.Vocabulary[term] = i
		v.IDF[i] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}
	return v, nil
}

// Size returns the vocabulary size.
func (v *Vectorizer) Size() int {
	return len(v.IDF)
}

// TransformSparse featurizes text and returns only the non-zero entries.
func (v *Vectorizer) TransformSparse(text string) SparseVector {
	counts := make(map[int]int)
	for _, gram := range Analyze(text, v.NgramMin, v.NgramMax) {
		if idx, ok := v.Vocabulary[gram]; ok {
			counts[idx]++
		}
	}
	if len(counts) == 0 {
		return SparseVector{}
	}

	indices := make([]int, 0, len(counts))
	for idx := range counts {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	values := make([]float64, len(indices))
	var sumSq float64
	for k, idx := range indices {
		values[k] = float64(counts[idx]) * v.IDF[idx]
		sumSq += values[k] * values[k]
	}
	if norm := math.Sqrt(sumSq); norm > 0 {
		for k := range values {
			values[k] /= norm
		}
	}
	return SparseVector{Indices: indices, Values: values}
}

// Transform featurizes text into a dense vector of length Size().
func (v *Vectorizer) Transform(text string) []float64 {
	return v.TransformSparse(text).Dense(v.Size())
}

// Dense expands s into a vector of length n.
func (s SparseVector) Dense(n int) []float64 {
	out := make([]float64, n)
	for k, idx := range s.Indices {
		out[idx] = s.Values[k]
	}
	return out
}

// Dot returns the dot product of s with a dense weight vector.
func (s SparseVector) Dot(w []float64) float64 {
	var sum float64
	for k, idx := range s.Indices {
		sum += s.Values[k] * w[idx]
	}
	return sum
}
