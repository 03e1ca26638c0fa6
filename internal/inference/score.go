package inference

import (
	"errors"
	"math"
	"strings"
	"sync/atomic"
	"unicode"
	"unicode/utf8"
)

// tokens lowercases text and splits it into runs of letters, digits and
// underscores, keeping runs of at least two characters.
func tokens(text string) []string {
	text = strings.ToLower(text)
	var out []string
	start := -1
	for i, r := range text {
		word := r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
		switch {
		case word && start < 0:
			start = i
		case !word && start >= 0:
			if utf8.RuneCountInString(text[start:i]) >= 2 {
				out = append(out, text[start:i])
			}
			start = -1
		}
	}
	if start >= 0 && utf8.RuneCountInString(text[start:]) >= 2 {
		out = append(out, text[start:])
	}
	return out
}

// Features returns the L2-normalised TF-IDF vector for text. Text without
// any vocabulary term yields the zero vector.
func (m *Model) Features(text string) []float64 {
	toks := tokens(text)
	features := make([]float64, len(m.idf))
	for n := m.ngramMin; n <= m.ngramMax; n++ {
		for i := 0; i+n <= len(toks); i++ {
			if idx, ok := m.vocabulary[strings.Join(toks[i:i+n], " ")]; ok {
				features[idx]++
			}
		}
	}

	var sumSq float64
	for i, count := range features {
		if count != 0 {
			features[i] = count * m.idf[i]
			sumSq += features[i] * features[i]
		}
	}
	if sumSq == 0 {
		return features
	}
	norm := math.Sqrt(sumSq)
	for i := range features {
		if features[i] != 0 {
			features[i] /= norm
		}
	}
	return features
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		if a[i] != 0 {
			sum += a[i] * b[i]
		}
	}
	return sum
}

// ScoreFeatures applies the linear model to a feature vector.
func (m *Model) ScoreFeatures(features []float64) Prediction {
	switch {
	case m.modelType == linearRegression:
		score := dot(features, m.weights[0]) + m.intercepts[0]
		return Prediction{Score: math.Min(1, math.Max(0, score))}

	case len(m.classes) == 2:
		decision := dot(features, m.weights[0]) + m.intercepts[0]
		p := 1 / (1 + math.Exp(-decision))
		label := m.classes[0]
		if p >= 0.5 {
			label = m.classes[1]
		}
		return Prediction{Score: decision, Label: label, Probability: &p}

	default:
		scores := make([]float64, len(m.classes))
		best := 0
		for c := range m.classes {
			scores[c] = dot(features, m.weights[c]) + m.intercepts[c]
			if scores[c] > scores[best] {
				best = c
			}
		}
		return Prediction{Score: scores[best], Label: m.classes[best], Scores: scores}
	}
}

// Score featurizes and scores text.
func (m *Model) Score(text string) Prediction {
	return m.ScoreFeatures(m.Features(text))
}

// ErrNoModel is returned by Engine.Score before any artifact is installed.
var ErrNoModel = errors.New("no model loaded")

// Engine serves the current model. Install swaps the whole model in one
// atomic step, so concurrent Score calls always see a complete model.
type Engine struct {
	current atomic.Pointer[Model]
}

// NewEngine returns an engine with no model installed.
func NewEngine() *Engine {
	return &Engine{}
}

// Install makes m the serving model and returns the previous one.
func (e *Engine) Install(m *Model) *Model {
	return e.current.Swap(m)
}

// LoadFile loads the artifact at path and installs it. On error the serving
// model is left untouched.
func (e *Engine) LoadFile(path string) (*Model, error) {
	m, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	e.Install(m)
	return m, nil
}

// Current returns the serving model, or nil.
func (e *Engine) Current() *Model {
	return e.current.Load()
}

// Score scores text with the serving model.
func (e *Engine) Score(text string) (Prediction, error) {
	m := e.current.Load()
	if m == nil {
		return Prediction{}, ErrNoModel
	}
	return m.Score(text), nil
}
