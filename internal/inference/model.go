// Package inference scores text using only a portable sentiment artifact.
//
// It shares no code with the training packages: feature extraction and
// scoring are re-implemented from the artifact fields alone, the same way the
// browser extension does it.
package inference

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
)

// ErrArtifactLoad is returned for a missing or malformed artifact.
var ErrArtifactLoad = errors.New("artifact load error")

const (
	linearRegression   = "linear_regression"
	logisticRegression = "logistic_regression"
	supportedMajor     = "1"
)

type artifactJSON struct {
	Vocabulary   map[string]int  `json:"vocabulary"`
	IDF          []float64       `json:"idf"`
	Coefficients json.RawMessage `json:"coefficients"`
	Intercept    []float64       `json:"intercept"`
	Classes      []string        `json:"classes"`
	NgramRange   []int           `json:"ngramRange"`
	ModelType    string          `json:"modelType"`
	Version      string          `json:"version"`
}

// Model is a loaded, validated artifact. It is immutable and safe for
// concurrent use.
type Model struct {
	vocabulary map[string]int
	idf        []float64
	weights    [][]float64 // one row for regression and binary, one per class otherwise
	intercepts []float64
	classes    []string
	ngramMin   int
	ngramMax   int
	modelType  string
	version    string
}

// Prediction is the result of scoring one text.
type Prediction struct {
	// Score is the clamped regression score, the binary decision value, or
	// the winning raw class score.
	Score float64 `json:"score"`
	// Label is the predicted class; empty for regression models.
	Label string `json:"label,omitempty"`
	// Probability is sigmoid(decision) for binary classifiers only.
	Probability *float64 `json:"probability,omitempty"`
	// Scores holds the raw per-class scores for multi-class models.
	Scores []float64 `json:"scores,omitempty"`
}

// LoadFile reads and validates the artifact at path.
func LoadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactLoad, err)
	}
	return Load(data)
}

// Load parses and validates artifact JSON.
func Load(data []byte) (*Model, error) {
	var a artifactJSON
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrArtifactLoad, err)
	}
	m, err := build(&a)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactLoad, err)
	}
	return m, nil
}

func build(a *artifactJSON) (*Model, error) {
	major, _, _ := strings.Cut(a.Version, ".")
	if major != supportedMajor {
		return nil, fmt.Errorf("unsupported version %q", a.Version)
	}

	size := len(a.IDF)
	if len(a.Vocabulary) == 0 || size == 0 {
		return nil, errors.New("empty vocabulary")
	}
	if len(a.Vocabulary) != size {
		return nil, fmt.Errorf("vocabulary has %d terms but idf has %d entries", len(a.Vocabulary), size)
	}
	used := make([]bool, size)
	for term, idx := range a.Vocabulary {
		if idx < 0 || idx >= size || used[idx] {
			return nil, fmt.Errorf("bad vocabulary index %d for %q", idx, term)
		}
		used[idx] = true
	}
	for _, x := range a.IDF {
		if !finite(x) {
			return nil, errors.New("idf is not finite")
		}
	}

	if len(a.NgramRange) != 2 || a.NgramRange[0] < 1 || a.NgramRange[1] < a.NgramRange[0] {
		return nil, fmt.Errorf("bad ngramRange %v", a.NgramRange)
	}

	m := &Model{
		vocabulary: a.Vocabulary,
		idf:        a.IDF,
		intercepts: a.Intercept,
		classes:    a.Classes,
		ngramMin:   a.NgramRange[0],
		ngramMax:   a.NgramRange[1],
		modelType:  a.ModelType,
		version:    a.Version,
	}

	flat, rows, err := decodeCoefficients(a.Coefficients)
	if err != nil {
		return nil, err
	}

	switch a.ModelType {
	case linearRegression:
		if rows != nil {
			return nil, errors.New("regression coefficients must be a flat array")
		}
		if len(a.Intercept) != 1 {
			return nil, fmt.Errorf("regression needs 1 intercept, have %d", len(a.Intercept))
		}
		m.weights = [][]float64{flat}
	case logisticRegression:
		switch {
		case len(a.Classes) == 2:
			if rows != nil {
				return nil, errors.New("binary classifier coefficients must be a flat array")
			}
			if len(a.Intercept) != 1 {
				return nil, fmt.Errorf("binary classifier needs 1 intercept, have %d", len(a.Intercept))
			}
			m.weights = [][]float64{flat}
		case len(a.Classes) > 2:
			if rows == nil {
				return nil, errors.New("multi-class coefficients must be an array of arrays")
			}
			if len(rows) != len(a.Classes) || len(a.Intercept) != len(a.Classes) {
				return nil, fmt.Errorf("%d classes but %d coefficient rows and %d intercepts",
					len(a.Classes), len(rows), len(a.Intercept))
			}
			m.weights = rows
		default:
			return nil, fmt.Errorf("classifier needs at least 2 classes, have %d", len(a.Classes))
		}
	default:
		return nil, fmt.Errorf("unknown modelType %q", a.ModelType)
	}

	for _, row := range m.weights {
		if len(row) != size {
			return nil, fmt.Errorf("coefficient row has %d entries for %d features", len(row), size)
		}
		for _, x := range row {
			if !finite(x) {
				return nil, errors.New("coefficient is not finite")
			}
		}
	}
	for _, x := range m.intercepts {
		if !finite(x) {
			return nil, errors.New("intercept is not finite")
		}
	}
	return m, nil
}

func decodeCoefficients(raw json.RawMessage) ([]float64, [][]float64, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, nil, fmt.Errorf("coefficients: %v", err)
	}
	if len(items) > 0 && bytes.HasPrefix(bytes.TrimSpace(items[0]), []byte("[")) {
		var rows [][]float64
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, nil, fmt.Errorf("coefficients: %v", err)
		}
		return nil, rows, nil
	}
	var flat []float64
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, nil, fmt.Errorf("coefficients: %v", err)
	}
	return flat, nil, nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// ModelType returns "linear_regression" or "logistic_regression".
func (m *Model) ModelType() string { return m.modelType }

// Version returns the artifact version string.
func (m *Model) Version() string { return m.version }

// Classes returns a copy of the class labels (empty for regression).
func (m *Model) Classes() []string { return append([]string(nil), m.classes...) }

// VocabularySize returns the number of features.
func (m *Model) VocabularySize() int { return len(m.idf) }
