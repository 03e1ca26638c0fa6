// Package export converts fitted models into the portable artifact consumed
// by the inference engine and the browser extension.
package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/john/chatsentiment/internal/atomicfile"
	"github.com/john/chatsentiment/internal/textfeat"
	"github.com/john/chatsentiment/internal/train"
)

// ErrExport is returned when a model cannot be exported.
var ErrExport = errors.New("export error")

// Version is written into every artifact. Field names and shapes only change
// together with a version bump.
const Version = "1.0"

const (
	ModelLinearRegression   = "linear_regression"
	ModelLogisticRegression = "logistic_regression"
)

// Artifact is the portable, library-free form of a vectorizer and linear model.
type Artifact struct {
	Vocabulary   map[string]int `json:"vocabulary"`
	IDF          []float64      `json:"idf"`
	Coefficients Coefficients   `json:"coefficients"`
	Intercept    []float64      `json:"intercept"`
	Classes      []string       `json:"classes"`
	NgramRange   [2]int         `json:"ngramRange"`
	ModelType    string         `json:"modelType"`
	Version      string         `json:"version"`
}

// Coefficients is either a single weight row (Flat) or one row per class
// (Rows). In JSON it is a flat array or an array of arrays.
type Coefficients struct {
	Flat []float64
	Rows [][]float64
}

// Nested reports whether the coefficients are one row per class.
func (c Coefficients) Nested() bool {
	return c.Rows != nil
}

func (c Coefficients) MarshalJSON() ([]byte, error) {
	if c.Rows != nil {
		return json.Marshal(c.Rows)
	}
	if c.Flat == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.Flat)
}

func (c *Coefficients) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) > 0 && bytes.HasPrefix(bytes.TrimSpace(raw[0]), []byte("[")) {
		c.Flat = nil
		return json.Unmarshal(data, &c.Rows)
	}
	c.Rows = nil
	c.Flat = []float64{}
	return json.Unmarshal(data, &c.Flat)
}

// FromRegressor exports a fitted regressor.
func FromRegressor(r *train.Regressor) (*Artifact, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: regressor is nil", ErrExport)
	}
	if err := checkVectorizer(r.Vectorizer); err != nil {
		return nil, err
	}
	if err := checkRow(r.Coefficients, r.Vectorizer.Size()); err != nil {
		return nil, err
	}
	if !finite(r.Intercept) {
		return nil, fmt.Errorf("%w: intercept is not finite", ErrExport)
	}

	a := baseArtifact(r.Vectorizer, ModelLinearRegression)
	a.Coefficients = Coefficients{Flat: append([]float64(nil), r.Coefficients...)}
	a.Intercept = []float64{r.Intercept}
	a.Classes = []string{}
	return a, nil
}

// FromClassifier exports a fitted classifier. Two-class models are written
// as a single coefficient row and intercept.
func FromClassifier(c *train.Classifier) (*Artifact, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: classifier is nil", ErrExport)
	}
	if err := checkVectorizer(c.Vectorizer); err != nil {
		return nil, err
	}
	if len(c.Classes) < 2 {
		return nil, fmt.Errorf("%w: classifier has %d classes", ErrExport, len(c.Classes))
	}
	wantRows := len(c.Classes)
	if c.Binary() {
		wantRows = 1
	}
	if len(c.Coefficients) != wantRows || len(c.Intercepts) != wantRows {
		return nil, fmt.Errorf("%w: expected %d coefficient rows and intercepts, have %d and %d",
			ErrExport, wantRows, len(c.Coefficients), len(c.Intercepts))
	}
	for _, row := range c.Coefficients {
		if err := checkRow(row, c.Vectorizer.Size()); err != nil {
			return nil, err
		}
	}
	for _, b := range c.Intercepts {
		if !finite(b) {
			return nil, fmt.Errorf("%w: intercept is not finite", ErrExport)
		}
	}

	a := baseArtifact(c.Vectorizer, ModelLogisticRegression)
	if c.Binary() {
		a.Coefficients = Coefficients{Flat: append([]float64(nil), c.Coefficients[0]...)}
	} else {
		rows := make([][]float64, len(c.Coefficients))
		for i, row := range c.Coefficients {
			rows[i] = append([]float64(nil), row...)
		}
		a.Coefficients = Coefficients{Rows: rows}
	}
	a.Intercept = append([]float64(nil), c.Intercepts...)
	a.Classes = append([]string(nil), c.Classes...)
	return a, nil
}

func baseArtifact(v *textfeat.Vectorizer, modelType string) *Artifact {
	vocab := make(map[string]int, len(v.Vocabulary))
	for term, idx := range v.Vocabulary {
		vocab[term] = idx
	}
	return &Artifact{
		Vocabulary: vocab,
		IDF:        append([]float64(nil), v.IDF...),
		NgramRange: [2]int{v.NgramMin, v.NgramMax},
		ModelType:  modelType,
		Version:    Version,
	}
}

func checkVectorizer(v *textfeat.Vectorizer) error {
	if v == nil || len(v.Vocabulary) == 0 {
		return fmt.Errorf("%w: model has not been fit (no vocabulary)", ErrExport)
	}
	if len(v.IDF) != len(v.Vocabulary) {
		return fmt.Errorf("%w: idf has %d entries for %d terms", ErrExport, len(v.IDF), len(v.Vocabulary))
	}
	for _, x := range v.IDF {
		if !finite(x) {
			return fmt.Errorf("%w: idf is not finite", ErrExport)
		}
	}
	return nil
}

func checkRow(row []float64, size int) error {
	if len(row) == 0 {
		return fmt.Errorf("%w: model has not been fit (no coefficients)", ErrExport)
	}
	if len(row) != size {
		return fmt.Errorf("%w: %d coefficients for %d features", ErrExport, len(row), size)
	}
	for _, x := range row {
		if !finite(x) {
			return fmt.Errorf("%w: coefficient is not finite", ErrExport)
		}
	}
	return nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// Marshal encodes the artifact as indented JSON.
func (a *Artifact) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExport, err)
	}
	return data, nil
}

// WriteFile writes the artifact to path, replacing any previous file atomically.
func (a *Artifact) WriteFile(path string) error {
	data, err := a.Marshal()
	if err != nil {
		return err
	}
	if err := atomicfile.Write(path, data); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

// ReadFile decodes an artifact from path without validating it.
func ReadFile(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}
