// Package train fits the two sentiment models: a least-squares regressor over
// batch-labeled chat messages, and a class-weighted logistic classifier over
// an offline labeled CSV. Both produce a fitted textfeat.Vectorizer and the
// linear weights that go with it.
package train

import (
	"errors"
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/john/chatsentiment/internal/labeling"
	"github.com/john/chatsentiment/internal/textfeat"
)

// ErrInsufficientData is returned when there are too few labeled messages.
var ErrInsufficientData = errors.New("insufficient labeled data")

// DefaultMinLabeled is the smallest number of labeled messages the regressor accepts.
const DefaultMinLabeled = 5

// RegressorOptions configures the regressor path.
type RegressorOptions struct {
	Features   textfeat.Options
	MinLabeled int
}

// DefaultRegressorOptions returns unigram+bigram features capped at 1000 terms.
func DefaultRegressorOptions() RegressorOptions {
	return RegressorOptions{
		Features:   textfeat.Options{NgramMin: 1, NgramMax: 2, MinDF: 1, MaxFeatures: 1000},
		MinLabeled: DefaultMinLabeled,
	}
}

// Regressor maps text to a continuous sentiment score.
type Regressor struct {
	Vectorizer   *textfeat.Vectorizer
	Coefficients []float64
	Intercept    float64
}

// Predict returns the raw, unclamped score for text.
func (r *Regressor) Predict(text string) float64 {
	return r.Vectorizer.TransformSparse(text).Dot(r.Coefficients) + r.Intercept
}

// PredictClamped returns the score truncated to [0, 1].
func (r *Regressor) PredictClamped(text string) float64 {
	return clamp01(r.Predict(text))
}

func clamp01(x float64) float64 {
	return math.Min(1, math.Max(0, x))
}

// FitRegressor fits TF-IDF features and ordinary least squares on rows. Every
// row carries the score of the batch its message came from.
func FitRegressor(rows []labeling.LabeledText, opts RegressorOptions) (*Regressor, error) {
	minLabeled := opts.MinLabeled
	if minLabeled <= 0 {
		minLabeled = DefaultMinLabeled
	}
	if len(rows) < minLabeled {
		return nil, fmt.Errorf("%w: have %d labeled messages, need at least %d", ErrInsufficientData, len(rows), minLabeled)
	}

	texts := make([]string, len(rows))
	y := make([]float64, len(rows))
	for i, r := range rows {
		texts[i] = r.Text
		y[i] = r.Sentiment
	}

	vec, err := textfeat.Fit(texts, opts.Features)
	if err != nil {
		return nil, fmt.Errorf("fit features: %w", err)
	}

	x := mat.NewDense(len(texts), vec.Size(), nil)
	for i, text := range texts {
		sv := vec.TransformSparse(text)
		for k, idx := range sv.Indices {
			x.Set(i, idx, sv.Values[k])
		}
	}

	coef, intercept, err := leastSquares(x, y)
	if err != nil {
		return nil, err
	}

	log.Printf("Fitted regressor on %d messages with %d features", len(rows), vec.Size())
	return &Regressor{Vectorizer: vec, Coefficients: coef, Intercept: intercept}, nil
}

// leastSquares solves min ||Xw + b - y||² for w and b. X and y are centred so
// the intercept is not penalised by the pseudo-inverse, and the minimum-norm
// w is chosen when the system is underdetermined.
func leastSquares(x *mat.Dense, y []float64) ([]float64, float64, error) {
	rows, cols := x.Dims()

	xMean := make([]float64, cols)
	for j := 0; j < cols; j++ {
		var sum float64
		for i := 0; i < rows; i++ {
			sum += x.At(i, j)
		}
		xMean[j] = sum / float64(rows)
	}
	var yMean float64
	for _, v := range y {
		yMean += v
	}
	yMean /= float64(rows)

	xc := mat.NewDense(rows, cols, nil)
	xc.Apply(func(i, j int, v float64) float64 { return v - xMean[j] }, x)
	yc := make([]float64, rows)
	for i, v := range y {
		yc[i] = v - yMean
	}

	var svd mat.SVD
	if ok := svd.Factorize(xc, mat.SVDThin); !ok {
		return nil, 0, errors.New("least squares: SVD did not converge")
	}
	values := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	cutoff := 0.0
	if len(values) > 0 {
		cutoff = values[0] * float64(max(rows, cols)) * epsilon
	}

	coef := make([]float64, cols)
	for k, s := range values {
		if s <= cutoff {
			break
		}
		var uty float64
		for i := 0; i < rows; i++ {
			uty += u.At(i, k) * yc[i]
		}
		alpha := uty / s
		for j := 0; j < cols; j++ {
			coef[j] += alpha * v.At(j, k)
		}
	}

	intercept := yMean
	for j, w := range coef {
		intercept -= xMean[j] * w
	}
	return coef, intercept, nil
}

const epsilon = 2.220446049250313e-16
