package train

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sort"

	"gonum.org/v1/gonum/optimize"

	"github.com/john/chatsentiment/internal/textfeat"
)

// ClassifierOptions configures the classifier path.
type ClassifierOptions struct {
	Features  textfeat.Options
	TestRatio float64
	Seed      int64
	MaxIter   int     // L-BFGS iteration ceiling
	C         float64 // inverse L2 regularisation strength
	Tolerance float64 // gradient norm at which the optimiser stops
}

// DefaultClassifierOptions returns up to 10000
// unigram+bigram terms seen in at least two messages, an 80/20 split with
// seed 42, and at most 1000 optimiser iterations.
func DefaultClassifierOptions() ClassifierOptions {
	return ClassifierOptions{
		Features:  textfeat.Options{NgramMin: 1, NgramMax: 2, MinDF: 2, MaxFeatures: 10000},
		TestRatio: 0.2,
		Seed:      42,
		MaxIter:   1000,
		C:         1.0,
		Tolerance: 1e-4,
	}
}

// Example is one row of classifier training data.
type Example struct {
	Text  string
	Label string
}

// Classifier maps text to one of Classes. With two classes Coefficients and
// Intercepts hold a single row scoring Classes[1] against Classes[0];
// otherwise there is one row per class.
type Classifier struct {
	Vectorizer   *textfeat.Vectorizer
	Classes      []string
	Coefficients [][]float64
	Intercepts   []float64
}

// Binary reports whether the classifier uses the single-row encoding.
func (c *Classifier) Binary() bool {
	return len(c.Classes) == 2
}

// DecisionFunction returns the raw linear scores for text: one value for a
// binary classifier, one per class otherwise.
func (c *Classifier) DecisionFunction(text string) []float64 {
	sv := c.Vectorizer.TransformSparse(text)
	scores := make([]float64, len(c.Coefficients))
	for k, row := range c.Coefficients {
		scores[k] = sv.Dot(row) + c.Intercepts[k]
	}
	return scores
}

// Predict returns the predicted class label for text.
func (c *Classifier) Predict(text string) string {
	scores := c.DecisionFunction(text)
	if c.Binary() {
		if sigmoid(scores[0]) >= 0.5 {
			return c.Classes[1]
		}
		return c.Classes[0]
	}
	return c.Classes[argmax(scores)]
}

// Probabilities returns calibrated class probabilities for text (sigmoid for
// two classes, softmax otherwise), aligned with Classes.
func (c *Classifier) Probabilities(text string) []float64 {
	scores := c.DecisionFunction(text)
	if c.Binary() {
		p := sigmoid(scores[0])
		return []float64{1 - p, p}
	}
	return softmax(scores)
}

// FitClassifier fits TF-IDF features and a class-weighted multinomial
// logistic regression on examples.
func FitClassifier(examples []Example, opts ClassifierOptions) (*Classifier, error) {
	if len(examples) == 0 {
		return nil, fmt.Errorf("%w: no training examples", ErrInsufficientData)
	}
	classes := sortedLabels(examples)
	if len(classes) < 2 {
		return nil, fmt.Errorf("%w: need at least two distinct labels, have %d", ErrInsufficientData, len(classes))
	}
	if opts.C <= 0 {
		opts.C = 1.0
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = 1000
	}

	texts := make([]string, len(examples))
	for i, ex := range examples {
		texts[i] = ex.Text
	}
	vec, err := textfeat.Fit(texts, opts.Features)
	if err != nil {
		return nil, fmt.Errorf("fit features: %w", err)
	}

	classIndex := make(map[string]int, len(classes))
	for i, c := range classes {
		classIndex[c] = i
	}
	data := &logisticData{
		rows:     make([]textfeat.SparseVector, len(examples)),
		targets:  make([]int, len(examples)),
		weights:  balancedWeights(examples, classes),
		features: vec.Size(),
		alpha:    1 / opts.C,
	}
	for i, ex := range examples {
		data.rows[i] = vec.TransformSparse(ex.Text)
		data.targets[i] = classIndex[ex.Label]
	}

	var (
		coef       [][]float64
		intercepts []float64
	)
	if len(classes) == 2 {
		coef, intercepts, err = data.fitBinary(opts)
	} else {
		coef, intercepts, err = data.fitMultinomial(len(classes), opts)
	}
	if err != nil {
		return nil, err
	}

	log.Printf("Fitted classifier on %d messages with %d features and %d classes", len(examples), vec.Size(), len(classes))
	return &Classifier{
		Vectorizer:   vec,
		Classes:      classes,
		Coefficients: coef,
		Intercepts:   intercepts,
	}, nil
}

func sortedLabels(examples []Example) []string {
	seen := make(map[string]struct{})
	var labels []string
	for _, ex := range examples {
		if _, ok := seen[ex.Label]; ok {
			continue
		}
		seen[ex.Label] = struct{}{}
		labels = append(labels, ex.Label)
	}
	sort.Strings(labels)
	return labels
}

// balancedWeights gives each sample the weight n / (k * count(class)).
func balancedWeights(examples []Example, classes []string) []float64 {
	counts := make(map[string]int, len(classes))
	for _, ex := range examples {
		counts[ex.Label]++
	}
	n := float64(len(examples))
	k := float64(len(classes))
	out := make([]float64, len(examples))
	for i, ex := range examples {
		out[i] = n / (k * float64(counts[ex.Label]))
	}
	return out
}

type logisticData struct {
	rows     []textfeat.SparseVector
	targets  []int
	weights  []float64
	features int
	alpha    float64
}

// fitBinary minimises the weighted log loss of sigmoid(w·x + b) for class 1
// plus alpha/2 ||w||². Parameters are laid out as [w..., b].
func (d *logisticData) fitBinary(opts ClassifierOptions) ([][]float64, []float64, error) {
	nf := d.features
	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			w, b := p[:nf], p[nf]
			var loss float64
			for i, row := range d.rows {
				z := row.Dot(w) + b
				y := float64(d.targets[i])
				loss += d.weights[i] * (logOnePlusExp(z) - y*z)
			}
			return loss + 0.5*d.alpha*sumSquares(w)
		},
		Grad: func(grad, p []float64) {
			w, b := p[:nf], p[nf]
			for j := range grad {
				grad[j] = 0
			}
			for i, row := range d.rows {
				z := row.Dot(w) + b
				g := d.weights[i] * (sigmoid(z) - float64(d.targets[i]))
				for k, idx := range row.Indices {
					grad[idx] += g * row.Values[k]
				}
				grad[nf] += g
			}
			for j := 0; j < nf; j++ {
				grad[j] += d.alpha * w[j]
			}
		},
	}

	p, err := minimize(problem, nf+1, opts)
	if err != nil {
		return nil, nil, err
	}
	return [][]float64{p[:nf]}, []float64{p[nf]}, nil
}

// fitMultinomial minimises the weighted softmax cross-entropy plus
// alpha/2 ||W||². Parameters are laid out as K rows of [w..., b].
func (d *logisticData) fitMultinomial(k int, opts ClassifierOptions) ([][]float64, []float64, error) {
	nf := d.features
	stride := nf + 1
	scores := make([]float64, k)

	score := func(p []float64, row textfeat.SparseVector) {
		for c := 0; c < k; c++ {
			base := c * stride
			scores[c] = row.Dot(p[base:base+nf]) + p[base+nf]
		}
	}

	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			var loss float64
			for i, row := range d.rows {
				score(p, row)
				loss += d.weights[i] * (logSumExp(scores) - scores[d.targets[i]])
			}
			var reg float64
			for c := 0; c < k; c++ {
				reg += sumSquares(p[c*stride : c*stride+nf])
			}
			return loss + 0.5*d.alpha*reg
		},
		Grad: func(grad, p []float64) {
			for j := range grad {
				grad[j] = 0
			}
			for i, row := range d.rows {
				score(p, row)
				lse := logSumExp(scores)
				for c := 0; c < k; c++ {
					g := math.Exp(scores[c] - lse)
					if c == d.targets[i] {
						g -= 1
					}
					g *= d.weights[i]
					base := c * stride
					for m, idx := range row.Indices {
						grad[base+idx] += g * row.Values[m]
					}
					grad[base+nf] += g
				}
			}
			for c := 0; c < k; c++ {
				base := c * stride
				for j := 0; j < nf; j++ {
					grad[base+j] += d.alpha * p[base+j]
				}
			}
		},
	}

	p, err := minimize(problem, k*stride, opts)
	if err != nil {
		return nil, nil, err
	}
	coef := make([][]float64, k)
	intercepts := make([]float64, k)
	for c := 0; c < k; c++ {
		base := c * stride
		coef[c] = append([]float64(nil), p[base:base+nf]...)
		intercepts[c] = p[base+nf]
	}
	return coef, intercepts, nil
}

func minimize(problem optimize.Problem, dim int, opts ClassifierOptions) ([]float64, error) {
	settings := &optimize.Settings{
		MajorIterations:   opts.MaxIter,
		GradientThreshold: opts.Tolerance,
	}
	result, err := optimize.Minimize(problem, make([]float64, dim), settings, &optimize.LBFGS{})
	if result == nil {
		return nil, fmt.Errorf("optimize classifier: %w", err)
	}
	if err != nil {
		log.Printf("Warning: classifier optimiser stopped early (%v): %v", result.Status, err)
	} else if result.Status == optimize.IterationLimit {
		log.Printf("Warning: classifier did not converge within %d iterations", opts.MaxIter)
	}
	for _, v := range result.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.New("optimize classifier: non-finite weights")
		}
	}
	return result.X, nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// logOnePlusExp computes log(1 + e^z) without overflow.
func logOnePlusExp(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}

func logSumExp(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	var sum float64
	for _, x := range xs {
		sum += math.Exp(x - m)
	}
	return m + math.Log(sum)
}

func softmax(xs []float64) []float64 {
	lse := logSumExp(xs)
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = math.Exp(x - lse)
	}
	return out
}

func sumSquares(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x * x
	}
	return s
}

// argmax returns the index of the largest value, preferring the lowest index on ties.
func argmax(xs []float64) int {
	best := 0
	for i, x := range xs[1:] {
		if x > xs[best] {
			best = i + 1
		}
	}
	return best
}
