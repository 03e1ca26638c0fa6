package inference

import (
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/john/chatsentiment/internal/textfeat"
)

const binaryArtifact = `{
  "vocabulary": {"good": 0, "bad": 1},
  "idf": [1.0, 1.0],
  "coefficients": [0.5, -0.2],
  "intercept": [0.1],
  "classes": ["negative", "positive"],
  "ngramRange": [1, 1],
  "modelType": "logistic_regression",
  "version": "1.0"
}`

func TestFeaturesKnownVector(t *testing.T) {
	m, err := Load([]byte(binaryArtifact))
	require.NoError(t, err)

	got := m.Features("good good bad")
	assert.InDelta(t, 2/math.Sqrt(5), got[0], 1e-12)
	assert.InDelta(t, 1/math.Sqrt(5), got[1], 1e-12)
	assert.Equal(t, []float64{0, 0}, m.Features(""))
	assert.Equal(t, []float64{0, 0}, m.Features("nothing known"))
}

func TestBinaryScenario(t *testing.T) {
	m, err := Load([]byte(binaryArtifact))
	require.NoError(t, err)

	p := m.ScoreFeatures([]float64{1, 0})
	assert.InDelta(t, 0.6, p.Score, 1e-12)
	require.NotNil(t, p.Probability)
	assert.InDelta(t, 0.6457, *p.Probability, 1e-4)
	assert.Equal(t, "positive", p.Label)

	p = m.ScoreFeatures([]float64{0, 1})
	assert.InDelta(t, -0.1, p.Score, 1e-12)
	assert.Equal(t, "negative", p.Label)
}

func TestRegressionClamps(t *testing.T) {
	m, err := Load([]byte(`{
	  "vocabulary": {"pog": 0, "trash": 1},
	  "idf": [1, 1],
	  "coefficients": [3.0, -3.0],
	  "intercept": [0.5],
	  "classes": [],
	  "ngramRange": [1, 2],
	  "modelType": "linear_regression",
	  "version": "1.0"
	}`))
	require.NoError(t, err)

	assert.Equal(t, 1.0, m.Score("pog").Score)
	assert.Equal(t, 0.0, m.Score("trash").Score)
	assert.Equal(t, 0.5, m.Score("hello").Score)
	assert.Empty(t, m.Score("pog").Label)
}

func TestMultiClassArgmaxLowestIndexOnTie(t *testing.T) {
	m, err := Load([]byte(`{
	  "vocabulary": {"gg": 0},
	  "idf": [1],
	  "coefficients": [[1.0], [2.0], [2.0]],
	  "intercept": [0, 0, 0],
	  "classes": ["a", "b", "c"],
	  "ngramRange": [1, 1],
	  "modelType": "logistic_regression",
	  "version": "1.0"
	}`))
	require.NoError(t, err)

	p := m.Score("gg")
	assert.Equal(t, "b", p.Label)
	assert.Equal(t, []float64{1, 2, 2}, p.Scores)
	assert.Nil(t, p.Probability)

	p = m.Score("")
	assert.Equal(t, "a", p.Label)
}

func TestBigramFeatures(t *testing.T) {
	m, err := Load([]byte(`{
	  "vocabulary": {"so good": 0, "good": 1},
	  "idf": [2, 1],
	  "coefficients": [1, 1],
	  "intercept": [0],
	  "classes": [],
	  "ngramRange": [1, 2],
	  "modelType": "linear_regression",
	  "version": "1.0"
	}`))
	require.NoError(t, err)

	got := m.Features("So GOOD!")
	norm := math.Sqrt(4 + 1)
	assert.InDelta(t, 2/norm, got[0], 1e-12)
	assert.InDelta(t, 1/norm, got[1], 1e-12)
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"love", "this", "cd_e", "42"}, tokens("I LOVE this, a b cd_e 42 x!"))
	assert.Equal(t, []string{"привет", "café"}, tokens("Привет CAFÉ"))
	assert.Empty(t, tokens("a ! b"))
}

func TestTokensMatchTrainingTokenizer(t *testing.T) {
	for _, text := range []string{
		"",
		"KEKW KEKW KEKW",
		"ÄÖÜ straße 2024 x_y_z",
		"emoji 😂😂 pog",
		"tab\tseparated\nlines",
		"ünïcödé café naïve",
		"a1 b 12 _ __",
	} {
		want := textfeat.Tokenize(text)
		got := tokens(text)
		if len(want) == 0 {
			assert.Empty(t, got, text)
			continue
		}
		assert.Equal(t, want, got, text)
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":      `{`,
		"empty":         `{}`,
		"bad version":   `{"vocabulary":{"a1":0},"idf":[1],"coefficients":[1],"intercept":[0],"classes":[],"ngramRange":[1,1],"modelType":"linear_regression","version":"2.0"}`,
		"idf mismatch":  `{"vocabulary":{"a1":0},"idf":[1,2],"coefficients":[1,1],"intercept":[0],"classes":[],"ngramRange":[1,1],"modelType":"linear_regression","version":"1.0"}`,
		"dup index":     `{"vocabulary":{"a1":0,"b1":0},"idf":[1,2],"coefficients":[1,1],"intercept":[0],"classes":[],"ngramRange":[1,1],"modelType":"linear_regression","version":"1.0"}`,
		"coef length":   `{"vocabulary":{"a1":0},"idf":[1],"coefficients":[1,2],"intercept":[0],"classes":[],"ngramRange":[1,1],"modelType":"linear_regression","version":"1.0"}`,
		"unknown model": `{"vocabulary":{"a1":0},"idf":[1],"coefficients":[1],"intercept":[0],"classes":[],"ngramRange":[1,1],"modelType":"svm","version":"1.0"}`,
		"binary nested": `{"vocabulary":{"a1":0},"idf":[1],"coefficients":[[1]],"intercept":[0],"classes":["x","y"],"ngramRange":[1,1],"modelType":"logistic_regression","version":"1.0"}`,
		"multi flat":    `{"vocabulary":{"a1":0},"idf":[1],"coefficients":[1,2,3],"intercept":[0,0,0],"classes":["x","y","z"],"ngramRange":[1,1],"modelType":"logistic_regression","version":"1.0"}`,
		"one class":     `{"vocabulary":{"a1":0},"idf":[1],"coefficients":[1],"intercept":[0],"classes":["x"],"ngramRange":[1,1],"modelType":"logistic_regression","version":"1.0"}`,
		"bad ngram":     `{"vocabulary":{"a1":0},"idf":[1],"coefficients":[1],"intercept":[0],"classes":[],"ngramRange":[2,1],"modelType":"linear_regression","version":"1.0"}`,
		"no intercept":  `{"vocabulary":{"a1":0},"idf":[1],"coefficients":[1],"intercept":[],"classes":[],"ngramRange":[1,1],"modelType":"linear_regression","version":"1.0"}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load([]byte(data))
			assert.ErrorIs(t, err, ErrArtifactLoad)
		})
	}

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, ErrArtifactLoad)
}

func TestEngineSwap(t *testing.T) {
	e := NewEngine()
	_, err := e.Score("good")
	assert.ErrorIs(t, err, ErrNoModel)

	m, err := Load([]byte(binaryArtifact))
	require.NoError(t, err)
	assert.Nil(t, e.Install(m))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p, err := e.Score("good")
				assert.NoError(t, err)
				assert.Equal(t, "positive", p.Label)
			}
		}()
	}
	wg.Wait()

	_, err = e.LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, ErrArtifactLoad)
	assert.Same(t, m, e.Current())
}
