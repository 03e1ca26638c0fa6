package train

import (
	"fmt"
	"sort"
	"strings"
)

// ClassMetrics holds held-out precision and recall for one label.
type ClassMetrics struct {
	Label     string
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// Report summarises a classifier run. It is diagnostic only.
type Report struct {
	Distribution map[string]int
	TrainSize    int
	TestSize     int
	Accuracy     float64
	PerClass     []ClassMetrics
}

// Evaluate scores c on the held-out examples.
func Evaluate(c *Classifier, test []Example) Report {
	r := Report{TestSize: len(test)}
	tp := make(map[string]int)
	predicted := make(map[string]int)
	actual := make(map[string]int)
	correct := 0
	for _, ex := range test {
		got := c.Predict(ex.Text)
		predicted[got]++
		actual[ex.Label]++
		if got == ex.Label {
			correct++
			tp[got]++
		}
	}
	if len(test) > 0 {
		r.Accuracy = float64(correct) / float64(len(test))
	}
	for _, label := range c.Classes {
		m := ClassMetrics{Label: label, Support: actual[label]}
		if predicted[label] > 0 {
			m.Precision = float64(tp[label]) / float64(predicted[label])
		}
		if actual[label] > 0 {
			m.Recall = float64(tp[label]) / float64(actual[label])
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		r.PerClass = append(r.PerClass, m)
	}
	return r
}

// LabelDistribution counts examples per label.
func LabelDistribution(examples []Example) map[string]int {
	out := make(map[string]int)
	for _, ex := range examples {
		out[ex.Label]++
	}
	return out
}

// String formats the report like a classification report table.
func (r Report) String() string {
	var b strings.Builder
	if len(r.Distribution) > 0 {
		total := 0
		labels := make([]string, 0, len(r.Distribution))
		for label, n := range r.Distribution {
			labels = append(labels, label)
			total += n
		}
		sort.Strings(labels)
		b.WriteString("Sentiment distribution:\n")
		for _, label := range labels {
			n := r.Distribution[label]
			fmt.Fprintf(&b, "  %s: %d messages (%.1f%%)\n", label, n, float64(n)/float64(total)*100)
		}
	}
	fmt.Fprintf(&b, "Training set: %d messages\nTesting set: %d messages\n", r.TrainSize, r.TestSize)
	fmt.Fprintf(&b, "Accuracy: %.2f\n", r.Accuracy)
	fmt.Fprintf(&b, "%-16s %9s %9s %9s %9s\n", "label", "precision", "recall", "f1", "support")
	for _, m := range r.PerClass {
		fmt.Fprintf(&b, "%-16s %9.2f %9.2f %9.2f %9d\n", m.Label, m.Precision, m.Recall, m.F1, m.Support)
	}
	return b.String()
}

// TrainClassifier splits examples, fits on the training part and evaluates
// on the held-out part.
func TrainClassifier(examples []Example, opts ClassifierOptions) (*Classifier, Report, error) {
	trainSet, testSet := StratifiedSplit(examples, opts.TestRatio, opts.Seed)
	c, err := FitClassifier(trainSet, opts)
	if err != nil {
		return nil, Report{}, err
	}
	report := Evaluate(c, testSet)
	report.Distribution = LabelDistribution(examples)
	report.TrainSize = len(trainSet)
	return c, report, nil
}
