package train

import (
	"math"
	"math/rand"
	"sort"
)

// StratifiedSplit shuffles each label's examples with a seeded generator and
// moves round(count*testRatio) of them to the test set, so both sets keep the
// label proportions. Labels are processed in sorted order and the result is
// reproducible for a given seed.
func StratifiedSplit(examples []Example, testRatio float64, seed int64) (trainSet, testSet []Example) {
	byLabel := make(map[string][]int)
	for i, ex := range examples {
		byLabel[ex.Label] = append(byLabel[ex.Label], i)
	}
	labels := make([]string, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	rng := rand.New(rand.NewSource(seed))
	isTest := make([]bool, len(examples))
	for _, label := range labels {
		idx := byLabel[label]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		nTest := int(math.Round(float64(len(idx)) * testRatio))
		if nTest >= len(idx) {
			nTest = len(idx) - 1
		}
		for _, i := range idx[:nTest] {
			isTest[i] = true
		}
	}

	for i, ex := range examples {
		if isTest[i] {
			testSet = append(testSet, ex)
		} else {
			trainSet = append(trainSet, ex)
		}
	}
	return trainSet, testSet
}
