package predictor

import (
	"math"
	"math/rand"
)

// HoldoutMetrics describes classifier quality on the rows held out of fitting
type HoldoutMetrics struct {
	Rows      int     `json:"rows"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	Accuracy  float64 `json:"accuracy"`
}

// splitIndices shuffles 0..n-1 with seed and returns the train and holdout
// partitions. Holdout keeps at least one row and leaves at least one for training.
func splitIndices(n int, holdoutFraction float64, seed int64) (train, holdout []int) {
	perm := rand.New(rand.NewSource(seed)).Perm(n)

	size := int(math.Round(float64(n) * holdoutFraction))
	if size < 1 {
		size = 1
	}
	if size > n-1 {
		size = n - 1
	}

	return perm[size:], perm[:size]
}

// evaluate scores the holdout rows at a 0.5 decision threshold. Undefined
// ratios (no predicted or no actual positives) are reported as 0.
func evaluate(m *logisticModel, x [][]float64, y []float64) HoldoutMetrics {
	var tp, fp, tn, fn float64
	for i, row := range x {
		predicted := m.probability(row) >= 0.5
		actual := y[i] == 1
		switch {
		case predicted && actual:
			tp++
		case predicted && !actual:
			fp++
		case !predicted && actual:
			fn++
		default:
			tn++
		}
	}

	metrics := HoldoutMetrics{Rows: len(x)}
	if tp+fp > 0 {
		metrics.Precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		metrics.Recall = tp / (tp + fn)
	}
	if len(x) > 0 {
		metrics.Accuracy = (tp + tn) / float64(len(x))
	}
	return metrics
}
