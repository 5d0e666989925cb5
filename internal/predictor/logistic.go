package predictor

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// fitParams controls gradient descent
type fitParams struct {
	learningRate float64
	iterations   int
	l2           float64
}

// logisticModel is an L2-regularized logistic regression over z-scored features
type logisticModel struct {
	weights []float64
	bias    float64
	means   []float64
	scales  []float64
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// standardization returns per-column means and population standard
// deviations. A constant column gets scale 1.
func standardization(x [][]float64) (means, scales []float64) {
	d := len(x[0])
	means = make([]float64, d)
	scales = make([]float64, d)
	col := make([]float64, len(x))

	for j := 0; j < d; j++ {
		for i, row := range x {
			col[i] = row[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		means[j] = mean
		scales[j] = std
	}
	return means, scales
}

func standardize(row, means, scales []float64) []float64 {
	z := make([]float64, len(row))
	floats.SubTo(z, row, means)
	floats.Div(z, scales)
	return z
}

// fitLogistic runs full-batch gradient descent from zero weights, so the
// result depends only on x, y and p
func fitLogistic(x [][]float64, y []float64, p fitParams) *logisticModel {
	means, scales := standardization(x)

	z := make([][]float64, len(x))
	for i, row := range x {
		z[i] = standardize(row, means, scales)
	}

	n := float64(len(z))
	weights := make([]float64, len(means))
	grad := make([]float64, len(means))
	bias := 0.0

	for it := 0; it < p.iterations; it++ {
		for j := range grad {
			grad[j] = 0
		}
		gradBias := 0.0

		for i, row := range z {
			residual := sigmoid(floats.Dot(weights, row)+bias) - y[i]
			floats.AddScaled(grad, residual, row)
			gradBias += residual
		}

		floats.Scale(1/n, grad)
		floats.AddScaled(grad, p.l2, weights)
		floats.AddScaled(weights, -p.learningRate, grad)
		bias -= p.learningRate * gradBias / n
	}

	return &logisticModel{weights: weights, bias: bias, means: means, scales: scales}
}

// probability returns P(rain) for a raw, unstandardized feature vector
func (m *logisticModel) probability(row []float64) float64 {
	return sigmoid(floats.Dot(m.weights, standardize(row, m.means, m.scales)) + m.bias)
}
