package ml

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

func sigmoid(x float64) float64 { return 1.0 / (1.0 + math.Exp(-x)) }

// softmax replaces v with its softmax in place.
func softmax(v []float64) {
	top := floats.Max(v)
	for i := range v {
		v[i] = math.Exp(v[i] - top)
	}
	floats.Scale(1/floats.Sum(v), v)
}
