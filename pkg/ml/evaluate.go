package ml

import (
	"fmt"

	"github.com/unijord/pdm/pkg/frame"
)

// Metric names understood by MulticlassEvaluator.
const (
	MetricF1                = "f1"
	MetricAccuracy          = "accuracy"
	MetricWeightedPrecision = "weightedPrecision"
	MetricWeightedRecall    = "weightedRecall"
)

// MulticlassEvaluator scores predictions against labels.
type MulticlassEvaluator struct {
	LabelCol      string
	PredictionCol string
	// MetricName defaults to MetricF1, the label-weighted F1 score.
	MetricName string
}

// Metrics holds multiclass scores. Weighted scores average the per-class
// score weighted by the number of rows carrying that label.
type Metrics struct {
	Accuracy          float64
	WeightedPrecision float64
	WeightedRecall    float64
	WeightedF1        float64
	// Confusion counts rows by label, then prediction.
	Confusion map[int64]map[int64]int
	Rows      int
}

// Evaluate returns the configured metric.
func (e *MulticlassEvaluator) Evaluate(f *frame.Frame) (float64, error) {
	m, err := e.Metrics(f)
	if err != nil {
		return 0, err
	}
	return m.Value(e.MetricName)
}

// Value returns the named metric. An empty name selects MetricF1.
func (m Metrics) Value(name string) (float64, error) {
	switch name {
	case "", MetricF1:
		return m.WeightedF1, nil
	case MetricAccuracy:
		return m.Accuracy, nil
	case MetricWeightedPrecision:
		return m.WeightedPrecision, nil
	case MetricWeightedRecall:
		return m.WeightedRecall, nil
	}
	return 0, fmt.Errorf("unknown metric %q", name)
}

// Metrics computes every score. An empty frame scores zero.
func (e *MulticlassEvaluator) Metrics(f *frame.Frame) (Metrics, error) {
	labelCol, predCol := e.LabelCol, e.PredictionCol
	if labelCol == "" {
		labelCol = DefaultLabelCol
	}
	if predCol == "" {
		predCol = DefaultPredictionCol
	}
	labels, err := f.Int64s(labelCol)
	if err != nil {
		return Metrics{}, err
	}
	preds, err := f.Int64s(predCol)
	if err != nil {
		return Metrics{}, err
	}
	return Score(labels, preds), nil
}

// Score computes multiclass metrics from parallel label and prediction slices.
func Score(labels, preds []int64) Metrics {
	m := Metrics{Confusion: make(map[int64]map[int64]int), Rows: len(labels)}
	if len(labels) == 0 {
		return m
	}

	labelCount := make(map[int64]int)
	predCount := make(map[int64]int)
	truePos := make(map[int64]int)
	for i, y := range labels {
		p := preds[i]
		labelCount[y]++
		predCount[p]++
		if y == p {
			truePos[y]++
		}
		if m.Confusion[y] == nil {
			m.Confusion[y] = make(map[int64]int)
		}
		m.Confusion[y][p]++
	}

	n := float64(len(labels))
	correct := 0
	for class, count := range labelCount {
		tp := float64(truePos[class])
		correct += truePos[class]

		precision := 0.0
		if predCount[class] > 0 {
			precision = tp / float64(predCount[class])
		}
		recall := tp / float64(count)
		f1 := 0.0
		if precision+recall > 0 {
			f1 = 2 * precision * recall / (precision + recall)
		}

		weight := float64(count) / n
		m.WeightedPrecision += weight * precision
		m.WeightedRecall += weight * recall
		m.WeightedF1 += weight * f1
	}
	m.Accuracy = float64(correct) / n
	return m
}
