package ml

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/unijord/pdm/pkg/frame"
)

// Default column names of the classifier.
const (
	DefaultFeaturesCol      = "features"
	DefaultLabelCol         = "label"
	DefaultPredictionCol    = "prediction"
	DefaultProbabilityCol   = "probability"
	DefaultRawPredictionCol = "rawPrediction"
)

const (
	DefaultMaxIter = 100
	DefaultTol     = 1e-6
)

// MultilayerPerceptronClassifier trains a feed-forward network with sigmoid
// hidden layers and a softmax output layer by minimising cross-entropy
// with L-BFGS.
type MultilayerPerceptronClassifier struct {
	FeaturesCol      string
	LabelCol         string
	PredictionCol    string
	ProbabilityCol   string
	RawPredictionCol string

	// Layers holds the layer sizes, input first and classes last.
	Layers  []int
	MaxIter int
	Tol     float64
	Seed    uint64
	Logger  *slog.Logger
}

func (c *MultilayerPerceptronClassifier) withDefaults() MultilayerPerceptronClassifier {
	out := *c
	if out.FeaturesCol == "" {
		out.FeaturesCol = DefaultFeaturesCol
	}
	if out.LabelCol == "" {
		out.LabelCol = DefaultLabelCol
	}
	if out.PredictionCol == "" {
		out.PredictionCol = DefaultPredictionCol
	}
	if out.ProbabilityCol == "" {
		out.ProbabilityCol = DefaultProbabilityCol
	}
	if out.RawPredictionCol == "" {
		out.RawPredictionCol = DefaultRawPredictionCol
	}
	if out.MaxIter == 0 {
		out.MaxIter = DefaultMaxIter
	}
	if out.Tol == 0 {
		out.Tol = DefaultTol
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// Fit trains the network on the features and label columns of f.
func (c *MultilayerPerceptronClassifier) Fit(ctx context.Context, f *frame.Frame) (Transformer, error) {
	cfg := c.withDefaults()
	if len(cfg.Layers) < 2 {
		return nil, fmt.Errorf("need at least input and output layers, got %v", cfg.Layers)
	}
	for _, n := range cfg.Layers {
		if n <= 0 {
			return nil, fmt.Errorf("layer sizes must be positive, got %v", cfg.Layers)
		}
	}

	features, err := f.Vectors(cfg.FeaturesCol)
	if err != nil {
		return nil, err
	}
	labels, err := f.Int64s(cfg.LabelCol)
	if err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("%w: no training rows", ErrEmptyInput)
	}

	x, err := featureMatrix(features, cfg.Layers[0])
	if err != nil {
		return nil, err
	}
	classes := cfg.Layers[len(cfg.Layers)-1]
	for i, l := range labels {
		if l < 0 || l >= int64(classes) {
			return nil, fmt.Errorf("%w: row %d label %d outside [0,%d)", ErrInvalidLabel, i, l, classes)
		}
	}

	net := newNetwork(cfg.Layers)
	w0 := net.initWeights(rand.New(rand.NewPCG(cfg.Seed, cfg.Seed)))

	problem := optimize.Problem{
		Func: func(w []float64) float64 {
			return net.loss(w, x, labels, nil)
		},
		Grad: func(grad, w []float64) {
			net.loss(w, x, labels, grad)
		},
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}
	settings := &optimize.Settings{
		MajorIterations: cfg.MaxIter,
		Converger: &optimize.FunctionConverge{
			Relative:   cfg.Tol,
			Iterations: 1,
		},
	}

	res, err := optimize.Minimize(problem, w0, settings, &optimize.LBFGS{})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		if res == nil || res.X == nil {
			return nil, fmt.Errorf("train perceptron: %w", err)
		}
		// line search failures still leave a usable best point
		cfg.Logger.Warn("[ml] optimiser stopped early",
			slog.String("status", res.Status.String()),
			slog.String("error", err.Error()))
	}

	cfg.Logger.Info("[ml] perceptron trained",
		slog.Any("layers", cfg.Layers),
		slog.Int("rows", len(labels)),
		slog.Int("iterations", res.Stats.MajorIterations),
		slog.Float64("loss", res.F),
		slog.String("status", res.Status.String()))

	return &MultilayerPerceptronModel{
		FeaturesCol:      cfg.FeaturesCol,
		PredictionCol:    cfg.PredictionCol,
		ProbabilityCol:   cfg.ProbabilityCol,
		RawPredictionCol: cfg.RawPredictionCol,
		Layers:           slices.Clone(cfg.Layers),
		Weights:          slices.Clone(res.X),
	}, nil
}

// MultilayerPerceptronModel is a trained network.
type MultilayerPerceptronModel struct {
	FeaturesCol      string
	PredictionCol    string
	ProbabilityCol   string
	RawPredictionCol string

	Layers []int
	// Weights holds, per layer, the row-major input x output weight matrix
	// followed by the output biases.
	Weights []float64
}

// Transform adds the raw output, class probability and predicted class columns.
func (m *MultilayerPerceptronModel) Transform(_ context.Context, f *frame.Frame) (*frame.Frame, error) {
	features, err := f.Vectors(m.FeaturesCol)
	if err != nil {
		return nil, err
	}
	n := len(features)
	raw := make(frame.Vectors, n)
	prob := make(frame.Vectors, n)
	pred := make(frame.Int64s, n)

	if n > 0 {
		x, err := featureMatrix(features, m.Layers[0])
		if err != nil {
			return nil, err
		}
		net := newNetwork(m.Layers)
		acts, z := net.forward(m.Weights, x)
		out := acts[len(acts)-1]
		for i := 0; i < n; i++ {
			raw[i] = mat.Row(nil, i, z)
			prob[i] = mat.Row(nil, i, out)
			pred[i] = int64(floats.MaxIdx(prob[i]))
		}
	}

	if f, err = f.With(m.RawPredictionCol, raw); err != nil {
		return nil, err
	}
	if f, err = f.With(m.ProbabilityCol, prob); err != nil {
		return nil, err
	}
	return f.With(m.PredictionCol, pred)
}

func featureMatrix(features frame.Vectors, width int) (*mat.Dense, error) {
	x := mat.NewDense(len(features), width, nil)
	for i, v := range features {
		if len(v) != width {
			return nil, fmt.Errorf("%w: row %d has %d features, input layer has %d", ErrLayerMismatch, i, len(v), width)
		}
		x.SetRow(i, v)
	}
	return x, nil
}

// network describes the parameter layout of a perceptron.
type network struct {
	layers  []int
	offsets []int
	size    int
}

func newNetwork(layers []int) *network {
	n := &network{layers: layers, offsets: make([]int, len(layers)-1)}
	for l := 0; l < len(layers)-1; l++ {
		n.offsets[l] = n.size
		n.size += layers[l]*layers[l+1] + layers[l+1]
	}
	return n
}

// params returns views of layer l's weights and biases inside w.
func (n *network) params(w []float64, l int) (*mat.Dense, []float64) {
	in, out := n.layers[l], n.layers[l+1]
	off := n.offsets[l]
	return mat.NewDense(in, out, w[off:off+in*out]), w[off+in*out : off+in*out+out]
}

// initWeights draws uniform weights scaled by fan-in and fan-out, with zero biases.
func (n *network) initWeights(rng *rand.Rand) []float64 {
	w := make([]float64, n.size)
	for l := 0; l < len(n.layers)-1; l++ {
		in, out := n.layers[l], n.layers[l+1]
		limit := math.Sqrt(6.0 / float64(in+out))
		off := n.offsets[l]
		for i := off; i < off+in*out; i++ {
			w[i] = (rng.Float64()*2 - 1) * limit
		}
	}
	return w
}

// forward returns the activations of every layer, input included, and the
// pre-softmax output of the last layer.
func (n *network) forward(w []float64, x *mat.Dense) ([]*mat.Dense, *mat.Dense) {
	rows, _ := x.Dims()
	last := len(n.layers) - 2
	acts := []*mat.Dense{x}
	var z *mat.Dense
	for l := 0; l <= last; l++ {
		wl, bl := n.params(w, l)
		z = mat.NewDense(rows, n.layers[l+1], nil)
		z.Mul(acts[l], wl)
		a := mat.NewDense(rows, n.layers[l+1], nil)
		for i := 0; i < rows; i++ {
			zi := z.RawRowView(i)
			floats.Add(zi, bl)
			ai := a.RawRowView(i)
			if l == last {
				copy(ai, zi)
				softmax(ai)
				continue
			}
			for j, v := range zi {
				ai[j] = sigmoid(v)
			}
		}
		acts = append(acts, a)
	}
	return acts, z
}

// loss returns the mean cross-entropy of the network on x and, when grad is
// not nil, stores its gradient with respect to w.
func (n *network) loss(w []float64, x *mat.Dense, labels []int64, grad []float64) float64 {
	acts, _ := n.forward(w, x)
	rows, _ := x.Dims()
	out := acts[len(acts)-1]

	total := 0.0
	for i, y := range labels {
		total -= math.Log(max(out.At(i, int(y)), 1e-15))
	}
	loss := total / float64(rows)
	if grad == nil {
		return loss
	}

	// delta of the output layer for softmax with cross-entropy
	delta := mat.DenseCopyOf(out)
	for i, y := range labels {
		delta.Set(i, int(y), delta.At(i, int(y))-1)
	}
	delta.Scale(1/float64(rows), delta)

	for l := len(n.layers) - 2; l >= 0; l-- {
		gw, gb := n.params(grad, l)
		gw.Mul(acts[l].T(), delta)
		for j := range gb {
			gb[j] = floats.Sum(mat.Col(nil, j, delta))
		}
		if l == 0 {
			break
		}
		wl, _ := n.params(w, l)
		var prev mat.Dense
		prev.Mul(delta, wl.T())
		a := acts[l]
		prev.Apply(func(i, j int, v float64) float64 {
			s := a.At(i, j)
			return v * s * (1 - s)
		}, &prev)
		delta = &prev
	}
	return loss
}

var (
	_ Stage       = (*MultilayerPerceptronClassifier)(nil)
	_ Transformer = (*MultilayerPerceptronModel)(nil)
)
