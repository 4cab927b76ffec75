// Package pipeline configures and runs the predictive-maintenance training
// job: load, label, balance, train, evaluate and write predictions.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/unijord/pdm/pkg/balance"
	"github.com/unijord/pdm/pkg/dataset"
	"github.com/unijord/pdm/pkg/engine"
	"github.com/unijord/pdm/pkg/features"
	"github.com/unijord/pdm/pkg/frame"
	"github.com/unijord/pdm/pkg/ml"
	"github.com/unijord/pdm/pkg/objstore"
	"github.com/unijord/pdm/pkg/records"
)

// Intermediate columns of the training pipeline.
const (
	ColNumericFeatures       = "numericFeatures"
	ColNumericFeaturesScaled = "numericFeaturesScaled"
	ColMachineIDOneHot       = "MachineIDOneHot"
	ColFeatures              = ml.DefaultFeaturesCol
)

// persistedBalanced names the balanced training set in the session.
const persistedBalanced = "balanced"

// NewTrainingPipeline returns the unfitted stage chain:
// sensor vector, L2 normalisation, machine one-hot, final assembly and the
// perceptron classifier.
func NewTrainingPipeline(cfg *Config, logger *slog.Logger) *ml.Pipeline {
	return ml.NewPipeline(
		&ml.VectorAssembler{
			InputCols: []string{dataset.ColVolt, dataset.ColRotate, dataset.ColPressure, dataset.ColVibration},
			OutputCol: ColNumericFeatures,
		},
		&ml.Normalizer{InputCol: ColNumericFeatures, OutputCol: ColNumericFeaturesScaled, P: 2},
		&ml.OneHotEncoder{InputCol: dataset.ColMachineID, OutputCol: ColMachineIDOneHot, DropLast: true},
		&ml.VectorAssembler{
			InputCols: []string{ColMachineIDOneHot, ColNumericFeaturesScaled},
			OutputCol: ColFeatures,
		},
		&ml.MultilayerPerceptronClassifier{
			FeaturesCol: ColFeatures,
			LabelCol:    features.ColLabel,
			Layers:      cfg.Layers,
			MaxIter:     cfg.MaxIter,
			Tol:         cfg.Tol,
			Seed:        cfg.Seed,
			Logger:      logger,
		},
	)
}

// Run executes the job. The configuration is validated before any I/O.
func Run(ctx context.Context, sess *engine.Session, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	layout, err := CompileOutput(&cfg)
	if err != nil {
		return nil, err
	}
	telemetryLoc, _ := objstore.ParseLocation(cfg.TelemetryPath)
	failuresLoc, _ := objstore.ParseLocation(cfg.FailuresPath)
	outputLoc, _ := objstore.ParseLocation(cfg.OutputPath)

	// output storage is resolved before any input I/O
	store, err := sess.Store(outputLoc)
	if err != nil {
		return nil, fmt.Errorf("resolve output: %w", err)
	}

	logger := sess.Logger()
	res := &Result{RunID: sess.RunID(), Metric: cfg.Metric}

	started := time.Now()
	telemetry, err := dataset.LoadTelemetry(ctx, sess, telemetryLoc)
	if err != nil {
		return nil, fmt.Errorf("load telemetry: %w", err)
	}
	failures, err := dataset.LoadFailures(ctx, sess, failuresLoc)
	if err != nil {
		return nil, fmt.Errorf("load failures: %w", err)
	}
	res.TelemetryRows, res.FailureRows = len(telemetry), len(failures)
	res.addStage("load", len(telemetry)+len(failures), started)

	started = time.Now()
	labeled, err := features.Build(ctx, telemetry, failures, features.Options{Window: cfg.LabelWindow, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("build features: %w", err)
	}
	res.LabeledRows = labeled.NumRows()
	res.addStage("label", labeled.NumRows(), started)

	started = time.Now()
	balanced, _, err := balance.Balance(labeled, balance.Options{
		LabelColumn: features.ColLabel,
		Ratio:       cfg.BalanceRatio,
		Seed:        cfg.SampleSeed,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("balance classes: %w", err)
	}
	if balanced, err = sess.Persist(persistedBalanced, balanced); err != nil {
		return nil, err
	}
	res.BalancedRows = balanced.NumRows()
	logger.Info("[pipeline] balanced training set", slog.Int("rows", res.BalancedRows))
	res.addStage("balance", res.BalancedRows, started)

	splits, err := balanced.RandomSplit([]float64{cfg.TrainFraction, 1 - cfg.TrainFraction}, cfg.SplitSeed)
	if err != nil {
		return nil, err
	}
	train, test := splits[0], splits[1]
	res.TrainRows, res.TestRows = train.NumRows(), test.NumRows()

	started = time.Now()
	model, err := NewTrainingPipeline(&cfg, logger).Fit(ctx, train)
	if err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}
	res.addStage("train", train.NumRows(), started)

	started = time.Now()
	scored, err := model.Transform(ctx, test)
	if err != nil {
		return nil, fmt.Errorf("score test split: %w", err)
	}
	evaluator := &ml.MulticlassEvaluator{LabelCol: features.ColLabel, MetricName: cfg.Metric}
	if res.Metrics, err = evaluator.Metrics(scored); err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	if res.Score, err = res.Metrics.Value(cfg.Metric); err != nil {
		return nil, err
	}
	logger.Info("[pipeline] evaluated",
		slog.String("metric", cfg.Metric),
		slog.Float64("score", res.Score),
		slog.Float64("accuracy", res.Metrics.Accuracy),
		slog.Int("test_rows", res.TestRows))
	res.addStage("evaluate", test.NumRows(), started)

	started = time.Now()
	predictions, err := PredictionFrame(scored)
	if err != nil {
		return nil, err
	}
	writer := &PartitionedWriter{
		Store:     store,
		Dest:      outputLoc,
		Layout:    layout,
		RunID:     sess.RunID(),
		Allocator: sess.Allocator(),
		Logger:    logger,
	}
	if res.Output, err = writer.Write(ctx, predictions); err != nil {
		return nil, fmt.Errorf("write predictions: %w", err)
	}
	res.addStage("write", predictions.NumRows(), started)

	logger.Info("[pipeline] run complete",
		slog.Float64(cfg.Metric, res.Score),
		slog.Duration("took", res.Duration()))
	return res, nil
}

// PredictionFrame derives the output columns from a scored frame.
func PredictionFrame(scored *frame.Frame) (*frame.Frame, error) {
	times, err := scored.Times(ColDatetime)
	if err != nil {
		return nil, err
	}
	ids, err := scored.Int64s(ColMachineID)
	if err != nil {
		return nil, err
	}
	classes, err := scored.Int64s(ColPrediction)
	if err != nil {
		return nil, err
	}

	n := len(times)
	var (
		years  = make(frame.Int64s, n)
		months = make(frame.Int64s, n)
		days   = make(frame.Int64s, n)
	)
	for i := range times {
		p := records.NewPrediction(times[i], ids[i], int(classes[i]))
		years[i], months[i], days[i] = int64(p.Year), int64(p.Month), int64(p.Day)
	}
	return frame.New(
		frame.Named{Name: ColDatetime, Col: times},
		frame.Named{Name: ColYear, Col: years},
		frame.Named{Name: ColMonth, Col: months},
		frame.Named{Name: ColDay, Col: days},
		frame.Named{Name: ColMachineID, Col: ids},
		frame.Named{Name: ColPrediction, Col: classes},
	)
}
