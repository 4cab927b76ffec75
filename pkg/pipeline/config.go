package pipeline

import (
	"errors"
	"fmt"
	"slices"

	"github.com/unijord/pdm/pkg/ml"
	"github.com/unijord/pdm/pkg/objstore"
	"github.com/unijord/pdm/pkg/records"
)

// Default locations of the job.
const (
	DefaultTelemetryPath = "s3a://your-bucket/PdM_telemetry.parquet"
	DefaultFailuresPath  = "s3a://your-bucket/PdM_failures.parquet"
	DefaultOutputPath    = "s3a://your-another-bucket/data/partitions/data.csv"
)

var (
	// ErrInvalidConfig matches every configuration error.
	ErrInvalidConfig = errors.New("invalid job config")
	// ErrMissingPath is returned when an input or output location is empty.
	ErrMissingPath = errors.New("location cannot be empty")
	// ErrInvalidLayers is returned when layer sizes are unusable.
	ErrInvalidLayers = errors.New("layers must have at least two positive sizes")
	// ErrInvalidFraction is returned when the train fraction is not in (0,1).
	ErrInvalidFraction = errors.New("train_fraction must be in (0, 1)")
	// ErrInvalidWindow is returned for a non-positive label window.
	ErrInvalidWindow = errors.New("label_window must be positive")
	// ErrInvalidRatio is returned for a non-positive balance ratio.
	ErrInvalidRatio = errors.New("balance_ratio must be positive")
	// ErrInvalidMaxIter is returned for a non-positive iteration limit.
	ErrInvalidMaxIter = errors.New("max_iter must be positive")
	// ErrInvalidMetric is returned for an unknown evaluation metric.
	ErrInvalidMetric = errors.New("unknown metric")
	// ErrInvalidPartitionSpec is returned when partition_spec is invalid.
	ErrInvalidPartitionSpec = errors.New("invalid partition_spec")
	// ErrUnknownSourceColumn is returned when a partition source is not an output column.
	ErrUnknownSourceColumn = errors.New("source references unknown output column")
	// ErrDuplicatePartitionName is returned when two partition fields share a name.
	ErrDuplicatePartitionName = errors.New("duplicate partition name")
	// ErrInvalidTransform is returned when transform is not recognized.
	ErrInvalidTransform = errors.New("invalid transform")
)

var metrics = []string{ml.MetricF1, ml.MetricAccuracy, ml.MetricWeightedPrecision, ml.MetricWeightedRecall}

// Config describes one training run.
type Config struct {
	// TelemetryPath and FailuresPath locate the input Parquet datasets.
	TelemetryPath string `json:"telemetry_path"`
	FailuresPath  string `json:"failures_path"`

	// OutputPath is the directory receiving the partitioned predictions.
	// Everything under it is replaced.
	OutputPath string `json:"output_path"`

	// LabelWindow is the number of later readings a failure is backfilled into.
	LabelWindow int `json:"label_window"`

	// BalanceRatio is the target majority:minority ratio after sampling.
	BalanceRatio float64 `json:"balance_ratio"`

	// SampleSeed seeds the majority sample. Nil samples differently every run.
	SampleSeed *uint64 `json:"sample_seed,omitempty"`

	// TrainFraction of the balanced set is used for training, the rest for testing.
	TrainFraction float64 `json:"train_fraction"`
	SplitSeed     uint64  `json:"split_seed"`

	// Layers are the perceptron layer sizes, input first and classes last.
	Layers  []int   `json:"layers"`
	MaxIter int     `json:"max_iter"`
	Tol     float64 `json:"tol"`
	Seed    uint64  `json:"seed"`

	// Metric is the evaluation metric reported as the job score.
	Metric string `json:"metric"`

	// PartitionSpec defines the output directory layout.
	PartitionSpec []PartitionField `json:"partition_spec"`
}

// PartitionField defines a single partition dimension.
type PartitionField struct {
	// Source is the output column the value is derived from.
	Source string `json:"source"`

	// Transform derives the partition value from the source.
	// Options: identity, bucket, year, month, day, hour
	Transform PartitionTransform `json:"transform"`

	// Param is the bucket count of the bucket transform.
	Param int `json:"param,omitempty"`

	// Name is the partition key name in the output path.
	// Example: "year" produces directories like "year=2015"
	Name string `json:"name"`
}

// DefaultConfig returns the configuration of the production job.
func DefaultConfig() Config {
	return Config{
		TelemetryPath: DefaultTelemetryPath,
		FailuresPath:  DefaultFailuresPath,
		OutputPath:    DefaultOutputPath,
		LabelWindow:   24,
		BalanceRatio:  4,
		TrainFraction: 0.8,
		SplitSeed:     42,
		Layers:        []int{104, 256, records.NumClasses},
		MaxIter:       200,
		Tol:           1e-6,
		Seed:          42,
		Metric:        ml.MetricF1,
		PartitionSpec: []PartitionField{
			{Source: ColYear, Transform: TransformIdentity, Name: ColYear},
			{Source: ColMonth, Transform: TransformIdentity, Name: ColMonth},
			{Source: ColDay, Transform: TransformIdentity, Name: ColDay},
		},
	}
}

// Validate checks if the configuration is structurally valid. It does no I/O.
func (c *Config) Validate() error {
	paths := []struct {
		field string
		value string
	}{
		{"telemetry_path", c.TelemetryPath},
		{"failures_path", c.FailuresPath},
		{"output_path", c.OutputPath},
	}
	for _, p := range paths {
		if p.value == "" {
			return &ConfigError{Field: p.field, Err: ErrMissingPath}
		}
		if _, err := objstore.ParseLocation(p.value); err != nil {
			return &ConfigError{Field: p.field, Err: err}
		}
	}

	if c.LabelWindow <= 0 {
		return &ConfigError{Field: "label_window", Err: ErrInvalidWindow}
	}
	if c.BalanceRatio <= 0 {
		return &ConfigError{Field: "balance_ratio", Err: ErrInvalidRatio}
	}
	if c.TrainFraction <= 0 || c.TrainFraction >= 1 {
		return &ConfigError{Field: "train_fraction", Err: ErrInvalidFraction}
	}

	if len(c.Layers) < 2 {
		return &ConfigError{Field: "layers", Err: ErrInvalidLayers}
	}
	for i, n := range c.Layers {
		if n <= 0 {
			return &ConfigError{Field: fmt.Sprintf("layers[%d]", i), Err: ErrInvalidLayers}
		}
	}
	if out := c.Layers[len(c.Layers)-1]; out != records.NumClasses {
		return &ConfigError{
			Field: "layers",
			Err:   fmt.Errorf("%w: output layer has %d units, want %d classes", ErrInvalidLayers, out, records.NumClasses),
		}
	}
	if c.MaxIter <= 0 {
		return &ConfigError{Field: "max_iter", Err: ErrInvalidMaxIter}
	}
	if !slices.Contains(metrics, c.Metric) {
		return &ConfigError{Field: "metric", Err: fmt.Errorf("%w: %q", ErrInvalidMetric, c.Metric)}
	}

	return c.validatePartitionSpec()
}

// validatePartitionSpec validates the partition specification.
func (c *Config) validatePartitionSpec() error {
	names := make(map[string]bool, len(c.PartitionSpec))

	for i, pf := range c.PartitionSpec {
		field := fmt.Sprintf("partition_spec[%d]", i)
		if !slices.Contains(OutputColumns, pf.Source) {
			return &ConfigError{Field: field, Err: fmt.Errorf("%w: %q", ErrUnknownSourceColumn, pf.Source)}
		}
		if !isValidTransform(pf.Transform) {
			return &ConfigError{Field: field, Err: fmt.Errorf("%w: %q", ErrInvalidTransform, pf.Transform)}
		}
		if pf.Transform == TransformBucket && pf.Param <= 0 {
			return &ConfigError{Field: field, Err: fmt.Errorf("%w: bucket needs a positive param", ErrInvalidPartitionSpec)}
		}
		if pf.Name == "" {
			return &ConfigError{Field: field, Err: fmt.Errorf("%w: name cannot be empty", ErrInvalidPartitionSpec)}
		}
		if names[pf.Name] {
			return &ConfigError{Field: field, Err: fmt.Errorf("%w: %q", ErrDuplicatePartitionName, pf.Name)}
		}
		names[pf.Name] = true
	}

	return nil
}

// isValidTransform checks if the transform is recognized.
func isValidTransform(t PartitionTransform) bool {
	switch t {
	case TransformIdentity, TransformBucket,
		TransformYear, TransformMonth, TransformDay, TransformHour:
		return true
	default:
		return false
	}
}
