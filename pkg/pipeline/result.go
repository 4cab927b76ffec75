package pipeline

import (
	"fmt"
	"time"

	"github.com/unijord/pdm/pkg/ml"
)

// ConfigError is a configuration error located at a config field. It
// matches ErrInvalidConfig as well as its cause.
type ConfigError struct {
	// Field is the offending config field.
	// Examples: "output_path", "layers[1]", "partition_spec[0]"
	Field string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrInvalidConfig, e.Field, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Is reports ErrInvalidConfig for errors.Is compatibility.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// StageResult records one step of the job.
type StageResult struct {
	Name     string
	Rows     int
	Duration time.Duration
}

// Result is the outcome of a successful run.
type Result struct {
	RunID string

	// Rows per dataset.
	TelemetryRows int
	FailureRows   int
	LabeledRows   int
	BalancedRows  int
	TrainRows     int
	TestRows      int

	// Score is the configured metric on the test split.
	Score   float64
	Metric  string
	Metrics ml.Metrics

	Output WriteStats

	// Stages contains timings in execution order.
	Stages []StageResult
}

// addStage records a finished step.
func (r *Result) addStage(name string, rows int, started time.Time) {
	r.Stages = append(r.Stages, StageResult{Name: name, Rows: rows, Duration: time.Since(started)})
}

// Duration returns the total time spent in stages.
func (r *Result) Duration() time.Duration {
	var d time.Duration
	for _, s := range r.Stages {
		d += s.Duration
	}
	return d
}
