// Package ml provides fit/transform stages over frames and a multilayer
// perceptron classifier.
package ml

import (
	"context"
	"errors"
	"fmt"

	"github.com/unijord/pdm/pkg/frame"
)

var (
	// ErrLayerMismatch is returned when the feature width differs from the
	// first layer of the network.
	ErrLayerMismatch = errors.New("feature width does not match input layer")
	// ErrInvalidCategory is returned when a categorical value is negative or
	// outside the range learned at fit time.
	ErrInvalidCategory = errors.New("invalid category")
	// ErrInvalidLabel is returned when a label is not a class of the output layer.
	ErrInvalidLabel = errors.New("invalid label")
	// ErrEmptyInput is returned when fitting on a frame without rows.
	ErrEmptyInput = errors.New("empty input")
)

// Transformer maps a frame to a frame, usually by adding a column.
type Transformer interface {
	Transform(ctx context.Context, f *frame.Frame) (*frame.Frame, error)
}

// Stage learns a Transformer from a frame.
type Stage interface {
	Fit(ctx context.Context, f *frame.Frame) (Transformer, error)
}

// Pipeline is an ordered list of stages.
type Pipeline struct {
	Stages []Stage
}

// NewPipeline creates a pipeline from stages.
func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{Stages: stages}
}

// Fit fits every stage in order, each on the output of the previously
// fitted stages.
func (p *Pipeline) Fit(ctx context.Context, f *frame.Frame) (*PipelineModel, error) {
	model := &PipelineModel{Transformers: make([]Transformer, 0, len(p.Stages))}
	for i, stage := range p.Stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, err := stage.Fit(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("fit stage[%d] %T: %w", i, stage, err)
		}
		model.Transformers = append(model.Transformers, t)
		if i == len(p.Stages)-1 {
			break
		}
		if f, err = t.Transform(ctx, f); err != nil {
			return nil, fmt.Errorf("transform stage[%d] %T: %w", i, t, err)
		}
	}
	return model, nil
}

// PipelineModel is a fitted pipeline. It is immutable.
type PipelineModel struct {
	Transformers []Transformer
}

// Transform applies every fitted stage in order.
func (m *PipelineModel) Transform(ctx context.Context, f *frame.Frame) (*frame.Frame, error) {
	var err error
	for i, t := range m.Transformers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f, err = t.Transform(ctx, f); err != nil {
			return nil, fmt.Errorf("transform stage[%d] %T: %w", i, t, err)
		}
	}
	return f, nil
}
