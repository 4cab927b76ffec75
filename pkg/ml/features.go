package ml

import (
	"context"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/unijord/pdm/pkg/frame"
)

// VectorAssembler concatenates numeric and vector columns into one vector
// column. It needs no fitting.
type VectorAssembler struct {
	InputCols []string
	OutputCol string
}

func (a *VectorAssembler) Fit(context.Context, *frame.Frame) (Transformer, error) {
	return a, nil
}

func (a *VectorAssembler) Transform(_ context.Context, f *frame.Frame) (*frame.Frame, error) {
	out := make(frame.Vectors, f.NumRows())
	for _, name := range a.InputCols {
		col, err := f.Column(name)
		if err != nil {
			return nil, err
		}
		switch c := col.(type) {
		case frame.Float64s:
			for i, v := range c {
				out[i] = append(out[i], v)
			}
		case frame.Int64s:
			for i, v := range c {
				out[i] = append(out[i], float64(v))
			}
		case frame.Vectors:
			for i, v := range c {
				out[i] = append(out[i], v...)
			}
		default:
			return nil, fmt.Errorf("%w: %q is %s", frame.ErrTypeMismatch, name, col.Kind())
		}
	}
	return f.With(a.OutputCol, out)
}

// Normalizer scales every vector to unit p-norm. Zero vectors are left as is.
type Normalizer struct {
	InputCol  string
	OutputCol string
	// P is the norm order. Defaults to 2.
	P float64
}

func (n *Normalizer) Fit(context.Context, *frame.Frame) (Transformer, error) {
	return n, nil
}

func (n *Normalizer) Transform(_ context.Context, f *frame.Frame) (*frame.Frame, error) {
	p := n.P
	if p == 0 {
		p = 2
	}
	if p < 1 {
		return nil, fmt.Errorf("normalizer p must be >= 1, got %v", p)
	}
	in, err := f.Vectors(n.InputCol)
	if err != nil {
		return nil, err
	}
	out := make(frame.Vectors, len(in))
	for i, v := range in {
		scaled := slices.Clone(v)
		if norm := floats.Norm(v, p); norm > 0 {
			floats.Scale(1/norm, scaled)
		}
		out[i] = scaled
	}
	return f.With(n.OutputCol, out)
}

// OneHotEncoder encodes a non-negative integer column as a one-hot vector.
// Fit learns the number of categories as max(value)+1.
type OneHotEncoder struct {
	InputCol  string
	OutputCol string
	// DropLast drops the last category, which then encodes as all zeros.
	DropLast bool
}

func (e *OneHotEncoder) Fit(_ context.Context, f *frame.Frame) (Transformer, error) {
	ids, err := f.Int64s(e.InputCol)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: one-hot column %q", ErrEmptyInput, e.InputCol)
	}
	top := int64(0)
	for _, id := range ids {
		if id < 0 {
			return nil, fmt.Errorf("%w: %q value %d is negative", ErrInvalidCategory, e.InputCol, id)
		}
		top = max(top, id)
	}
	return &OneHotModel{
		InputCol:  e.InputCol,
		OutputCol: e.OutputCol,
		DropLast:  e.DropLast,
		Size:      int(top) + 1,
	}, nil
}

// OneHotModel is a fitted OneHotEncoder.
type OneHotModel struct {
	InputCol  string
	OutputCol string
	DropLast  bool
	// Size is the number of categories.
	Size int
}

// Width returns the length of the encoded vectors.
func (m *OneHotModel) Width() int {
	if m.DropLast {
		return m.Size - 1
	}
	return m.Size
}

func (m *OneHotModel) Transform(_ context.Context, f *frame.Frame) (*frame.Frame, error) {
	ids, err := f.Int64s(m.InputCol)
	if err != nil {
		return nil, err
	}
	width := m.Width()
	out := make(frame.Vectors, len(ids))
	for i, id := range ids {
		if id < 0 || id >= int64(m.Size) {
			return nil, fmt.Errorf("%w: %q value %d outside [0,%d)", ErrInvalidCategory, m.InputCol, id, m.Size)
		}
		v := make([]float64, width)
		if int(id) < width {
			v[id] = 1
		}
		out[i] = v
	}
	return f.With(m.OutputCol, out)
}
