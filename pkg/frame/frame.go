// Package frame provides a small typed columnar table used as the in-process
// dataframe of the training job. Frames are immutable: every operation
// returns a new frame and columns may be shared between frames.
package frame

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"
)

var (
	// ErrColumnNotFound is returned when a named column does not exist.
	ErrColumnNotFound = errors.New("column not found")
	// ErrTypeMismatch is returned when a column has an unexpected kind.
	ErrTypeMismatch = errors.New("column type mismatch")
	// ErrLengthMismatch is returned when columns have different lengths.
	ErrLengthMismatch = errors.New("column length mismatch")
	// ErrDuplicateColumn is returned when two columns share a name.
	ErrDuplicateColumn = errors.New("duplicate column name")
	// ErrSchemaMismatch is returned when frames with different layouts are combined.
	ErrSchemaMismatch = errors.New("frame schema mismatch")
)

// Kind is the logical type of a column.
type Kind int

const (
	KindInt64 Kind = iota
	KindFloat64
	KindString
	KindTime
	KindVector
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	case KindTime:
		return "time"
	case KindVector:
		return "vector"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Column is a typed column of values.
type Column interface {
	Kind() Kind
	Len() int
	take(idx []int) Column
	concat(other Column) Column
}

// Int64s is an integer column.
type Int64s []int64

// Float64s is a floating point column.
type Float64s []float64

// Strings is a string column.
type Strings []string

// Times is a timestamp column.
type Times []time.Time

// Vectors is a column of dense numeric vectors.
type Vectors [][]float64

func (c Int64s) Kind() Kind   { return KindInt64 }
func (c Float64s) Kind() Kind { return KindFloat64 }
func (c Strings) Kind() Kind  { return KindString }
func (c Times) Kind() Kind    { return KindTime }
func (c Vectors) Kind() Kind  { return KindVector }

func (c Int64s) Len() int   { return len(c) }
func (c Float64s) Len() int { return len(c) }
func (c Strings) Len() int  { return len(c) }
func (c Times) Len() int    { return len(c) }
func (c Vectors) Len() int  { return len(c) }

func (c Int64s) take(idx []int) Column   { return takeSlice(c, idx) }
func (c Float64s) take(idx []int) Column { return takeSlice(c, idx) }
func (c Strings) take(idx []int) Column  { return takeSlice(c, idx) }
func (c Times) take(idx []int) Column    { return takeSlice(c, idx) }
func (c Vectors) take(idx []int) Column  { return takeSlice(c, idx) }

func (c Int64s) concat(o Column) Column   { return slices.Concat(c, o.(Int64s)) }
func (c Float64s) concat(o Column) Column { return slices.Concat(c, o.(Float64s)) }
func (c Strings) concat(o Column) Column  { return slices.Concat(c, o.(Strings)) }
func (c Times) concat(o Column) Column    { return slices.Concat(c, o.(Times)) }
func (c Vectors) concat(o Column) Column  { return slices.Concat(c, o.(Vectors)) }

func takeSlice[S ~[]E, E any](s S, idx []int) S {
	out := make(S, len(idx))
	for i, j := range idx {
		out[i] = s[j]
	}
	return out
}

// Named pairs a column with its name.
type Named struct {
	Name string
	Col  Column
}

// Frame is an immutable set of equally long named columns.
type Frame struct {
	names []string
	cols  []Column
	rows  int
}

// New builds a frame from named columns.
func New(cols ...Named) (*Frame, error) {
	f := &Frame{
		names: make([]string, 0, len(cols)),
		cols:  make([]Column, 0, len(cols)),
	}
	for i, c := range cols {
		if c.Col == nil {
			return nil, fmt.Errorf("column[%d] %q: nil column", i, c.Name)
		}
		if slices.Contains(f.names, c.Name) {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, c.Name)
		}
		if i == 0 {
			f.rows = c.Col.Len()
		} else if c.Col.Len() != f.rows {
			return nil, fmt.Errorf("%w: %q has %d rows, want %d", ErrLengthMismatch, c.Name, c.Col.Len(), f.rows)
		}
		f.names = append(f.names, c.Name)
		f.cols = append(f.cols, c.Col)
	}
	return f, nil
}

// MustNew is like New but panics on error. Intended for tests and literals.
func MustNew(cols ...Named) *Frame {
	f, err := New(cols...)
	if err != nil {
		panic(err)
	}
	return f
}

// NumRows returns the number of rows.
func (f *Frame) NumRows() int { return f.rows }

// NumCols returns the number of columns.
func (f *Frame) NumCols() int { return len(f.cols) }

// Names returns the column names in order.
func (f *Frame) Names() []string { return slices.Clone(f.names) }

// Index returns the position of a column, or -1 if not found.
func (f *Frame) Index(name string) int {
	return slices.Index(f.names, name)
}

// Column returns the named column.
func (f *Frame) Column(name string) (Column, error) {
	i := f.Index(name)
	if i < 0 {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}
	return f.cols[i], nil
}

func typed[C Column](f *Frame, name string, kind Kind) (C, error) {
	var zero C
	col, err := f.Column(name)
	if err != nil {
		return zero, err
	}
	c, ok := col.(C)
	if !ok {
		return zero, fmt.Errorf("%w: %q is %s, want %s", ErrTypeMismatch, name, col.Kind(), kind)
	}
	return c, nil
}

// Int64s returns the named integer column.
func (f *Frame) Int64s(name string) (Int64s, error) { return typed[Int64s](f, name, KindInt64) }

// Float64s returns the named float column.
func (f *Frame) Float64s(name string) (Float64s, error) {
	return typed[Float64s](f, name, KindFloat64)
}

// Strings returns the named string column.
func (f *Frame) Strings(name string) (Strings, error) { return typed[Strings](f, name, KindString) }

// Times returns the named timestamp column.
func (f *Frame) Times(name string) (Times, error) { return typed[Times](f, name, KindTime) }

// Vectors returns the named vector column.
func (f *Frame) Vectors(name string) (Vectors, error) { return typed[Vectors](f, name, KindVector) }

// With returns a frame with the column added, or replaced if the name exists.
func (f *Frame) With(name string, col Column) (*Frame, error) {
	if col.Len() != f.rows && len(f.cols) > 0 {
		return nil, fmt.Errorf("%w: %q has %d rows, want %d", ErrLengthMismatch, name, col.Len(), f.rows)
	}
	out := &Frame{names: slices.Clone(f.names), cols: slices.Clone(f.cols), rows: col.Len()}
	if i := out.Index(name); i >= 0 {
		out.cols[i] = col
		return out, nil
	}
	out.names = append(out.names, name)
	out.cols = append(out.cols, col)
	return out, nil
}

// Select returns a frame with only the named columns, in the given order.
func (f *Frame) Select(names ...string) (*Frame, error) {
	cols := make([]Named, 0, len(names))
	for _, name := range names {
		col, err := f.Column(name)
		if err != nil {
			return nil, err
		}
		cols = append(cols, Named{Name: name, Col: col})
	}
	out, err := New(cols...)
	if err != nil {
		return nil, err
	}
	out.rows = f.rows
	return out, nil
}

// Take returns the rows at the given positions, in order.
func (f *Frame) Take(idx []int) *Frame {
	out := &Frame{names: slices.Clone(f.names), cols: make([]Column, len(f.cols)), rows: len(idx)}
	for i, col := range f.cols {
		out.cols[i] = col.take(idx)
	}
	return out
}

// Filter returns the rows for which keep returns true.
func (f *Frame) Filter(keep func(row int) bool) *Frame {
	idx := make([]int, 0, f.rows)
	for i := 0; i < f.rows; i++ {
		if keep(i) {
			idx = append(idx, i)
		}
	}
	return f.Take(idx)
}

// Sample keeps each row independently with probability fraction
// (sampling without replacement).
func (f *Frame) Sample(fraction float64, rng *rand.Rand) *Frame {
	switch {
	case fraction >= 1:
		return f.Take(identity(f.rows))
	case fraction <= 0:
		return f.Take(nil)
	}
	return f.Filter(func(int) bool { return rng.Float64() < fraction })
}

// Shuffle returns the rows in a random order.
func (f *Frame) Shuffle(rng *rand.Rand) *Frame {
	idx := identity(f.rows)
	rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	return f.Take(idx)
}

// Union appends the rows of b to a. Both frames must have the same column
// names and kinds in the same order.
func Union(a, b *Frame) (*Frame, error) {
	if !slices.Equal(a.names, b.names) {
		return nil, fmt.Errorf("%w: %v vs %v", ErrSchemaMismatch, a.names, b.names)
	}
	out := &Frame{names: slices.Clone(a.names), cols: make([]Column, len(a.cols)), rows: a.rows + b.rows}
	for i := range a.cols {
		if a.cols[i].Kind() != b.cols[i].Kind() {
			return nil, fmt.Errorf("%w: %q is %s vs %s", ErrSchemaMismatch, a.names[i], a.cols[i].Kind(), b.cols[i].Kind())
		}
		out.cols[i] = a.cols[i].concat(b.cols[i])
	}
	return out, nil
}

func identity(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}
