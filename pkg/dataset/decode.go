package dataset

import (
	"errors"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

var (
	// ErrMissingColumn is returned when a required column is absent.
	ErrMissingColumn = errors.New("missing column")
	// ErrNullValue is returned when a required column holds a null.
	ErrNullValue = errors.New("null value in required column")
	// ErrColumnType is returned when a column has an unsupported physical type.
	ErrColumnType = errors.New("unsupported column type")
)

// accessor reads the i-th value of one array chunk.
type accessor[T any] func(i int) (T, error)

// decodeColumn reads the named column of tbl into a slice. When nullable is
// false a null fails the decode; otherwise valid reports which rows are set.
func decodeColumn[T any](tbl arrow.Table, name string, nullable bool, bind func(arrow.Array) (accessor[T], error)) (vals []T, valid []bool, err error) {
	idx := tbl.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return nil, nil, fmt.Errorf("%w: %q", ErrMissingColumn, name)
	}
	col := tbl.Column(idx[0])

	vals = make([]T, 0, tbl.NumRows())
	if nullable {
		valid = make([]bool, 0, tbl.NumRows())
	}
	row := 0
	for _, chunk := range col.Data().Chunks() {
		get, err := bind(chunk)
		if err != nil {
			return nil, nil, fmt.Errorf("column %q: %w", name, err)
		}
		for i := 0; i < chunk.Len(); i++ {
			if chunk.IsNull(i) {
				if !nullable {
					return nil, nil, fmt.Errorf("%w: %q row %d", ErrNullValue, name, row)
				}
				var zero T
				vals = append(vals, zero)
				valid = append(valid, false)
				row++
				continue
			}
			v, err := get(i)
			if err != nil {
				return nil, nil, fmt.Errorf("column %q row %d: %w", name, row, err)
			}
			vals = append(vals, v)
			if nullable {
				valid = append(valid, true)
			}
			row++
		}
	}
	return vals, valid, nil
}

func bindTime(arr arrow.Array) (accessor[time.Time], error) {
	switch a := arr.(type) {
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return func(i int) (time.Time, error) { return a.Value(i).ToTime(unit).UTC(), nil }, nil
	case *array.Date32:
		return func(i int) (time.Time, error) { return a.Value(i).ToTime().UTC(), nil }, nil
	case *array.Date64:
		return func(i int) (time.Time, error) { return a.Value(i).ToTime().UTC(), nil }, nil
	case *array.String:
		return func(i int) (time.Time, error) { return parseTime(a.Value(i)) }, nil
	case *array.LargeString:
		return func(i int) (time.Time, error) { return parseTime(a.Value(i)) }, nil
	}
	return nil, fmt.Errorf("%w: %s for timestamps", ErrColumnType, arr.DataType())
}

func parseTime(s string) (time.Time, error) {
	ts, err := arrow.TimestampFromString(s, arrow.Microsecond)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse datetime %q: %w", s, err)
	}
	return ts.ToTime(arrow.Microsecond).UTC(), nil
}

func bindInt(arr arrow.Array) (accessor[int64], error) {
	switch a := arr.(type) {
	case *array.Int64:
		return func(i int) (int64, error) { return a.Value(i), nil }, nil
	case *array.Int32:
		return func(i int) (int64, error) { return int64(a.Value(i)), nil }, nil
	case *array.Int16:
		return func(i int) (int64, error) { return int64(a.Value(i)), nil }, nil
	case *array.Int8:
		return func(i int) (int64, error) { return int64(a.Value(i)), nil }, nil
	case *array.Uint32:
		return func(i int) (int64, error) { return int64(a.Value(i)), nil }, nil
	case *array.Uint16:
		return func(i int) (int64, error) { return int64(a.Value(i)), nil }, nil
	case *array.Uint8:
		return func(i int) (int64, error) { return int64(a.Value(i)), nil }, nil
	case *array.Uint64:
		return func(i int) (int64, error) {
			v := a.Value(i)
			if v > 1<<63-1 {
				return 0, fmt.Errorf("value %d overflows int64", v)
			}
			return int64(v), nil
		}, nil
	}
	return nil, fmt.Errorf("%w: %s for integers", ErrColumnType, arr.DataType())
}

func bindFloat(arr arrow.Array) (accessor[float64], error) {
	switch a := arr.(type) {
	case *array.Float64:
		return func(i int) (float64, error) { return a.Value(i), nil }, nil
	case *array.Float32:
		return func(i int) (float64, error) { return float64(a.Value(i)), nil }, nil
	}
	ints, err := bindInt(arr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s for floats", ErrColumnType, arr.DataType())
	}
	return func(i int) (float64, error) {
		v, err := ints(i)
		return float64(v), err
	}, nil
}

func bindString(arr arrow.Array) (accessor[string], error) {
	switch a := arr.(type) {
	case *array.String:
		return func(i int) (string, error) { return a.Value(i), nil }, nil
	case *array.LargeString:
		return func(i int) (string, error) { return a.Value(i), nil }, nil
	case *array.Dictionary:
		dict, ok := a.Dictionary().(*array.String)
		if !ok {
			break
		}
		return func(i int) (string, error) { return dict.Value(a.GetValueIndex(i)), nil }, nil
	}
	return nil, fmt.Errorf("%w: %s for strings", ErrColumnType, arr.DataType())
}
