package frame

import (
	"errors"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// ErrUnsupportedArrowType is returned when an Arrow column has no frame kind.
var ErrUnsupportedArrowType = errors.New("unsupported arrow type")

// Frame kind -> Arrow type
//
//	| Kind    | Arrow Type             |
//	|---------|------------------------|
//	| int64   | Int64                  |
//	| float64 | Float64                |
//	| string  | String                 |
//	| time    | Timestamp(µs, UTC)     |
//	| vector  | List<Float64>          |

// KindToArrow converts a frame kind to an Arrow data type.
func KindToArrow(k Kind) (arrow.DataType, error) {
	switch k {
	case KindInt64:
		return arrow.PrimitiveTypes.Int64, nil
	case KindFloat64:
		return arrow.PrimitiveTypes.Float64, nil
	case KindString:
		return arrow.BinaryTypes.String, nil
	case KindTime:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}, nil
	case KindVector:
		return arrow.ListOf(arrow.PrimitiveTypes.Float64), nil
	}
	return nil, fmt.Errorf("%w: kind %s", ErrUnsupportedArrowType, k)
}

// ArrowSchema builds the Arrow schema of the frame. Columns are not nullable.
func (f *Frame) ArrowSchema() (*arrow.Schema, error) {
	fields := make([]arrow.Field, len(f.cols))
	for i, col := range f.cols {
		dt, err := KindToArrow(col.Kind())
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", f.names[i], err)
		}
		fields[i] = arrow.Field{Name: f.names[i], Type: dt}
	}
	return arrow.NewSchema(fields, nil), nil
}

// ToRecord copies the frame into an Arrow record allocated from mem.
// The caller owns the record and must Release it.
func (f *Frame) ToRecord(mem memory.Allocator) (arrow.Record, error) {
	schema, err := f.ArrowSchema()
	if err != nil {
		return nil, err
	}

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for i, col := range f.cols {
		switch c := col.(type) {
		case Int64s:
			b.Field(i).(*array.Int64Builder).AppendValues(c, nil)
		case Float64s:
			b.Field(i).(*array.Float64Builder).AppendValues(c, nil)
		case Strings:
			b.Field(i).(*array.StringBuilder).AppendValues(c, nil)
		case Times:
			tb := b.Field(i).(*array.TimestampBuilder)
			for _, t := range c {
				tb.Append(arrow.Timestamp(t.UnixMicro()))
			}
		case Vectors:
			lb := b.Field(i).(*array.ListBuilder)
			vb := lb.ValueBuilder().(*array.Float64Builder)
			for _, v := range c {
				lb.Append(true)
				vb.AppendValues(v, nil)
			}
		default:
			return nil, fmt.Errorf("column %q: %w: %T", f.names[i], ErrUnsupportedArrowType, col)
		}
	}
	return b.NewRecord(), nil
}

// TimeFormat renders timestamps in output files. Fractional seconds are kept
// down to microseconds, the precision of stored timestamps, and omitted when zero.
const TimeFormat = "2006-01-02 15:04:05.999999"

// TimeOf formats a timestamp the way output files render it.
func TimeOf(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}
