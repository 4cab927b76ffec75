package convert

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
)

// ColumnType is the type inferred for a CSV column.
type ColumnType string

const (
	TypeInt64     ColumnType = "long"
	TypeFloat64   ColumnType = "double"
	TypeBool      ColumnType = "boolean"
	TypeTimestamp ColumnType = "timestamp"
	TypeString    ColumnType = "string"
)

// ArrowType converts an inferred column type to an Arrow data type.
// Timestamps are local datetimes with microsecond precision.
func (t ColumnType) ArrowType() arrow.DataType {
	switch t {
	case TypeInt64:
		return arrow.PrimitiveTypes.Int64
	case TypeFloat64:
		return arrow.PrimitiveTypes.Float64
	case TypeBool:
		return arrow.FixedWidthTypes.Boolean
	case TypeTimestamp:
		return &arrow.TimestampType{Unit: arrow.Microsecond}
	default:
		return arrow.BinaryTypes.String
	}
}

// candidate tracks which types every non-empty cell of a column still parses as.
type candidate struct {
	seen    bool
	int64   bool
	float64 bool
	boolean bool
	time    bool
}

func newCandidate() candidate {
	return candidate{int64: true, float64: true, boolean: true, time: true}
}

func (c *candidate) observe(cell string) {
	if cell == "" {
		return
	}
	c.seen = true
	if c.int64 {
		if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
			c.int64 = false
		}
	}
	if c.float64 {
		if _, err := strconv.ParseFloat(cell, 64); err != nil {
			c.float64 = false
		}
	}
	if c.boolean {
		switch cell {
		case "true", "True", "false", "False":
		default:
			c.boolean = false
		}
	}
	if c.time {
		if _, err := arrow.TimestampFromString(cell, arrow.Microsecond); err != nil {
			c.time = false
		}
	}
}

// resolve picks the narrowest type every cell parses as.
// Order: long, double, boolean, timestamp, string.
func (c candidate) resolve() ColumnType {
	switch {
	case !c.seen:
		return TypeString
	case c.int64:
		return TypeInt64
	case c.float64:
		return TypeFloat64
	case c.boolean:
		return TypeBool
	case c.time:
		return TypeTimestamp
	default:
		return TypeString
	}
}

// InferSchema scans the whole CSV stream, header first, and returns a schema
// with one nullable field per header column. Empty cells are treated as nulls
// and do not constrain the type.
func InferSchema(r io.Reader) (*arrow.Schema, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: missing header", ErrMalformedCSV)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedCSV, err)
	}
	names := append([]string(nil), header...)
	if err := validateHeader(names); err != nil {
		return nil, err
	}

	cands := make([]candidate, len(names))
	for i := range cands {
		cands[i] = newCandidate()
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCSV, err)
		}
		for i, cell := range rec {
			cands[i].observe(cell)
		}
	}

	fields := make([]arrow.Field, len(names))
	for i, name := range names {
		fields[i] = arrow.Field{Name: name, Type: cands[i].resolve().ArrowType(), Nullable: true}
	}
	return arrow.NewSchema(fields, nil), nil
}

func validateHeader(names []string) error {
	seen := make(map[string]bool, len(names))
	for i, name := range names {
		if name == "" {
			return fmt.Errorf("%w: header column %d is empty", ErrMalformedCSV, i)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate header column %q", ErrMalformedCSV, name)
		}
		seen[name] = true
	}
	return nil
}
