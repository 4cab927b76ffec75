package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/twmb/murmur3"
)

// ErrInvalidWeights is returned when split weights are empty, negative or sum to zero.
var ErrInvalidWeights = errors.New("invalid split weights")

// RandomSplit partitions the rows into len(weights) disjoint frames whose
// sizes are proportional to the weights. A row's split is derived from a
// seeded Murmur3 hash of its content, so membership only depends on the row
// values and the seed, not on row order. Identical rows land in the same split.
func (f *Frame) RandomSplit(weights []float64, seed uint64) ([]*Frame, error) {
	if len(weights) == 0 {
		return nil, ErrInvalidWeights
	}
	total := 0.0
	for _, w := range weights {
		if w < 0 || math.IsNaN(w) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidWeights, weights)
		}
		total += w
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWeights, weights)
	}

	bounds := make([]float64, len(weights))
	acc := 0.0
	for i, w := range weights {
		acc += w / total
		bounds[i] = acc
	}
	bounds[len(bounds)-1] = 1

	parts := make([][]int, len(weights))
	var buf []byte
	for row := 0; row < f.rows; row++ {
		buf = f.appendRow(buf[:0], row)
		u := float64(murmur3.SeedSum64(seed, buf)>>11) / (1 << 53)
		for i, b := range bounds {
			if u < b {
				parts[i] = append(parts[i], row)
				break
			}
		}
	}

	out := make([]*Frame, len(parts))
	for i, idx := range parts {
		out[i] = f.Take(idx)
	}
	return out, nil
}

// Fingerprint returns an xxHash64 digest of the column names and all rows in
// order. Two frames with the same fingerprint hold the same data.
func (f *Frame) Fingerprint() uint64 {
	d := xxhash.New()
	for _, name := range f.names {
		_, _ = d.WriteString(name)
		_, _ = d.Write([]byte{0})
	}
	var buf []byte
	for row := 0; row < f.rows; row++ {
		buf = f.appendRow(buf[:0], row)
		_, _ = d.Write(buf)
	}
	return d.Sum64()
}

// appendRow appends a stable binary encoding of one row to buf.
func (f *Frame) appendRow(buf []byte, row int) []byte {
	for _, col := range f.cols {
		switch c := col.(type) {
		case Int64s:
			buf = binary.LittleEndian.AppendUint64(buf, uint64(c[row]))
		case Float64s:
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(c[row]))
		case Strings:
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(c[row])))
			buf = append(buf, c[row]...)
		case Times:
			buf = binary.LittleEndian.AppendUint64(buf, uint64(c[row].UnixNano()))
		case Vectors:
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(c[row])))
			for _, v := range c[row] {
				buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
			}
		}
	}
	return buf
}
