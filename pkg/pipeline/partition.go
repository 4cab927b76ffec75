package pipeline

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/twmb/murmur3"

	"github.com/unijord/pdm/pkg/frame"
)

// PartitionTransform defines how to transform a source column into a partition value.
type PartitionTransform string

// Temporal transforms use the calendar fields of the UTC time, unpadded,
// matching integer partition columns. For example a spec like
//
//	{
//	   "partition_spec": [
//	     {"source": "datetime", "transform": "year", "name": "year"},
//	     {"source": "datetime", "transform": "month", "name": "month"},
//	     {"source": "machineID", "transform": "bucket", "param": 16, "name": "machine_bucket"}
//	   ]
//	 }
//
// results in paths like:
//
//	data.csv/year=2015/month=1/machine_bucket=7/part-00000-<run>.c000.csv
const (
	TransformIdentity PartitionTransform = "identity"
	TransformBucket   PartitionTransform = "bucket"
	TransformYear     PartitionTransform = "year"
	TransformMonth    PartitionTransform = "month"
	TransformDay      PartitionTransform = "day"
	TransformHour     PartitionTransform = "hour"
)

// ApplyTransform applies a partition transform to a value and returns the
// path value. An empty string means the value has no partition.
func ApplyTransform(value any, transform PartitionTransform, param int) string {
	switch transform {
	case TransformIdentity:
		return applyIdentity(value)
	case TransformBucket:
		return applyBucket(value, param)
	case TransformYear, TransformMonth, TransformDay, TransformHour:
		t, ok := toTime(value)
		if !ok {
			return ""
		}
		switch transform {
		case TransformYear:
			return strconv.Itoa(t.Year())
		case TransformMonth:
			return strconv.Itoa(int(t.Month()))
		case TransformDay:
			return strconv.Itoa(t.Day())
		default:
			return strconv.Itoa(t.Hour())
		}
	default:
		// Unknown transform, use identity
		return applyIdentity(value)
	}
}

// applyIdentity returns the value as-is.
func applyIdentity(value any) string {
	if t, ok := value.(time.Time); ok {
		return frame.TimeOf(t)
	}
	return fmt.Sprintf("%v", value)
}

// applyBucket hashes the value and returns bucket number (0 to N-1).
// Uses Murmur3 x86 32-bit with seed 0.
// def bucket_N(x) = (murmur3_x86_32_hash(x) & Integer.MAX_VALUE) % N
func applyBucket(value any, numBuckets int) string {
	if numBuckets <= 0 {
		numBuckets = 1
	}
	bucket := int(bucketHash(value)&0x7FFFFFFF) % numBuckets
	return strconv.Itoa(bucket)
}

// bucketHash computes a 32-bit hash for a value with type-specific preprocessing.
func bucketHash(value any) uint32 {
	switch v := value.(type) {
	case int:
		// int hashes as long so widening does not move rows
		return hashLong(int64(v))
	case int32:
		return hashLong(int64(v))
	case int64:
		return hashLong(v)
	case string:
		return murmur3.StringSum32(v)
	case time.Time:
		// hash as microseconds from Unix epoch
		return hashLong(v.UnixMicro())
	case float64:
		return hashDouble(v)
	default:
		return murmur3.StringSum32(fmt.Sprintf("%v", value))
	}
}

// hashLong hashes a 64-bit integer using little-endian byte representation.
func hashLong(v int64) uint32 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	return murmur3.Sum32(buf[:])
}

// hashDouble hashes a double using IEEE 754 bit representation.
// NaN patterns are canonicalized to 0x7ff8000000000000 and -0.0 to 0.0.
func hashDouble(v float64) uint32 {
	var bits uint64
	switch {
	case math.IsNaN(v):
		bits = 0x7ff8000000000000
	case v == 0:
		bits = 0
	default:
		bits = math.Float64bits(v)
	}
	return hashLong(int64(bits))
}

// toTime converts timestamp representations to UTC time.
func toTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), true
	case string:
		// Try common formats
		formats := []string{
			time.RFC3339Nano,
			"2006-01-02T15:04:05",
			"2006-01-02 15:04:05",
			"2006-01-02",
		}
		for _, format := range formats {
			if t, err := time.Parse(format, v); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// escapePartitionValue escapes special characters in partition values for Hive-style paths.
// Characters that need escaping: / = % (and control characters)
// This follows Hive's escaping convention for partition values, a subset of
// FileUtils.escapePathName.
func escapePartitionValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for _, r := range s {
		switch r {
		case '/':
			b.WriteString("%2F")
		case '=':
			b.WriteString("%3D")
		case '%':
			b.WriteString("%25")
		case ':':
			b.WriteString("%3A")
		case '\n':
			b.WriteString("%0A")
		case '\r':
			b.WriteString("%0D")
		case '\t':
			b.WriteString("%09")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// BuildPartitionPath builds a Hive-style partition path from partition spec and row values.
// Example: "year=2015/month=1/day=5"
func BuildPartitionPath(partitionSpec []CompiledPartitionField, row []any) string {
	if len(partitionSpec) == 0 || len(row) == 0 {
		return ""
	}

	var parts []string
	for _, pf := range partitionSpec {
		if pf.ColumnIndex >= len(row) {
			continue
		}

		value := ApplyTransform(row[pf.ColumnIndex], pf.Transform, pf.Param)
		if value == "" {
			value = hiveDefaultPartition
		}
		parts = append(parts, fmt.Sprintf("%s=%s", pf.Name, escapePartitionValue(value)))
	}

	return strings.Join(parts, "/")
}

// hiveDefaultPartition names the partition of rows without a value.
const hiveDefaultPartition = "__HIVE_DEFAULT_PARTITION__"
