package dataset

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unijord/pdm/pkg/engine"
	"github.com/unijord/pdm/pkg/objstore"
)

var t0 = time.Date(2015, 1, 1, 6, 0, 0, 0, time.UTC)

func newSession(t *testing.T) *engine.Session {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s, err := engine.New(context.Background(), engine.Options{Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeRecord(t *testing.T, path string, rec arrow.Record) {
	t.Helper()
	defer rec.Release()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w, err := pqarrow.NewFileWriter(rec.Schema(), f, parquet.NewWriterProperties(), pqarrow.DefaultWriterProps())
	require.NoError(t, err)
	require.NoError(t, w.Write(rec))
	require.NoError(t, w.Close())
}

// telemetryRecord uses narrow physical types to exercise widening.
func telemetryRecord(t *testing.T, start time.Time, ids ...int32) arrow.Record {
	t.Helper()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: ColDatetime, Type: &arrow.TimestampType{Unit: arrow.Nanosecond}},
		{Name: ColMachineID, Type: arrow.PrimitiveTypes.Int32},
		{Name: ColVolt, Type: arrow.PrimitiveTypes.Float64},
		{Name: ColRotate, Type: arrow.PrimitiveTypes.Float32},
		{Name: ColPressure, Type: arrow.PrimitiveTypes.Float64},
		{Name: ColVibration, Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	for i, id := range ids {
		ts := start.Add(time.Duration(i) * time.Hour)
		b.Field(0).(*array.TimestampBuilder).Append(arrow.Timestamp(ts.UnixNano()))
		b.Field(1).(*array.Int32Builder).Append(id)
		b.Field(2).(*array.Float64Builder).Append(170.5)
		b.Field(3).(*array.Float32Builder).Append(400.25)
		b.Field(4).(*array.Float64Builder).Append(100)
		b.Field(5).(*array.Int64Builder).Append(40)
	}
	return b.NewRecord()
}

func failuresRecord(t *testing.T, datetimes []string, codes []*string) arrow.Record {
	t.Helper()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: ColDatetime, Type: arrow.BinaryTypes.String},
		{Name: ColMachineID, Type: arrow.PrimitiveTypes.Int64},
		{Name: ColFailure, Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	for i, dt := range datetimes {
		b.Field(0).(*array.StringBuilder).Append(dt)
		b.Field(1).(*array.Int64Builder).Append(int64(i + 1))
		if codes[i] == nil {
			b.Field(2).AppendNull()
		} else {
			b.Field(2).(*array.StringBuilder).Append(*codes[i])
		}
	}
	return b.NewRecord()
}

func ptr(s string) *string { return &s }

func TestLoadTelemetrySingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "PdM_telemetry.parquet")
	writeRecord(t, path, telemetryRecord(t, t0, 1, 1, 2))

	rows, err := LoadTelemetry(context.Background(), newSession(t), objstore.MustParseLocation(path))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, t0, rows[0].Datetime)
	assert.Equal(t, t0.Add(2*time.Hour), rows[2].Datetime)
	assert.Equal(t, int64(2), rows[2].MachineID)
	assert.Equal(t, 170.5, rows[0].Volt)
	assert.Equal(t, 400.25, rows[0].Rotate)
	assert.Equal(t, 40.0, rows[0].Vibration)
}

func TestLoadTelemetryDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "PdM_telemetry.parquet")
	writeRecord(t, filepath.Join(dir, "part-00000.snappy.parquet"), telemetryRecord(t, t0, 1, 2))
	writeRecord(t, filepath.Join(dir, "part-00001.snappy.parquet"), telemetryRecord(t, t0.Add(48*time.Hour), 3))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "_SUCCESS"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".part-00000.snappy.parquet.crc"), []byte("x"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "_temporary"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "_temporary", "junk.parquet"), []byte("x"), 0644))

	rows, err := LoadTelemetry(context.Background(), newSession(t), objstore.MustParseLocation("file://"+dir))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{rows[0].MachineID, rows[1].MachineID, rows[2].MachineID})
}

func TestLoadFailures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "PdM_failures.parquet")
	writeRecord(t, path, failuresRecord(t,
		[]string{"2015-01-05 06:00:00", "2015-01-06 06:00:00"},
		[]*string{ptr("comp4"), nil}))

	rows, err := LoadFailures(context.Background(), newSession(t), objstore.MustParseLocation(path))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, time.Date(2015, 1, 5, 6, 0, 0, 0, time.UTC), rows[0].Datetime)
	assert.Equal(t, "comp4", rows[0].Code)
	assert.Equal(t, "None", rows[1].Code)
	assert.Equal(t, int64(2), rows[1].MachineID)
}

func TestLoadErrors(t *testing.T) {
	ctx := context.Background()
	sess := newSession(t)
	dir := t.TempDir()

	t.Run("missing dataset", func(t *testing.T) {
		_, err := LoadTelemetry(ctx, sess, objstore.MustParseLocation(filepath.Join(dir, "nope.parquet")))
		assert.ErrorIs(t, err, objstore.ErrNotFound)
	})

	t.Run("missing column", func(t *testing.T) {
		path := filepath.Join(dir, "failures.parquet")
		writeRecord(t, path, failuresRecord(t, []string{"2015-01-05 06:00:00"}, []*string{ptr("comp1")}))
		_, err := LoadTelemetry(ctx, sess, objstore.MustParseLocation(path))
		assert.ErrorIs(t, err, ErrMissingColumn)
	})

	t.Run("bad datetime", func(t *testing.T) {
		path := filepath.Join(dir, "bad.parquet")
		writeRecord(t, path, failuresRecord(t, []string{"yesterday"}, []*string{ptr("comp1")}))
		_, err := LoadFailures(ctx, sess, objstore.MustParseLocation(path))
		assert.Error(t, err)
	})

	t.Run("null in required column", func(t *testing.T) {
		schema := arrow.NewSchema([]arrow.Field{
			{Name: ColDatetime, Type: arrow.BinaryTypes.String},
			{Name: ColMachineID, Type: arrow.PrimitiveTypes.Int64, Nullable: true},
			{Name: ColFailure, Type: arrow.BinaryTypes.String},
		}, nil)
		b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
		b.Field(0).(*array.StringBuilder).Append("2015-01-05 06:00:00")
		b.Field(1).AppendNull()
		b.Field(2).(*array.StringBuilder).Append("comp1")
		rec := b.NewRecord()
		b.Release()

		path := filepath.Join(dir, "nulls.parquet")
		writeRecord(t, path, rec)
		_, err := LoadFailures(ctx, sess, objstore.MustParseLocation(path))
		assert.ErrorIs(t, err, ErrNullValue)
	})
}

func TestFilesSkipsHidden(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := objstore.NewFS("")
	for _, name := range []string{"a.parquet", "b.parquet", "_SUCCESS", ".a.parquet.crc", "_meta.parquet", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	keys, err := Files(ctx, store, objstore.MustParseLocation(dir))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.ToSlash(filepath.Join(dir, "a.parquet")), filepath.ToSlash(filepath.Join(dir, "b.parquet"))}, keys)

	keys, err = Files(ctx, store, objstore.MustParseLocation(filepath.Join(dir, "a.parquet")))
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}
