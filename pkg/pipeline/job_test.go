package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unijord/pdm/pkg/convert"
	"github.com/unijord/pdm/pkg/engine"
	"github.com/unijord/pdm/pkg/features"
	"github.com/unijord/pdm/pkg/ml"
	"github.com/unijord/pdm/pkg/objstore"
	"github.com/unijord/pdm/pkg/records"
)

const (
	testMachines = 3
	testHours    = 240
)

var quiet = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

// writeInputs writes raw CSV exports and converts them to Parquet the way
// the converter does in production. It returns the records directory.
func writeInputs(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	start := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)

	var tel strings.Builder
	tel.WriteString("datetime,machineID,volt,rotate,pressure,vibration\n")
	for m := 1; m <= testMachines; m++ {
		for h := 0; h < testHours; h++ {
			ts := start.Add(time.Duration(h) * time.Hour).Format("2006-01-02 15:04:05")
			fmt.Fprintf(&tel, "%s,%d,%.3f,%.3f,%.3f,%.3f\n", ts, m,
				160+float64((h*7+m)%30), 400+float64((h*13)%90), 90+float64((h*3+m)%20), 35+float64((h+m*5)%12))
		}
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "PdM_telemetry.csv"), []byte(tel.String()), 0644))

	var fails strings.Builder
	fails.WriteString("datetime,machineID,failure\n")
	for _, f := range []struct {
		machine, hour int
		code          string
	}{{1, 60, "comp1"}, {2, 120, "comp2"}, {3, 180, "comp3"}, {1, 200, "comp4"}} {
		ts := start.Add(time.Duration(f.hour) * time.Hour).Format("2006-01-02 15:04:05")
		fmt.Fprintf(&fails, "%s,%d,%s\n", ts, f.machine, f.code)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "PdM_failures.csv"), []byte(fails.String()), 0644))

	_, err := convert.New(convert.Options{SourceDir: dir, Logger: quiet}).Run(context.Background())
	require.NoError(t, err)
	return filepath.Join(dir, convert.DefaultOutputDir)
}

func testConfig(recordsDir, out string) Config {
	cfg := DefaultConfig()
	cfg.TelemetryPath = filepath.Join(recordsDir, "PdM_telemetry.parquet")
	cfg.FailuresPath = "file://" + filepath.Join(recordsDir, "PdM_failures.parquet")
	cfg.OutputPath = out
	// one-hot width max(id)+1-1 plus four sensors
	cfg.Layers = []int{testMachines + 4, 8, records.NumClasses}
	cfg.MaxIter = 20
	seed := uint64(7)
	cfg.SampleSeed = &seed
	return cfg
}

func newSession(t *testing.T) *engine.Session {
	t.Helper()
	sess, err := engine.New(context.Background(), engine.Options{Logger: quiet})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestRunEndToEnd(t *testing.T) {
	recordsDir := writeInputs(t)
	out := filepath.Join(t.TempDir(), "data", "partitions", "data.csv")
	sess := newSession(t)

	res, err := Run(context.Background(), sess, testConfig(recordsDir, out))
	require.NoError(t, err)

	assert.Equal(t, sess.RunID(), res.RunID)
	assert.Equal(t, testMachines*testHours, res.TelemetryRows)
	assert.Equal(t, 4, res.FailureRows)
	assert.Equal(t, testMachines*testHours, res.LabeledRows)
	assert.Equal(t, res.TrainRows+res.TestRows, res.BalancedRows)
	assert.Greater(t, res.BalancedRows, 100)
	assert.Greater(t, res.TrainRows, res.TestRows)
	assert.GreaterOrEqual(t, res.Score, 0.0)
	assert.LessOrEqual(t, res.Score, 1.0)
	assert.Equal(t, ml.MetricF1, res.Metric)
	assert.Len(t, res.Stages, 6)

	persisted, ok := sess.Persisted(persistedBalanced)
	require.True(t, ok)
	assert.Equal(t, res.BalancedRows, persisted.NumRows())

	// four failures, none within a window of another, label 25 readings each
	labels, err := persisted.Int64s(features.ColLabel)
	require.NoError(t, err)
	minority := 0
	for _, l := range labels {
		if l != 0 {
			minority++
		}
	}
	assert.Equal(t, 100, minority)
	assert.InDelta(t, 4*minority, res.BalancedRows-minority, 120)

	assert.FileExists(t, filepath.Join(out, SuccessMarker))
	files, err := objstore.NewFS("").List(context.Background(), out)
	require.NoError(t, err)

	rows := 0
	for _, key := range files {
		if filepath.Base(key) == SuccessMarker {
			continue
		}
		assert.Contains(t, key, "/year=2015/month=1/day=")
		assert.True(t, strings.HasSuffix(key, PartFileName(0, sess.RunID())), key)

		body, err := os.ReadFile(key)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(body)), "\n")
		assert.Equal(t, "datetime,machineID,prediction", lines[0])
		for _, line := range lines[1:] {
			fields := strings.Split(line, ",")
			require.Len(t, fields, 3)
			assert.Contains(t, []string{"0", "1", "2", "3", "4"}, fields[2])
		}
		rows += len(lines) - 1
	}
	assert.Equal(t, res.TestRows, rows)
	assert.Equal(t, rows, res.Output.Rows)
}

func TestRunOverwritesPreviousOutput(t *testing.T) {
	recordsDir := writeInputs(t)
	out := filepath.Join(t.TempDir(), "data.csv")

	first := newSession(t)
	_, err := Run(context.Background(), first, testConfig(recordsDir, out))
	require.NoError(t, err)

	second := newSession(t)
	_, err = Run(context.Background(), second, testConfig(recordsDir, out))
	require.NoError(t, err)

	files, err := objstore.NewFS("").List(context.Background(), out)
	require.NoError(t, err)
	for _, key := range files {
		assert.NotContains(t, key, first.RunID())
	}
}

func TestRunErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid config before any I/O", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TrainFraction = 0
		_, err := Run(ctx, newSession(t), cfg)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("missing input", func(t *testing.T) {
		cfg := testConfig(t.TempDir(), filepath.Join(t.TempDir(), "out"))
		_, err := Run(ctx, newSession(t), cfg)
		assert.ErrorIs(t, err, objstore.ErrNotFound)
	})

	t.Run("hard-coded width does not fit the data", func(t *testing.T) {
		cfg := testConfig(writeInputs(t), filepath.Join(t.TempDir(), "out"))
		cfg.Layers = DefaultConfig().Layers
		_, err := Run(ctx, newSession(t), cfg)
		assert.ErrorIs(t, err, ml.ErrLayerMismatch)
	})

	t.Run("remote output without endpoint", func(t *testing.T) {
		cfg := testConfig(writeInputs(t), "s3a://bucket/out")
		_, err := Run(ctx, newSession(t), cfg)
		assert.Error(t, err)
	})
}
