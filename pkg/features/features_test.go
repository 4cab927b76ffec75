package features

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unijord/pdm/pkg/dataset"
	"github.com/unijord/pdm/pkg/records"
)

var t0 = time.Date(2015, 1, 1, 6, 0, 0, 0, time.UTC)

func at(h int) time.Time { return t0.Add(time.Duration(h) * time.Hour) }

func readings(machineID int64, hours int) []records.Telemetry {
	out := make([]records.Telemetry, hours)
	for h := range out {
		out[h] = records.Telemetry{Datetime: at(h), MachineID: machineID, Volt: float64(h)}
	}
	return out
}

func TestJoin(t *testing.T) {
	tel := readings(1, 3)
	fails := []records.Failure{
		{Datetime: at(1), MachineID: 1, Code: "comp1"},
		{Datetime: at(1), MachineID: 1, Code: "comp3"},
		{Datetime: at(2), MachineID: 2, Code: "comp2"},
	}

	merged := Join(tel, fails)
	require.Len(t, merged, 4)
	assert.Nil(t, merged[0].Failure)
	assert.Equal(t, "comp1", *merged[1].Failure)
	assert.Equal(t, "comp3", *merged[2].Failure)
	assert.Equal(t, at(1), merged[2].Datetime)
	assert.Nil(t, merged[3].Failure, "failure of another machine does not match")
}

func TestEncode(t *testing.T) {
	none, comp4, bad := "None", "comp4", "comp9"

	rows, err := Encode([]records.Merged{{}, {Failure: &none}, {Failure: &comp4}})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 4}, []int{rows[0].FailureClass, rows[1].FailureClass, rows[2].FailureClass})

	_, err = Encode([]records.Merged{{Failure: &bad}})
	assert.ErrorIs(t, err, records.ErrUnknownFailureCode)
}

func TestBackfillWindow(t *testing.T) {
	// failure at t25 labels the 24 readings before it and itself
	tel := readings(1, 31)
	fails := []records.Failure{{Datetime: at(25), MachineID: 1, Code: "comp1"}}

	rows, err := Encode(Join(tel, fails))
	require.NoError(t, err)
	Backfill(rows, DefaultWindow)
	SortByTime(rows)

	for h, r := range rows {
		want := 0
		if h >= 1 && h <= 25 {
			want = 1
		}
		assert.Equalf(t, want, r.Label, "t%d", h)
	}
}

func TestBackfillTakesMaxAndIsPerMachine(t *testing.T) {
	tel := append(readings(1, 10), readings(2, 10)...)
	fails := []records.Failure{
		{Datetime: at(5), MachineID: 1, Code: "comp2"},
		{Datetime: at(7), MachineID: 1, Code: "comp4"},
		{Datetime: at(9), MachineID: 2, Code: "comp3"},
	}
	rows, err := Encode(Join(tel, fails))
	require.NoError(t, err)
	Backfill(rows, 3)

	labels := map[int64][]int{}
	for _, r := range rows {
		labels[r.MachineID] = append(labels[r.MachineID], r.Label)
	}
	assert.Equal(t, []int{0, 0, 2, 2, 4, 4, 4, 4, 0, 0}, labels[1])
	assert.Equal(t, []int{0, 0, 0, 0, 0, 0, 3, 3, 3, 3}, labels[2])
}

func TestBackfillZeroWindow(t *testing.T) {
	rows, err := Encode(Join(readings(1, 3), []records.Failure{{Datetime: at(1), MachineID: 1, Code: "comp1"}}))
	require.NoError(t, err)
	Backfill(rows, 0)
	assert.Equal(t, []int{0, 1, 0}, []int{rows[0].Label, rows[1].Label, rows[2].Label})
}

func TestBuild(t *testing.T) {
	tel := append(readings(2, 3), readings(1, 3)...)
	fails := []records.Failure{{Datetime: at(2), MachineID: 1, Code: "comp3"}}

	f, err := Build(context.Background(), tel, fails, Options{})
	require.NoError(t, err)
	assert.Equal(t, Columns, f.Names())
	assert.Equal(t, 6, f.NumRows())

	ids, err := f.Int64s(dataset.ColMachineID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 1, 2, 1, 2}, []int64(ids))

	labels, err := f.Int64s(ColLabel)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 0, 3, 0, 3, 0}, []int64(labels))

	times, err := f.Times(dataset.ColDatetime)
	require.NoError(t, err)
	assert.True(t, times[0].Equal(at(0)))
	assert.True(t, times[5].Equal(at(2)))
}

func TestBuildErrors(t *testing.T) {
	_, err := Build(context.Background(), readings(1, 2),
		[]records.Failure{{Datetime: at(0), MachineID: 1, Code: "bogus"}}, Options{})
	assert.ErrorIs(t, err, records.ErrUnknownFailureCode)

	_, err = Build(context.Background(), readings(1, 2), nil, Options{Window: -1})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Build(ctx, readings(1, 2), nil, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
