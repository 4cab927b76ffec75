package balance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unijord/pdm/pkg/frame"
)

func labeled(majority, minority int) *frame.Frame {
	labels := make(frame.Int64s, 0, majority+minority)
	ids := make(frame.Int64s, 0, majority+minority)
	for i := 0; i < majority; i++ {
		labels = append(labels, 0)
		ids = append(ids, int64(i))
	}
	for i := 0; i < minority; i++ {
		labels = append(labels, int64(1+i%4))
		ids = append(ids, int64(majority+i))
	}
	return frame.MustNew(
		frame.Named{Name: "id", Col: ids},
		frame.Named{Name: "label", Col: labels},
	)
}

func seed(v uint64) *uint64 { return &v }

func count(t *testing.T, f *frame.Frame) (major, minor int) {
	t.Helper()
	labels, err := f.Int64s("label")
	require.NoError(t, err)
	for _, l := range labels {
		if l == 0 {
			major++
		} else {
			minor++
		}
	}
	return major, minor
}

func TestBalanceKeepsMinorityAndSamplesMajority(t *testing.T) {
	// 100 minority rows against 4000 majority rows: expect ~400 majority
	out, stats, err := Balance(labeled(4000, 100), Options{Seed: seed(42)})
	require.NoError(t, err)

	major, minor := count(t, out)
	assert.Equal(t, 100, minor)
	assert.InDelta(t, 400, major, 80)
	assert.Equal(t, major, stats.SampledMajority)
	assert.InDelta(t, 0.1, stats.Fraction, 1e-12)
}

func TestBalanceFractionScalesWithMinority(t *testing.T) {
	tests := []struct {
		majority, minority int
		ratio              float64
		fraction           float64
	}{
		{4000, 100, 4, 0.1},
		{4000, 100, 2, 0.05},
		{8000, 200, 4, 0.1},
		{10000, 50, 4, 0.02},
		{1000, 500, 4, 1},
	}
	for _, tt := range tests {
		out, stats, err := Balance(labeled(tt.majority, tt.minority), Options{Ratio: tt.ratio, Seed: seed(42)})
		require.NoError(t, err)
		assert.InDelta(t, tt.fraction, stats.Fraction, 1e-12, "%d/%d ratio %v", tt.majority, tt.minority, tt.ratio)

		major, minor := count(t, out)
		assert.Equal(t, tt.minority, minor)
		want := min(float64(tt.majority), tt.ratio*float64(tt.minority))
		assert.InDelta(t, want, major, want*0.25+5, "about ratio majority rows per minority row")
	}
}

func TestBalanceSmallMajorityKeepsEverything(t *testing.T) {
	// 400 majority vs 100 minority is already 4:1
	out, stats, err := Balance(labeled(400, 100), Options{Seed: seed(1)})
	require.NoError(t, err)

	major, minor := count(t, out)
	assert.Equal(t, 100, minor)
	assert.Equal(t, 400, major)
	assert.Equal(t, 1.0, stats.Fraction)
}

func TestBalanceIsSeededAndShuffled(t *testing.T) {
	in := labeled(2000, 50)
	a, _, err := Balance(in, Options{Seed: seed(7)})
	require.NoError(t, err)
	b, _, err := Balance(in, Options{Seed: seed(7)})
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	ids, err := a.Int64s("id")
	require.NoError(t, err)
	assert.False(t, isSorted(ids), "output is shuffled")
}

func isSorted(ids frame.Int64s) bool {
	for i := 1; i < len(ids); i++ {
		if ids[i] < ids[i-1] {
			return false
		}
	}
	return true
}

func TestBalanceNoMajority(t *testing.T) {
	out, _, err := Balance(labeled(0, 10), Options{})
	require.NoError(t, err)
	assert.Equal(t, 10, out.NumRows())
}

func TestBalanceErrors(t *testing.T) {
	_, _, err := Balance(labeled(10, 0), Options{})
	assert.ErrorIs(t, err, ErrNoMinority)

	_, _, err = Balance(labeled(10, 1), Options{LabelColumn: "missing"})
	assert.ErrorIs(t, err, frame.ErrColumnNotFound)

	_, _, err = Balance(labeled(10, 1), Options{Ratio: -1})
	assert.Error(t, err)
}
