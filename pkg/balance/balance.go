// Package balance subsamples the majority class of the labeled frame.
package balance

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/unijord/pdm/pkg/frame"
)

// ErrNoMinority is returned when no row carries a minority label.
var ErrNoMinority = errors.New("no minority rows to balance against")

const (
	// DefaultRatio is the target number of majority rows per minority row.
	DefaultRatio = 4
	// DefaultLabelColumn is the column holding class ids.
	DefaultLabelColumn = "label"
)

// Options configures Balance.
type Options struct {
	LabelColumn   string
	MajorityLabel int64
	// Ratio is the target majority:minority ratio. Defaults to DefaultRatio.
	Ratio float64
	// Seed makes the sample reproducible. Nil draws a random seed.
	Seed   *uint64
	Logger *slog.Logger
}

// Stats describes one balancing run.
type Stats struct {
	Majority        int
	Minority        int
	Fraction        float64
	SampledMajority int
}

// Balance keeps every minority row, keeps each majority row with
// probability minority*Ratio/majority (capped at 1) and shuffles the union.
func Balance(f *frame.Frame, opts Options) (*frame.Frame, Stats, error) {
	if opts.LabelColumn == "" {
		opts.LabelColumn = DefaultLabelColumn
	}
	if opts.Ratio == 0 {
		opts.Ratio = DefaultRatio
	}
	if opts.Ratio < 0 {
		return nil, Stats{}, fmt.Errorf("negative ratio %v", opts.Ratio)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	labels, err := f.Int64s(opts.LabelColumn)
	if err != nil {
		return nil, Stats{}, err
	}
	major := f.Filter(func(row int) bool { return labels[row] == opts.MajorityLabel })
	minor := f.Filter(func(row int) bool { return labels[row] != opts.MajorityLabel })

	stats := Stats{Majority: major.NumRows(), Minority: minor.NumRows()}
	if stats.Minority == 0 {
		return nil, stats, ErrNoMinority
	}

	rng := newRand(opts.Seed)
	stats.Fraction = 1
	if stats.Majority > 0 {
		// keep about Ratio majority rows per minority row
		stats.Fraction = min(1, float64(stats.Minority)*opts.Ratio/float64(stats.Majority))
	}
	sampled := major.Sample(stats.Fraction, rng)
	stats.SampledMajority = sampled.NumRows()

	union, err := frame.Union(minor, sampled)
	if err != nil {
		return nil, stats, err
	}
	out := union.Shuffle(rng)

	opts.Logger.Info("[balance] balanced",
		slog.Int("majority", stats.Majority),
		slog.Int("minority", stats.Minority),
		slog.Float64("fraction", stats.Fraction),
		slog.Int("sampled_majority", stats.SampledMajority))
	return out, stats, nil
}

func newRand(seed *uint64) *rand.Rand {
	if seed == nil {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(*seed, *seed))
}
