// Package features joins telemetry with failures and derives the training
// label of every reading.
package features

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/unijord/pdm/pkg/dataset"
	"github.com/unijord/pdm/pkg/frame"
	"github.com/unijord/pdm/pkg/records"
)

// ColLabel is the label column of the built frame.
const ColLabel = "label"

// DefaultWindow is the number of later readings whose failure class is
// backfilled into the current reading.
const DefaultWindow = 24

// Columns lists the built frame's columns in order.
var Columns = []string{
	dataset.ColDatetime,
	dataset.ColMachineID,
	dataset.ColVolt,
	dataset.ColRotate,
	dataset.ColPressure,
	dataset.ColVibration,
	ColLabel,
}

// Options configures Build.
type Options struct {
	// Window is the number of preceding rows, in descending time order,
	// covered by the label. Defaults to DefaultWindow.
	Window int
	Logger *slog.Logger
}

type joinKey struct {
	machineID int64
	at        int64
}

func keyOf(machineID int64, t time.Time) joinKey {
	return joinKey{machineID: machineID, at: t.UnixNano()}
}

// Join left-joins telemetry with failures on machine id and timestamp.
// A reading matching several failures yields one row per failure, in
// failure order. Output follows telemetry order.
func Join(telemetry []records.Telemetry, failures []records.Failure) []records.Merged {
	codes := make(map[joinKey][]string, len(failures))
	for _, f := range failures {
		k := keyOf(f.MachineID, f.Datetime)
		codes[k] = append(codes[k], f.Code)
	}

	out := make([]records.Merged, 0, len(telemetry))
	for _, t := range telemetry {
		matched := codes[keyOf(t.MachineID, t.Datetime)]
		if len(matched) == 0 {
			out = append(out, records.Merged{Telemetry: t})
			continue
		}
		for i := range matched {
			out = append(out, records.Merged{Telemetry: t, Failure: &matched[i]})
		}
	}
	return out
}

// Encode maps each failure code to its class id.
func Encode(merged []records.Merged) ([]records.Labeled, error) {
	out := make([]records.Labeled, len(merged))
	for i, m := range merged {
		class, err := records.ClassOf(m.Failure)
		if err != nil {
			return nil, fmt.Errorf("machine %d at %s: %w", m.MachineID, frame.TimeOf(m.Datetime), err)
		}
		out[i] = records.Labeled{Telemetry: m.Telemetry, Failure: m.Failure, FailureClass: class}
	}
	return out, nil
}

// Backfill sets Label on every row to the maximum failure class over the
// row and the window rows before it when the machine's readings are ordered
// by descending time. Rows with equal timestamps keep their input order.
func Backfill(rows []records.Labeled, window int) {
	groups := make(map[int64][]int)
	var machines []int64
	for i, r := range rows {
		if _, ok := groups[r.MachineID]; !ok {
			machines = append(machines, r.MachineID)
		}
		groups[r.MachineID] = append(groups[r.MachineID], i)
	}

	for _, id := range machines {
		idx := groups[id]
		slices.SortStableFunc(idx, func(a, b int) int {
			return rows[b].Datetime.Compare(rows[a].Datetime)
		})
		for k, i := range idx {
			label := 0
			for j := max(0, k-window); j <= k; j++ {
				label = max(label, rows[idx[j]].FailureClass)
			}
			rows[i].Label = label
		}
	}
}

// SortByTime orders rows by ascending timestamp, then machine id.
func SortByTime(rows []records.Labeled) {
	slices.SortStableFunc(rows, func(a, b records.Labeled) int {
		if c := a.Datetime.Compare(b.Datetime); c != 0 {
			return c
		}
		return cmp.Compare(a.MachineID, b.MachineID)
	})
}

// ToFrame projects labeled rows onto Columns.
func ToFrame(rows []records.Labeled) (*frame.Frame, error) {
	var (
		times     = make(frame.Times, len(rows))
		ids       = make(frame.Int64s, len(rows))
		volt      = make(frame.Float64s, len(rows))
		rotate    = make(frame.Float64s, len(rows))
		pressure  = make(frame.Float64s, len(rows))
		vibration = make(frame.Float64s, len(rows))
		labels    = make(frame.Int64s, len(rows))
	)
	for i, r := range rows {
		times[i] = r.Datetime
		ids[i] = r.MachineID
		volt[i] = r.Volt
		rotate[i] = r.Rotate
		pressure[i] = r.Pressure
		vibration[i] = r.Vibration
		labels[i] = int64(r.Label)
	}
	return frame.New(
		frame.Named{Name: dataset.ColDatetime, Col: times},
		frame.Named{Name: dataset.ColMachineID, Col: ids},
		frame.Named{Name: dataset.ColVolt, Col: volt},
		frame.Named{Name: dataset.ColRotate, Col: rotate},
		frame.Named{Name: dataset.ColPressure, Col: pressure},
		frame.Named{Name: dataset.ColVibration, Col: vibration},
		frame.Named{Name: ColLabel, Col: labels},
	)
}

// Build runs join, encoding, backfill and projection.
func Build(ctx context.Context, telemetry []records.Telemetry, failures []records.Failure, opts Options) (*frame.Frame, error) {
	if opts.Window == 0 {
		opts.Window = DefaultWindow
	}
	if opts.Window < 0 {
		return nil, fmt.Errorf("negative label window %d", opts.Window)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	merged := Join(telemetry, failures)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	labeled, err := Encode(merged)
	if err != nil {
		return nil, err
	}
	Backfill(labeled, opts.Window)
	SortByTime(labeled)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := ToFrame(labeled)
	if err != nil {
		return nil, err
	}
	opts.Logger.Info("[features] labeled",
		slog.Int("rows", f.NumRows()),
		slog.Int("failures_matched", countMatched(merged)),
		slog.Int("window", opts.Window))
	return f, nil
}

func countMatched(merged []records.Merged) int {
	n := 0
	for _, m := range merged {
		if m.Failure != nil {
			n++
		}
	}
	return n
}
