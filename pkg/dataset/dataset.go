package dataset

import (
	"context"
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/unijord/pdm/pkg/objstore"
	"github.com/unijord/pdm/pkg/records"
)

// Column names of the input datasets.
const (
	ColDatetime  = "datetime"
	ColMachineID = "machineID"
	ColVolt      = "volt"
	ColRotate    = "rotate"
	ColPressure  = "pressure"
	ColVibration = "vibration"
	ColFailure   = "failure"
)

// LoadTelemetry reads the telemetry dataset at loc.
func LoadTelemetry(ctx context.Context, src Source, loc objstore.Location) ([]records.Telemetry, error) {
	var out []records.Telemetry
	err := readEach(ctx, src, loc, func(tbl arrow.Table) error {
		rows, err := decodeTelemetry(tbl)
		if err != nil {
			return err
		}
		out = append(out, rows...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	src.Logger().Info("[dataset] telemetry loaded",
		slog.String("location", loc.String()),
		slog.Int("rows", len(out)))
	return out, nil
}

// LoadFailures reads the failures dataset at loc. A null failure code is
// read as records.CodeNone.
func LoadFailures(ctx context.Context, src Source, loc objstore.Location) ([]records.Failure, error) {
	var out []records.Failure
	err := readEach(ctx, src, loc, func(tbl arrow.Table) error {
		rows, err := decodeFailures(tbl)
		if err != nil {
			return err
		}
		out = append(out, rows...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	src.Logger().Info("[dataset] failures loaded",
		slog.String("location", loc.String()),
		slog.Int("rows", len(out)))
	return out, nil
}

func decodeTelemetry(tbl arrow.Table) ([]records.Telemetry, error) {
	times, _, err := decodeColumn(tbl, ColDatetime, false, bindTime)
	if err != nil {
		return nil, err
	}
	ids, _, err := decodeColumn(tbl, ColMachineID, false, bindInt)
	if err != nil {
		return nil, err
	}
	var sensors [4][]float64
	for i, name := range []string{ColVolt, ColRotate, ColPressure, ColVibration} {
		if sensors[i], _, err = decodeColumn(tbl, name, false, bindFloat); err != nil {
			return nil, err
		}
	}

	out := make([]records.Telemetry, len(times))
	for i := range out {
		out[i] = records.Telemetry{
			Datetime:  times[i],
			MachineID: ids[i],
			Volt:      sensors[0][i],
			Rotate:    sensors[1][i],
			Pressure:  sensors[2][i],
			Vibration: sensors[3][i],
		}
	}
	return out, nil
}

func decodeFailures(tbl arrow.Table) ([]records.Failure, error) {
	times, _, err := decodeColumn(tbl, ColDatetime, false, bindTime)
	if err != nil {
		return nil, err
	}
	ids, _, err := decodeColumn(tbl, ColMachineID, false, bindInt)
	if err != nil {
		return nil, err
	}
	codes, valid, err := decodeColumn(tbl, ColFailure, true, bindString)
	if err != nil {
		return nil, err
	}

	out := make([]records.Failure, len(times))
	for i := range out {
		code := codes[i]
		if !valid[i] {
			code = records.CodeNone
		}
		out[i] = records.Failure{Datetime: times[i], MachineID: ids[i], Code: code}
	}
	return out, nil
}
