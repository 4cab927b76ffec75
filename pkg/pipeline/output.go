package pipeline

import (
	"fmt"
	"slices"

	"github.com/unijord/pdm/pkg/dataset"
	"github.com/unijord/pdm/pkg/ml"
)

// Output columns of the prediction files.
const (
	ColDatetime   = dataset.ColDatetime
	ColYear       = "year"
	ColMonth      = "month"
	ColDay        = "day"
	ColMachineID  = dataset.ColMachineID
	ColPrediction = ml.DefaultPredictionCol
)

// OutputColumns lists every output column in order.
var OutputColumns = []string{ColDatetime, ColYear, ColMonth, ColDay, ColMachineID, ColPrediction}

// CompiledPartitionField holds a resolved partition field.
type CompiledPartitionField struct {
	Source    string
	Transform PartitionTransform
	Param     int
	Name      string

	// ColumnIndex is the resolved index into OutputLayout.Columns.
	ColumnIndex int
}

// OutputLayout is the resolved file layout of the prediction output.
type OutputLayout struct {
	// Columns are the output columns, partition columns included.
	Columns []string

	// PartitionSpec contains the partition fields with resolved source columns.
	PartitionSpec []CompiledPartitionField

	// DataColumns are written to file bodies. Columns that are also partition
	// names are omitted, as their value is in the path.
	DataColumns []string
}

// CompileOutput resolves the partition spec of cfg against OutputColumns.
func CompileOutput(cfg *Config) (*OutputLayout, error) {
	if err := cfg.validatePartitionSpec(); err != nil {
		return nil, err
	}

	layout := &OutputLayout{Columns: slices.Clone(OutputColumns)}
	for _, pf := range cfg.PartitionSpec {
		idx := slices.Index(layout.Columns, pf.Source)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSourceColumn, pf.Source)
		}
		layout.PartitionSpec = append(layout.PartitionSpec, CompiledPartitionField{
			Source:      pf.Source,
			Transform:   pf.Transform,
			Param:       pf.Param,
			Name:        pf.Name,
			ColumnIndex: idx,
		})
	}

	partitionNames := layout.PartitionNames()
	for _, col := range layout.Columns {
		if !slices.Contains(partitionNames, col) {
			layout.DataColumns = append(layout.DataColumns, col)
		}
	}
	if len(layout.DataColumns) == 0 {
		return nil, fmt.Errorf("%w: every output column is a partition", ErrInvalidPartitionSpec)
	}
	return layout, nil
}

// PartitionNames returns partition field names (for Hive-style directory paths).
func (l *OutputLayout) PartitionNames() []string {
	names := make([]string, len(l.PartitionSpec))
	for i, pf := range l.PartitionSpec {
		names[i] = pf.Name
	}
	return names
}

// HasPartition returns true if partition spec is defined.
func (l *OutputLayout) HasPartition() bool {
	return len(l.PartitionSpec) > 0
}
