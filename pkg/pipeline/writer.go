package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/unijord/pdm/pkg/frame"
	"github.com/unijord/pdm/pkg/objstore"
)

// SuccessMarker is written under the destination after every part file.
const SuccessMarker = "_SUCCESS"

// PartFileName returns the name of the part file written by task for run.
func PartFileName(task int, runID string) string {
	return fmt.Sprintf("part-%05d-%s.c000.csv", task, runID)
}

// PartitionedWriter writes frames as Hive-partitioned CSV files with a header.
type PartitionedWriter struct {
	Store     objstore.Store
	Dest      objstore.Location
	Layout    *OutputLayout
	RunID     string
	Allocator memory.Allocator
	Logger    *slog.Logger
}

// WriteStats describes a finished write.
type WriteStats struct {
	Rows       int
	Partitions int
	// Files are the keys of the written part files.
	Files []string
}

// Write replaces everything under Dest with the rows of f. Rows keep
// their order within a partition.
func (w *PartitionedWriter) Write(ctx context.Context, f *frame.Frame) (WriteStats, error) {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mem := w.Allocator
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	out, err := f.Select(w.Layout.Columns...)
	if err != nil {
		return WriteStats{}, fmt.Errorf("select output columns: %w", err)
	}
	groups, err := w.partition(out)
	if err != nil {
		return WriteStats{}, err
	}

	if err := w.Store.RemoveAll(ctx, w.Dest.Key); err != nil {
		return WriteStats{}, fmt.Errorf("clear %s: %w", w.Dest, err)
	}

	paths := make([]string, 0, len(groups))
	for p := range groups {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	stats := WriteStats{Rows: out.NumRows(), Partitions: len(paths)}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		loc := w.Dest.Join(p, PartFileName(0, w.RunID))
		if err := w.writePart(ctx, loc, out.Take(groups[p]), mem); err != nil {
			return stats, fmt.Errorf("write %s: %w", loc, err)
		}
		stats.Files = append(stats.Files, loc.Key)
	}

	marker := w.Dest.Join(SuccessMarker)
	if err := w.Store.Put(ctx, marker.Key, bytes.NewReader(nil), 0); err != nil {
		return stats, fmt.Errorf("write %s: %w", marker, err)
	}

	logger.Info("[pipeline] predictions written",
		slog.String("dest", w.Dest.String()),
		slog.Int("rows", stats.Rows),
		slog.Int("partitions", stats.Partitions))
	return stats, nil
}

// partition groups row positions by partition path. Without a partition
// spec every row goes to the destination root.
func (w *PartitionedWriter) partition(f *frame.Frame) (map[string][]int, error) {
	groups := make(map[string][]int)
	if !w.Layout.HasPartition() {
		for r := 0; r < f.NumRows(); r++ {
			groups[""] = append(groups[""], r)
		}
		return groups, nil
	}

	cols := make([]frame.Column, len(w.Layout.Columns))
	for i, name := range w.Layout.Columns {
		col, err := f.Column(name)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}

	row := make([]any, len(cols))
	for r := 0; r < f.NumRows(); r++ {
		for _, pf := range w.Layout.PartitionSpec {
			row[pf.ColumnIndex] = valueAt(cols[pf.ColumnIndex], r)
		}
		p := BuildPartitionPath(w.Layout.PartitionSpec, row)
		groups[p] = append(groups[p], r)
	}
	return groups, nil
}

func (w *PartitionedWriter) writePart(ctx context.Context, loc objstore.Location, part *frame.Frame, mem memory.Allocator) error {
	body, err := part.Select(w.Layout.DataColumns...)
	if err != nil {
		return err
	}
	if body, err = renderTimes(body); err != nil {
		return err
	}

	rec, err := body.ToRecord(mem)
	if err != nil {
		return err
	}
	defer rec.Release()

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf, rec.Schema(), csv.WithHeader(true))
	if err := cw.Write(rec); err != nil {
		return err
	}
	if err := cw.Flush(); err != nil {
		return err
	}
	if err := cw.Error(); err != nil {
		return err
	}
	return w.Store.Put(ctx, loc.Key, &buf, int64(buf.Len()))
}

// renderTimes replaces timestamp columns with their text form.
func renderTimes(f *frame.Frame) (*frame.Frame, error) {
	for _, name := range f.Names() {
		times, err := f.Times(name)
		if err != nil {
			continue
		}
		text := make(frame.Strings, len(times))
		for i, t := range times {
			text[i] = frame.TimeOf(t)
		}
		if f, err = f.With(name, text); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func valueAt(col frame.Column, row int) any {
	switch c := col.(type) {
	case frame.Int64s:
		return c[row]
	case frame.Float64s:
		return c[row]
	case frame.Strings:
		return c[row]
	case frame.Times:
		return c[row]
	}
	return nil
}
