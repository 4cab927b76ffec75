// Package convert turns the raw CSV exports in a directory into Parquet files.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/unijord/pdm/pkg/objstore"
)

// ErrMalformedCSV is returned when a CSV file cannot be parsed.
var ErrMalformedCSV = errors.New("malformed csv")

const (
	// DefaultOutputDir is the directory, relative to the source, receiving Parquet files.
	DefaultOutputDir = "records"
	// ParquetExt is appended to the stem of each converted file.
	ParquetExt = ".parquet"

	rowGroupSize = 1 << 20
)

// Options configures a conversion run.
type Options struct {
	// SourceDir holds the *.csv inputs. Defaults to the working directory.
	SourceDir string
	// OutputDir receives <stem>.parquet. Defaults to SourceDir/records.
	OutputDir string
	// ContinueOnError records failing files in the report instead of aborting.
	ContinueOnError bool
	Allocator       memory.Allocator
	Logger          *slog.Logger
}

// FileResult describes one converted file.
type FileResult struct {
	Source string
	Output string
	Rows   int64
	Schema *arrow.Schema
}

// FileError is a conversion failure of a single file.
type FileError struct {
	Source string
	Err    error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("convert %s: %v", e.Source, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// Report summarises a run.
type Report struct {
	Converted []FileResult
	Failed    []*FileError
}

// Converter converts CSV files to Parquet.
type Converter struct {
	opts  Options
	store objstore.Store
	log   *slog.Logger
}

// New creates a converter, filling in defaults.
func New(opts Options) *Converter {
	if opts.SourceDir == "" {
		opts.SourceDir = "."
	}
	if opts.OutputDir == "" {
		opts.OutputDir = filepath.Join(opts.SourceDir, DefaultOutputDir)
	}
	if opts.Allocator == nil {
		opts.Allocator = memory.DefaultAllocator
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Converter{
		opts:  opts,
		store: objstore.NewFS(""),
		log:   opts.Logger,
	}
}

// Sources lists the CSV files of the source directory in lexical order.
func (c *Converter) Sources() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(c.opts.SourceDir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", c.opts.SourceDir, err)
	}
	sort.Strings(matches)
	return matches, nil
}

// OutputPath returns the Parquet path for a CSV source.
func (c *Converter) OutputPath(src string) string {
	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	return filepath.Join(c.opts.OutputDir, stem+ParquetExt)
}

// Run converts every source file.
func (c *Converter) Run(ctx context.Context) (*Report, error) {
	sources, err := c.Sources()
	if err != nil {
		return nil, err
	}

	report := &Report{}
	start := time.Now()
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, err := c.ConvertFile(ctx, src, c.OutputPath(src))
		if err != nil {
			fe := &FileError{Source: src, Err: err}
			if !c.opts.ContinueOnError {
				return report, fe
			}
			c.log.Warn("[convert] file failed",
				slog.String("source", src),
				slog.String("error", err.Error()))
			report.Failed = append(report.Failed, fe)
			continue
		}
		report.Converted = append(report.Converted, res)
	}

	c.log.Info("[convert] run complete",
		slog.Int("converted", len(report.Converted)),
		slog.Int("failed", len(report.Failed)),
		slog.Duration("took", time.Since(start)))
	return report, nil
}

// ConvertFile reads src fully, infers its schema and writes dst as Snappy
// compressed Parquet.
func (c *Converter) ConvertFile(ctx context.Context, src, dst string) (FileResult, error) {
	in, err := c.store.Open(ctx, filepath.ToSlash(src))
	if err != nil {
		return FileResult{}, err
	}
	defer in.Close()

	schema, err := InferSchema(in)
	if err != nil {
		return FileResult{}, err
	}
	if _, err := in.Seek(0, io.SeekStart); err != nil {
		return FileResult{}, fmt.Errorf("rewind %s: %w", src, err)
	}

	tbl, err := c.readTable(in, schema)
	if err != nil {
		return FileResult{}, err
	}
	defer tbl.Release()

	var buf bytes.Buffer
	if err := WriteParquet(&buf, tbl, c.opts.Allocator); err != nil {
		return FileResult{}, err
	}
	if err := c.store.Put(ctx, filepath.ToSlash(dst), &buf, int64(buf.Len())); err != nil {
		return FileResult{}, err
	}

	c.log.Debug("[convert] file written",
		slog.String("source", src),
		slog.String("output", dst),
		slog.Int64("rows", tbl.NumRows()))
	return FileResult{Source: src, Output: dst, Rows: tbl.NumRows(), Schema: schema}, nil
}

func (c *Converter) readTable(in objstore.File, schema *arrow.Schema) (arrow.Table, error) {
	rdr := csv.NewReader(in, schema,
		csv.WithHeader(true),
		csv.WithChunk(-1),
		csv.WithNullReader(true, ""),
		csv.WithAllocator(c.opts.Allocator),
	)
	defer rdr.Release()

	var recs []arrow.Record
	defer func() {
		for _, r := range recs {
			r.Release()
		}
	}()
	for rdr.Next() {
		rec := rdr.Record()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := rdr.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCSV, err)
	}
	return array.NewTableFromRecords(schema, recs), nil
}

// WriteParquet encodes tbl as Parquet with Snappy compression and the Arrow
// schema stored in the file metadata.
func WriteParquet(w io.Writer, tbl arrow.Table, mem memory.Allocator) error {
	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithAllocator(mem),
	)
	arrProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())
	if err := pqarrow.WriteTable(tbl, w, rowGroupSize, props, arrProps); err != nil {
		return fmt.Errorf("write parquet: %w", err)
	}
	return nil
}
