// Package dataset loads the telemetry and failure Parquet datasets.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/unijord/pdm/pkg/objstore"
)

// Source resolves locations to stores. *engine.Session implements it.
type Source interface {
	Store(loc objstore.Location) (objstore.Store, error)
	Allocator() memory.Allocator
	Logger() *slog.Logger
}

// Files returns the Parquet object keys making up the dataset at loc.
// A location naming a single object yields that object. Otherwise loc is
// treated as a directory and every *.parquet object below it is returned,
// skipping names starting with "_" or ".".
func Files(ctx context.Context, store objstore.Store, loc objstore.Location) ([]string, error) {
	f, err := store.Open(ctx, loc.Key)
	if err == nil {
		f.Close()
		return []string{loc.Key}, nil
	}
	if !errors.Is(err, objstore.ErrNotFound) && !errors.Is(err, objstore.ErrNotObject) {
		return nil, err
	}

	dir := strings.TrimSuffix(loc.Key, "/")
	keys, err := store.List(ctx, dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, key := range keys {
		if !strings.HasPrefix(key, dir+"/") {
			continue
		}
		if hiddenPath(strings.TrimPrefix(key, dir+"/")) || path.Ext(key) != ".parquet" {
			continue
		}
		out = append(out, key)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no parquet files at %s", objstore.ErrNotFound, loc)
	}
	return out, nil
}

func hiddenPath(rel string) bool {
	for _, elem := range strings.Split(rel, "/") {
		if strings.HasPrefix(elem, "_") || strings.HasPrefix(elem, ".") {
			return true
		}
	}
	return false
}

// readEach reads every file of the dataset at loc as an Arrow table and
// passes it to fn. The table is released when fn returns.
func readEach(ctx context.Context, src Source, loc objstore.Location, fn func(tbl arrow.Table) error) error {
	store, err := src.Store(loc)
	if err != nil {
		return err
	}
	keys, err := Files(ctx, store, loc)
	if err != nil {
		return err
	}

	mem := src.Allocator()
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := readFile(ctx, store, key, mem, fn); err != nil {
			return fmt.Errorf("read %s: %w", key, err)
		}
	}
	src.Logger().Debug("[dataset] read",
		slog.String("location", loc.String()),
		slog.Int("files", len(keys)))
	return nil
}

func readFile(ctx context.Context, store objstore.Store, key string, mem memory.Allocator, fn func(arrow.Table) error) error {
	f, err := store.Open(ctx, key)
	if err != nil {
		return err
	}
	defer f.Close()

	tbl, err := pqarrow.ReadTable(ctx, f, parquet.NewReaderProperties(mem), pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return err
	}
	defer tbl.Release()
	return fn(tbl)
}
