// Package source loads raw tabular datasets for ingestion. The column list
// of a source file is not guaranteed stable across runs; that instability is
// the premise of the drift detector.
package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/retailpulse/ingest-core/internal/tabular"
)

// Source loads one table's arriving dataset.
type Source interface {
	Load(ctx context.Context, table, file string) (*tabular.Dataset, error)
}

// CSVSource reads CSV files from a raw-data directory.
type CSVSource struct {
	Dir string
}

// NewCSVSource creates a CSV source rooted at dir.
func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{Dir: dir}
}

func (s *CSVSource) Load(ctx context.Context, table, file string) (*tabular.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(s.Dir, file)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return &tabular.Dataset{Table: table}, nil
		}
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}

	ds := &tabular.Dataset{Table: table, Columns: header}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		row := make(tabular.Record, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			} else {
				row[col] = ""
			}
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}
