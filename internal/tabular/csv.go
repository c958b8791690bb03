// Package tabular decodes tabular export files into the raw rows the
// consolidation engine consumes. The engine itself is format-agnostic; this
// is the CSV reference reader.
package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/schema"
)

var bomUTF8 = []byte{0xEF, 0xBB, 0xBF}

// ReadFile decodes a CSV export into rows tagged with the file it came from.
// The first line is the header; short records are padded with empty values.
func ReadFile(path string) ([]schema.Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	rows, err := Read(bytes.NewReader(bytes.TrimPrefix(data, bomUTF8)))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	file := filepath.Base(path)
	for i := range rows {
		rows[i].Values[schema.InternalPrefix+"file"] = file
	}
	return rows, nil
}

// Read decodes CSV from a reader into raw rows.
func Read(r io.Reader) ([]schema.Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(h)
	}

	var rows []schema.Row
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}
		values := make(map[string]string, len(columns))
		for i, col := range columns {
			if col == "" {
				continue
			}
			if i < len(record) {
				values[col] = record[i]
			} else {
				values[col] = ""
			}
		}
		rows = append(rows, schema.Row{Columns: columns, Values: values})
	}
	return rows, nil
}
