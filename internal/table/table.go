// Package table reads and writes row tables as CSV or JSON.
package table

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/dgallion1/mdbulk/internal/bulk"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadRows reads a JSON array of rows, or a CSV table with a header row.
// The format is detected from the first non-blank byte.
func ReadRows(r io.Reader) ([]bulk.Row, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read table: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var rows []bulk.Row
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, fmt.Errorf("parse json table: %w", err)
		}
		return rows, nil
	}
	return readCSV(bytes.NewReader(data))
}

func readCSV(r io.Reader) ([]bulk.Row, error) {
	reader := csv.NewReader(bufio.NewReader(r))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv table: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := records[0]
	rows := make([]bulk.Row, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) > len(header) {
			return nil, fmt.Errorf("parse csv table: line %d has %d columns, header has %d", i+2, len(rec), len(header))
		}
		row := bulk.Row{Fields: map[string]string{}}
		for j, col := range header {
			value := ""
			if j < len(rec) {
				value = rec[j]
			}
			row.Set(col, value)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Columns returns the CSV header for rows: path, itemPath, the fields (the
// given order first, then any other field found in rows, sorted), their
// _original shadows when any row has one, and error when any row failed.
func Columns(rows []bulk.Row, fields []string) []string {
	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[f] = true
	}
	var extra []string
	hasOriginal, hasError := false, false
	for _, r := range rows {
		for f := range r.Fields {
			if !known[f] {
				known[f] = true
				extra = append(extra, f)
			}
		}
		if len(r.Original) > 0 {
			hasOriginal = true
		}
		if r.Error != "" {
			hasError = true
		}
	}
	sort.Strings(extra)
	all := append(append([]string(nil), fields...), extra...)

	cols := append([]string{"path", "itemPath"}, all...)
	if hasOriginal {
		for _, f := range all {
			cols = append(cols, f+bulk.OriginalSuffix)
		}
	}
	if hasError {
		cols = append(cols, "error")
	}
	return cols
}

// WriteCSV writes rows as a CSV table with the header from Columns.
func WriteCSV(w io.Writer, rows []bulk.Row, fields []string) error {
	cols := Columns(rows, fields)
	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	record := make([]string, len(cols))
	for _, r := range rows {
		for i, c := range cols {
			record[i] = cell(r, c)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

func cell(r bulk.Row, col string) string {
	switch col {
	case "path":
		return r.Path
	case "itemPath":
		return r.ItemPath
	case "error":
		return r.Error
	}
	if v, ok := r.Fields[col]; ok {
		return v
	}
	if n := len(col) - len(bulk.OriginalSuffix); n > 0 && col[n:] == bulk.OriginalSuffix {
		return r.Original[col[:n]]
	}
	return ""
}

// WriteJSON writes rows as an indented JSON array.
func WriteJSON(w io.Writer, rows []bulk.Row) error {
	if rows == nil {
		rows = []bulk.Row{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}
