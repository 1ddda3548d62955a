// Package dataset defines the tabular payload cached and served for an indicator.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Table is a rows-by-named-columns dataset for one indicator. Cells are kept
// as the strings produced by the ETL so that a round trip through the cache is
// lossless; typed accessors parse on demand.
//
// A Table handed out by the cache is shared. Callers must not mutate it; use
// Clone for a private copy.
type Table struct {
	Key     string     `json:"key"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Empty reports whether t carries no data. A nil table is empty.
func (t *Table) Empty() bool {
	return t == nil || len(t.Rows) == 0
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Column returns the index of the named column.
func (t *Table) Column(name string) (int, bool) {
	if t == nil {
		return -1, false
	}
	for i, c := range t.Columns {
		if c == name {
			return i, true
		}
	}
	return -1, false
}

// Value returns the cell at row, column name.
func (t *Table) Value(row int, column string) (string, bool) {
	idx, ok := t.Column(column)
	if !ok || row < 0 || row >= len(t.Rows) || idx >= len(t.Rows[row]) {
		return "", false
	}
	return t.Rows[row][idx], true
}

// Float parses the cell at row, column name as a float64.
func (t *Table) Float(row int, column string) (float64, error) {
	v, ok := t.Value(row, column)
	if !ok {
		return 0, fmt.Errorf("no cell at row %d column %q", row, column)
	}
	return strconv.ParseFloat(v, 64)
}

// Clone returns a deep copy of t.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	out := &Table{
		Key:     t.Key,
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([][]string, len(t.Rows)),
	}
	for i, r := range t.Rows {
		out.Rows[i] = append([]string(nil), r...)
	}
	return out
}

// ReadCSV reads a header row followed by data rows.
func ReadCSV(key string, r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return &Table{Key: key}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	table := &Table{Key: key, Columns: header}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row %d: %w", len(table.Rows)+1, err)
		}
		table.Rows = append(table.Rows, record)
	}

	return table, nil
}

// WriteCSV writes the header row followed by the data rows.
func (t *Table) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if len(t.Columns) > 0 {
		if err := writer.Write(t.Columns); err != nil {
			return fmt.Errorf("failed to write csv header: %w", err)
		}
	}
	if err := writer.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("failed to write csv rows: %w", err)
	}
	return nil
}
