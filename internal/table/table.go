// Package table defines the rectangular dataset exchanged between the
// fetcher, the sandbox, and the mailer, plus its CSV and JSON codecs.
//
// Cells hold string, int64, float64, bool, or nil. Column order is
// significant and preserved end to end.
package table

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Table is a column-named rectangular dataset.
type Table struct {
	Columns []string
	Rows    [][]any
}

// New returns an empty table with the given columns.
func New(columns ...string) *Table {
	return &Table{Columns: columns}
}

// NumRows returns the number of data rows.
func (t *Table) NumRows() int { return len(t.Rows) }

// AppendRow adds one row. The cell count must match the column count.
func (t *Table) AppendRow(cells ...any) error {
	if len(cells) != len(t.Columns) {
		return fmt.Errorf("row has %d cells, table has %d columns", len(cells), len(t.Columns))
	}
	t.Rows = append(t.Rows, cells)
	return nil
}

// FromJSON parses a JSON document into a table.
//
// A top-level array must contain objects; their keys become columns in
// first-seen order. A top-level object whose values include arrays is
// treated as column-per-key (scalar values broadcast to every row); any
// other object becomes a one-row table.
func FromJSON(data []byte) (*Table, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		return nil, fmt.Errorf("unexpected top-level JSON value %v, want array or object", tok)
	}

	switch delim {
	case '[':
		return fromJSONArray(dec)
	case '{':
		return fromJSONObject(dec)
	default:
		return nil, fmt.Errorf("unexpected top-level JSON delimiter %q", delim)
	}
}

// fromJSONArray reads objects from an open array, unioning keys into
// columns in first-seen order.
func fromJSONArray(dec *json.Decoder) (*Table, error) {
	t := &Table{}
	index := map[string]int{}
	var rows []map[string]any

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
		if d, ok := tok.(json.Delim); !ok || d != '{' {
			return nil, fmt.Errorf("array element is not an object")
		}
		row := map[string]any{}
		if err := readObjectInto(dec, row, &t.Columns, index); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	if _, err := dec.Token(); err != nil { // closing ]
		return nil, fmt.Errorf("parse JSON: %w", err)
	}

	for _, row := range rows {
		cells := make([]any, len(t.Columns))
		for i, col := range t.Columns {
			cells[i] = row[col] // missing keys stay nil
		}
		t.Rows = append(t.Rows, cells)
	}
	return t, nil
}

// fromJSONObject reads an open object. Array values become columns of rows;
// if no value is an array the object is a single row.
func fromJSONObject(dec *json.Decoder) (*Table, error) {
	var columns []string
	values := map[string]any{}
	arrays := map[string][]any{}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", tok)
		}
		columns = append(columns, key)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			var items []json.RawMessage
			if err := json.Unmarshal(raw, &items); err != nil {
				return nil, fmt.Errorf("parse JSON: %w", err)
			}
			cells := make([]any, len(items))
			for i, item := range items {
				cell, err := rawToCell(item)
				if err != nil {
					return nil, err
				}
				cells[i] = cell
			}
			arrays[key] = cells
		} else {
			cell, err := rawToCell(raw)
			if err != nil {
				return nil, err
			}
			values[key] = cell
		}
	}
	if _, err := dec.Token(); err != nil { // closing }
		return nil, fmt.Errorf("parse JSON: %w", err)
	}

	t := &Table{Columns: columns}
	if len(arrays) == 0 {
		cells := make([]any, len(columns))
		for i, col := range columns {
			cells[i] = values[col]
		}
		t.Rows = append(t.Rows, cells)
		return t, nil
	}

	n := -1
	for key, cells := range arrays {
		if n == -1 {
			n = len(cells)
		} else if len(cells) != n {
			return nil, fmt.Errorf("column %q has %d values, expected %d", key, len(cells), n)
		}
	}
	for i := 0; i < n; i++ {
		cells := make([]any, len(columns))
		for j, col := range columns {
			if arr, ok := arrays[col]; ok {
				cells[j] = arr[i]
			} else {
				cells[j] = values[col] // scalar broadcast
			}
		}
		t.Rows = append(t.Rows, cells)
	}
	return t, nil
}

// readObjectInto decodes the members of an open object into row, recording
// newly seen keys in columns/index.
func readObjectInto(dec *json.Decoder, row map[string]any, columns *[]string, index map[string]int) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("parse JSON: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected object key %v", tok)
		}
		if _, seen := index[key]; !seen {
			index[key] = len(*columns)
			*columns = append(*columns, key)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("parse JSON: %w", err)
		}
		cell, err := rawToCell(raw)
		if err != nil {
			return err
		}
		row[key] = cell
	}
	_, err := dec.Token() // closing }
	if err != nil {
		return fmt.Errorf("parse JSON: %w", err)
	}
	return nil
}

// rawToCell converts one JSON scalar into a typed cell.
func rawToCell(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}
	switch val := v.(type) {
	case nil, bool, string:
		return val, nil
	case json.Number:
		if i, err := val.Int64(); err == nil && !strings.ContainsAny(val.String(), ".eE") {
			return i, nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", val.String())
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unsupported cell value of type %T", v)
	}
}

// FromCSV parses CSV with a header row. CSV carries no type information,
// so each cell is inferred: integer, then float, then boolean, falling
// back to string. This matches the typing of the JSON codec, so numeric
// transforms behave the same for both input formats.
func FromCSV(data []byte) (*Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("CSV document is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("parse CSV: %w", err)
	}

	t := &Table{Columns: header}
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse CSV: %w", err)
		}
		cells := make([]any, len(record))
		for i, field := range record {
			cells[i] = inferCell(field)
		}
		t.Rows = append(t.Rows, cells)
	}
	return t, nil
}

// inferCell types one CSV field.
func inferCell(field string) any {
	if field == "" {
		return nil
	}
	if i, err := strconv.ParseInt(field, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(field, 64); err == nil {
		return f
	}
	switch strings.ToLower(field) {
	case "true":
		return true
	case "false":
		return false
	}
	return field
}

// ToCSV serializes the table with a header row. Fields containing the
// separator, quotes, or newlines are quoted per encoding/csv.
func (t *Table) ToCSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(t.Columns); err != nil {
		return nil, fmt.Errorf("write CSV: %w", err)
	}
	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i := range t.Columns {
			record[i] = FormatCell(row[i])
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write CSV: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write CSV: %w", err)
	}
	return buf.Bytes(), nil
}

// FormatCell renders one cell for CSV output.
func FormatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}
