// Package condition loads experimental condition tables and joins them onto
// plate wells.
//
// A condition table is a UTF-8 CSV with a header row. The "row" column is
// required; the well column number is accepted under "column" or "col";
// an optional "acquisition" column restricts rows to one acquisition. Every
// other column is a custom condition attribute with one inferred type across
// the whole column (string, number or boolean). Header matching is
// case-insensitive and normalized once at load time.
package condition

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

var (
	// ErrConditionType is returned when a custom column mixes incompatible
	// value types, e.g. freeform text next to numbers.
	ErrConditionType = errors.New("condition table column mixes value types")

	// ErrConditionKey is returned when the required key columns (row,
	// column/col, acquisition) are missing, duplicated or malformed.
	ErrConditionKey = errors.New("condition table key column invalid")
)

// nullTokens are the case-insensitive cell values recognized as null.
var nullTokens = map[string]bool{
	"":    true,
	"na":  true,
	"n/a": true,
}

// isNull reports whether a raw cell value is a recognized null token.
func isNull(raw string) bool {
	return nullTokens[strings.ToLower(strings.TrimSpace(raw))]
}

// Kind is the inferred type of a custom condition column.
type Kind string

const (
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
)

// Value is one typed condition cell. Null cells keep the column's kind with
// Null set.
type Value struct {
	Kind Kind
	Null bool
	Str  string
	Num  float64
	Bool bool
}

// String renders the value the way it would be written back to a CSV cell.
func (v Value) String() string {
	if v.Null {
		return "NA"
	}
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return v.Str
	}
}

// Attributes maps custom column names to their typed values for one
// condition row.
type Attributes map[string]Value

// Column describes one custom condition column.
type Column struct {
	Name string
	Kind Kind
}

// Row is one condition record addressed to a well. Acquisition is nil when
// the row applies to every acquisition.
type Row struct {
	Row         string
	Column      int
	Acquisition *int
	Values      Attributes
}

// Table is a loaded, typed condition table. Immutable after Load.
type Table struct {
	columns []Column
	rows    []Row
}

// Columns returns the custom columns in header order.
func (t *Table) Columns() []Column { return t.columns }

// Rows returns all condition rows in file order.
func (t *Table) Rows() []Row { return t.rows }

// Match returns every condition row addressing the given well, in file
// order. Rows carrying an acquisition value only match that acquisition;
// rows with a null acquisition match all. No match is a normal outcome and
// yields an empty slice.
func (t *Table) Match(row string, column int, acquisition int) []Attributes {
	var matched []Attributes
	for _, r := range t.rows {
		if !strings.EqualFold(r.Row, row) || r.Column != column {
			continue
		}
		if r.Acquisition != nil && *r.Acquisition != acquisition {
			continue
		}
		matched = append(matched, r.Values)
	}
	return matched
}

// header describes where the key and custom columns sit in the CSV record.
type header struct {
	rowIdx    int
	columnIdx int
	acqIdx    int // -1 when absent
	custom    []int
	names     []string // canonical custom names, parallel to custom
}

func parseHeader(record []string) (*header, error) {
	h := &header{rowIdx: -1, columnIdx: -1, acqIdx: -1}
	seen := make(map[string]bool)
	for i, raw := range record {
		name := strings.ToLower(strings.TrimSpace(raw))
		if seen[name] {
			return nil, fmt.Errorf("duplicate header %q: %w", raw, ErrConditionKey)
		}
		seen[name] = true
		switch name {
		case "row":
			h.rowIdx = i
		case "column", "col":
			if h.columnIdx >= 0 {
				return nil, fmt.Errorf("both %q and a prior column header present: %w", raw, ErrConditionKey)
			}
			h.columnIdx = i
		case "acquisition":
			h.acqIdx = i
		default:
			h.custom = append(h.custom, i)
			h.names = append(h.names, strings.TrimSpace(raw))
		}
	}
	if h.rowIdx < 0 {
		return nil, fmt.Errorf("condition table must contain a 'row' column: %w", ErrConditionKey)
	}
	if h.columnIdx < 0 {
		return nil, fmt.Errorf("condition table must contain a 'column' or 'col' column: %w", ErrConditionKey)
	}
	return h, nil
}

// classify assigns a single scalar kind to a non-null raw value. Booleans
// are only the case-sensitive literals true/false; numbers are anything
// strconv accepts, which keeps NaN a valid numeric value distinct from null.
func classify(raw string) Kind {
	if raw == "true" || raw == "false" {
		return KindBool
	}
	if _, err := strconv.ParseFloat(raw, 64); err == nil {
		return KindNumber
	}
	return KindString
}

// inferKind unifies the kinds of all non-null values in one column. The
// result depends only on the set of values, not their order: a single kind
// shared by every value wins, anything else is a type conflict.
func inferKind(name string, raw []string) (Kind, error) {
	kinds := make(map[Kind]bool)
	for _, v := range raw {
		kinds[classify(strings.TrimSpace(v))] = true
	}
	if len(kinds) == 0 {
		// All-null column: typed as string by convention.
		return KindString, nil
	}
	if len(kinds) > 1 {
		found := make([]string, 0, len(kinds))
		for k := range kinds {
			found = append(found, string(k))
		}
		return "", fmt.Errorf("column %q must contain a single value type, found %s: %w",
			name, strings.Join(found, " and "), ErrConditionType)
	}
	for k := range kinds {
		return k, nil
	}
	return KindString, nil
}

func parseValue(raw string, kind Kind) Value {
	raw = strings.TrimSpace(raw)
	if isNull(raw) {
		return Value{Kind: kind, Null: true}
	}
	switch kind {
	case KindNumber:
		n, _ := strconv.ParseFloat(raw, 64)
		return Value{Kind: kind, Num: n}
	case KindBool:
		return Value{Kind: kind, Bool: raw == "true"}
	default:
		return Value{Kind: kind, Str: raw}
	}
}

// Load reads and types a condition table CSV.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read condition table %s: %w", path, err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read condition table %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("condition table %s has no header row: %w", path, ErrConditionKey)
	}

	h, err := parseHeader(records[0])
	if err != nil {
		return nil, err
	}
	body := records[1:]

	// Two passes: infer each custom column's kind over the full value set
	// first, then materialize typed rows. Inference never depends on row
	// order.
	columns := make([]Column, len(h.custom))
	for ci, idx := range h.custom {
		var nonNull []string
		for _, rec := range body {
			if v := strings.TrimSpace(rec[idx]); !isNull(v) {
				nonNull = append(nonNull, v)
			}
		}
		kind, err := inferKind(h.names[ci], nonNull)
		if err != nil {
			return nil, err
		}
		columns[ci] = Column{Name: h.names[ci], Kind: kind}
	}

	rows := make([]Row, 0, len(body))
	for i, rec := range body {
		line := i + 2 // 1-based, after header
		rowName := strings.TrimSpace(rec[h.rowIdx])
		if rowName == "" {
			return nil, fmt.Errorf("line %d: empty well row: %w", line, ErrConditionKey)
		}
		colNum, err := strconv.Atoi(strings.TrimSpace(rec[h.columnIdx]))
		if err != nil || colNum < 1 {
			return nil, fmt.Errorf("line %d: well column %q is not a positive integer: %w",
				line, rec[h.columnIdx], ErrConditionKey)
		}

		row := Row{Row: rowName, Column: colNum, Values: make(Attributes, len(columns))}
		if h.acqIdx >= 0 {
			raw := strings.TrimSpace(rec[h.acqIdx])
			if !isNull(raw) {
				acq, err := strconv.Atoi(raw)
				if err != nil {
					return nil, fmt.Errorf("line %d: acquisition %q is not an integer: %w",
						line, raw, ErrConditionKey)
				}
				row.Acquisition = &acq
			}
		}
		for ci, idx := range h.custom {
			row.Values[columns[ci].Name] = parseValue(rec[idx], columns[ci].Kind)
		}
		rows = append(rows, row)
	}

	return &Table{columns: columns, rows: rows}, nil
}

// NumberValue builds a numeric Value, mainly for tests and table assembly.
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// IsNaN reports whether v is the numeric NaN value.
func (v Value) IsNaN() bool { return v.Kind == KindNumber && !v.Null && math.IsNaN(v.Num) }
