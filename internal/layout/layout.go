// Package layout maps sequential well indices onto multiwell plate
// coordinates. Vendors like Olympus ScanR number wells 1..N in acquisition
// order; turning that number into a row letter and column requires knowing
// which plate was in the machine, so every mapping takes an explicit layout.
package layout

import (
	"errors"
	"fmt"
)

// StandardRowNames holds the row letters used by every supported plate,
// indexed from zero (row 0 is "A").
const StandardRowNames = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// ErrWellMapping is returned when a sequential well index does not fit
// inside the declared plate layout. An undersized layout would silently
// misassign every subsequent well, so this is always a hard error.
var ErrWellMapping = errors.New("well index out of range for plate layout")

// Plate identifies one of the supported standard plate layouts.
type Plate string

const (
	Plate24  Plate = "24-well"
	Plate48  Plate = "48-well"
	Plate96  Plate = "96-well"
	Plate384 Plate = "384-well"
)

// dims holds the fixed row/column counts for each standard layout.
// rows*columns always equals the well count in the layout name.
var dims = map[Plate]struct{ rows, columns int }{
	Plate24:  {4, 6},
	Plate48:  {6, 8},
	Plate96:  {8, 12},
	Plate384: {16, 24},
}

// Valid reports whether p is one of the supported standard layouts.
func (p Plate) Valid() bool {
	_, ok := dims[p]
	return ok
}

// Rows returns the number of rows in the layout.
func (p Plate) Rows() int { return dims[p].rows }

// Columns returns the number of columns in the layout.
func (p Plate) Columns() int { return dims[p].columns }

// Wells returns the total well count of the layout.
func (p Plate) Wells() int { return dims[p].rows * dims[p].columns }

// WellPosition converts a 1-based sequential well index into a row letter and
// a 1-based column number for the given layout. Wells are numbered row-major:
// well 1 is A1, and on a 96-well plate well 13 is B1.
func WellPosition(well int, plate Plate) (row string, column int, err error) {
	d, ok := dims[plate]
	if !ok {
		return "", 0, fmt.Errorf("unknown plate layout %q: %w", plate, ErrWellMapping)
	}
	if well < 1 || well > d.rows*d.columns {
		return "", 0, fmt.Errorf("well index %d out of bounds for layout %s: %w", well, plate, ErrWellMapping)
	}
	rowIdx := (well - 1) / d.columns
	column = (well-1)%d.columns + 1
	return string(StandardRowNames[rowIdx]), column, nil
}

// RowName converts a 0-based row index into its letter.
func RowName(index int) (string, error) {
	if index < 0 || index >= len(StandardRowNames) {
		return "", fmt.Errorf("row index %d out of range: %w", index, ErrWellMapping)
	}
	return string(StandardRowNames[index]), nil
}
