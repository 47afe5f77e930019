// Package grammar extracts plate coordinates from vendor file names.
//
// Each HCS vendor encodes well/field/channel/plane/time coordinates into TIFF
// file names with its own fixed grammar. The extractors here are pure
// functions over the name string: no file I/O, no state. Vendor parsers use
// them both to locate coordinates (ScanR) and to cross-check coordinates
// declared elsewhere (Operetta).
package grammar

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"
)

// ErrNoMatch is returned when a name does not follow the expected grammar.
var ErrNoMatch = errors.New("name does not match vendor grammar")

// Operetta TIFF names look like r01c03f12p02-ch1sk1fk1fl1.tiff:
// row, column, field, plane, channel, then sk/fk/fl acquisition counters.
var operettaName = regexp.MustCompile(`^r(\d+)c(\d+)f(\d+)p(\d+)-ch(\d+)sk(\d+)fk(\d+)fl(\d+)\.tiff?$`)

// ScanR image identifiers embed a sequential well number and position
// number, e.g. W00012P0003... anywhere in the string.
var scanrWellPosition = regexp.MustCompile(`W(\d+)P(\d+)`)

// OperettaCoordinates is the coordinate tuple encoded in an Operetta TIFF
// file name. All values are 1-based as written by the instrument.
type OperettaCoordinates struct {
	Row     int
	Column  int
	Field   int
	Plane   int
	Channel int
	SK      int // measurement sequence counter
	FK      int // flim sequence counter
	FL      int // flim repeat counter
}

// ParseOperettaName extracts the coordinate tuple from an Operetta TIFF file
// name. Any leading directory components are ignored.
func ParseOperettaName(name string) (OperettaCoordinates, error) {
	m := operettaName.FindStringSubmatch(path.Base(name))
	if m == nil {
		return OperettaCoordinates{}, fmt.Errorf("operetta name %q: %w", name, ErrNoMatch)
	}
	fields := make([]int, 8)
	for i := range fields {
		v, err := strconv.Atoi(m[i+1])
		if err != nil {
			return OperettaCoordinates{}, fmt.Errorf("operetta name %q: %w", name, ErrNoMatch)
		}
		fields[i] = v
	}
	return OperettaCoordinates{
		Row:     fields[0],
		Column:  fields[1],
		Field:   fields[2],
		Plane:   fields[3],
		Channel: fields[4],
		SK:      fields[5],
		FK:      fields[6],
		FL:      fields[7],
	}, nil
}

// ScanRWellPosition is the sequential well and position pair encoded in a
// ScanR image identifier. Both are 1-based sequential integers; the well
// number still needs a plate layout before it means anything as a plate
// coordinate.
type ScanRWellPosition struct {
	Well     int
	Position int
}

// ParseScanRName extracts the W<n>P<n> pair from a ScanR image identifier or
// file name.
func ParseScanRName(s string) (ScanRWellPosition, error) {
	m := scanrWellPosition.FindStringSubmatch(s)
	if m == nil {
		return ScanRWellPosition{}, fmt.Errorf("scanr name %q: %w", s, ErrNoMatch)
	}
	well, err := strconv.Atoi(m[1])
	if err != nil {
		return ScanRWellPosition{}, fmt.Errorf("scanr name %q: %w", s, ErrNoMatch)
	}
	position, err := strconv.Atoi(m[2])
	if err != nil {
		return ScanRWellPosition{}, fmt.Errorf("scanr name %q: %w", s, ErrNoMatch)
	}
	return ScanRWellPosition{Well: well, Position: position}, nil
}
