package layout

import (
	"errors"
	"fmt"
	"testing"
)

func TestWellPositionFirstWell(t *testing.T) {
	// Well 1 is A1 on every supported layout.
	for _, plate := range []Plate{Plate24, Plate48, Plate96, Plate384} {
		row, col, err := WellPosition(1, plate)
		if err != nil {
			t.Fatalf("WellPosition(1, %s) returned error: %v", plate, err)
		}
		if row != "A" || col != 1 {
			t.Errorf("WellPosition(1, %s) = %s%d, want A1", plate, row, col)
		}
	}
}

func TestWellPositionRowRollover(t *testing.T) {
	cases := []struct {
		plate Plate
		well  int
		row   string
		col   int
	}{
		{Plate96, 13, "B", 1},
		{Plate96, 12, "A", 12},
		{Plate96, 96, "H", 12},
		{Plate384, 25, "B", 1},
		{Plate384, 384, "P", 24},
		{Plate24, 7, "B", 1},
		{Plate48, 9, "B", 1},
	}
	for _, tc := range cases {
		row, col, err := WellPosition(tc.well, tc.plate)
		if err != nil {
			t.Fatalf("WellPosition(%d, %s) returned error: %v", tc.well, tc.plate, err)
		}
		if row != tc.row || col != tc.col {
			t.Errorf("WellPosition(%d, %s) = %s%d, want %s%d", tc.well, tc.plate, row, col, tc.row, tc.col)
		}
	}
}

func TestWellPositionBijection(t *testing.T) {
	// Over [1, rows*columns] the mapping must hit every (row, column) pair
	// exactly once.
	for _, plate := range []Plate{Plate24, Plate48, Plate96, Plate384} {
		seen := make(map[string]bool)
		for w := 1; w <= plate.Wells(); w++ {
			row, col, err := WellPosition(w, plate)
			if err != nil {
				t.Fatalf("WellPosition(%d, %s) returned error: %v", w, plate, err)
			}
			key := fmt.Sprintf("%s%d", row, col)
			if seen[key] {
				t.Fatalf("layout %s: well %d maps to already-seen position %s", plate, w, key)
			}
			seen[key] = true
		}
		if len(seen) != plate.Wells() {
			t.Errorf("layout %s: mapped %d distinct positions, want %d", plate, len(seen), plate.Wells())
		}
	}
}

func TestWellPositionOutOfRange(t *testing.T) {
	for _, tc := range []struct {
		plate Plate
		well  int
	}{
		{Plate96, 0},
		{Plate96, -3},
		{Plate96, 97},
		{Plate24, 25},
		{Plate384, 385},
	} {
		_, _, err := WellPosition(tc.well, tc.plate)
		if !errors.Is(err, ErrWellMapping) {
			t.Errorf("WellPosition(%d, %s) error = %v, want ErrWellMapping", tc.well, tc.plate, err)
		}
	}
}

func TestWellPositionUnknownLayout(t *testing.T) {
	_, _, err := WellPosition(1, Plate("1536-well"))
	if !errors.Is(err, ErrWellMapping) {
		t.Errorf("WellPosition with unknown layout error = %v, want ErrWellMapping", err)
	}
}

func TestRowName(t *testing.T) {
	if name, err := RowName(0); err != nil || name != "A" {
		t.Errorf("RowName(0) = %q, %v, want A", name, err)
	}
	if name, err := RowName(15); err != nil || name != "P" {
		t.Errorf("RowName(15) = %q, %v, want P", name, err)
	}
	if _, err := RowName(26); !errors.Is(err, ErrWellMapping) {
		t.Errorf("RowName(26) error = %v, want ErrWellMapping", err)
	}
}
