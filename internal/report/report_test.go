package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/plateworks/hcstiles/internal/layout"
	"github.com/plateworks/hcstiles/internal/platedb"
)

func TestWriteOccupancy(t *testing.T) {
	occ := []platedb.WellOccupancy{
		{Row: "A", Column: 1, Tiles: 4},
		{Row: "B", Column: 12, Tiles: 2},
		{Row: "H", Column: 6, Tiles: 1},
	}

	var buf bytes.Buffer
	if err := WriteOccupancy(&buf, "plate1", layout.Plate96, occ); err != nil {
		t.Fatalf("WriteOccupancy failed: %v", err)
	}

	html := buf.String()
	if !strings.Contains(html, "plate=plate1") {
		t.Error("rendered chart missing plate name")
	}
	if !strings.Contains(html, "heatmap") {
		t.Error("rendered chart missing heatmap series")
	}
}

func TestWriteOccupancyEmptyPlate(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteOccupancy(&buf, "empty", layout.Plate384, nil); err != nil {
		t.Fatalf("WriteOccupancy on empty plate failed: %v", err)
	}
}

func TestWriteOccupancyDefaultsLayout(t *testing.T) {
	var buf bytes.Buffer
	occ := []platedb.WellOccupancy{{Row: "A", Column: 1, Tiles: 1}}
	if err := WriteOccupancy(&buf, "plate1", layout.Plate(""), occ); err != nil {
		t.Fatalf("WriteOccupancy with zero layout failed: %v", err)
	}
}

func TestWriteOccupancyWellOutsideLayout(t *testing.T) {
	var buf bytes.Buffer
	occ := []platedb.WellOccupancy{{Row: "I", Column: 1, Tiles: 1}}
	if err := WriteOccupancy(&buf, "plate1", layout.Plate96, occ); err == nil {
		t.Error("expected error for row I on a 96-well plate")
	}

	occ = []platedb.WellOccupancy{{Row: "A", Column: 13, Tiles: 1}}
	if err := WriteOccupancy(&buf, "plate1", layout.Plate96, occ); err == nil {
		t.Error("expected error for column 13 on a 96-well plate")
	}
}

func TestWriteOccupancyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "occupancy.html")
	occ := []platedb.WellOccupancy{{Row: "A", Column: 1, Tiles: 1}}

	if err := WriteOccupancyFile(path, "plate1", layout.Plate24, occ); err != nil {
		t.Fatalf("WriteOccupancyFile failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) == 0 {
		t.Error("wrote empty report file")
	}
}
