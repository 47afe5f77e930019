package platedb

import (
	"path/filepath"
	"testing"

	"github.com/plateworks/hcstiles/internal/condition"
	"github.com/plateworks/hcstiles/internal/layout"
	"github.com/plateworks/hcstiles/internal/tiles"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "plates.db"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testResult() *tiles.Result {
	details := &tiles.AcquisitionDetails{
		PixelSize: 0.325,
		ZSpacing:  1,
		DataType:  tiles.Uint16,
	}
	return &tiles.Result{
		Tiles: []tiles.Tile{
			{Plate: "plate1", Row: "A", Column: 1, Field: 1, Path: "a.tif", Details: details},
			{Plate: "plate1", Row: "A", Column: 1, Field: 2, Path: "b.tif", Details: details},
			{Plate: "plate1", Row: "B", Column: 3, Field: 1, Path: "c.tif", Details: details},
		},
		Details: details,
	}
}

func TestRecordResult(t *testing.T) {
	db := setupTestDB(t)

	acq := tiles.Acquisition{Path: "/plates/plate1", Layout: layout.Plate96}
	importID, err := db.RecordResult("plate1", acq, testResult(), false)
	if err != nil {
		t.Fatalf("RecordResult failed: %v", err)
	}
	if importID == "" {
		t.Error("expected a non-empty import id")
	}

	plates, err := db.Plates()
	if err != nil {
		t.Fatalf("Plates failed: %v", err)
	}
	if len(plates) != 1 || plates[0] != "plate1" {
		t.Errorf("Plates = %v, want [plate1]", plates)
	}

	n, err := db.TileCount("plate1")
	if err != nil {
		t.Fatalf("TileCount failed: %v", err)
	}
	if n != 3 {
		t.Errorf("TileCount = %d, want 3", n)
	}
}

func TestRecordResultDuplicateAcquisition(t *testing.T) {
	db := setupTestDB(t)
	acq := tiles.Acquisition{Path: "/plates/plate1", ID: 1}

	if _, err := db.RecordResult("plate1", acq, testResult(), false); err != nil {
		t.Fatalf("first RecordResult failed: %v", err)
	}
	if _, err := db.RecordResult("plate1", acq, testResult(), false); err == nil {
		t.Error("expected error on duplicate acquisition id without extend")
	}
}

func TestRecordResultExtendSkips(t *testing.T) {
	db := setupTestDB(t)
	acq := tiles.Acquisition{Path: "/plates/plate1", ID: 1}

	if _, err := db.RecordResult("plate1", acq, testResult(), true); err != nil {
		t.Fatalf("first RecordResult failed: %v", err)
	}

	importID, err := db.RecordResult("plate1", acq, testResult(), true)
	if err != nil {
		t.Fatalf("extend RecordResult failed: %v", err)
	}
	if importID != "" {
		t.Error("expected empty import id for skipped acquisition")
	}

	n, err := db.TileCount("plate1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("TileCount = %d after skip, want 3", n)
	}
}

func TestRecordResultExtendNewAcquisition(t *testing.T) {
	db := setupTestDB(t)

	first := tiles.Acquisition{Path: "/plates/plate1", ID: 0}
	if _, err := db.RecordResult("plate1", first, testResult(), true); err != nil {
		t.Fatal(err)
	}

	res := testResult()
	for i := range res.Tiles {
		res.Tiles[i].Acquisition = 1
	}
	second := tiles.Acquisition{Path: "/plates/plate1b", ID: 1}
	importID, err := db.RecordResult("plate1", second, res, true)
	if err != nil {
		t.Fatalf("extend with new acquisition failed: %v", err)
	}
	if importID == "" {
		t.Error("expected a new import id for a new acquisition")
	}

	n, err := db.TileCount("plate1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 6 {
		t.Errorf("TileCount = %d, want 6", n)
	}
}

func TestOccupancy(t *testing.T) {
	db := setupTestDB(t)
	acq := tiles.Acquisition{Path: "/plates/plate1"}
	if _, err := db.RecordResult("plate1", acq, testResult(), false); err != nil {
		t.Fatal(err)
	}

	occ, err := db.Occupancy("plate1")
	if err != nil {
		t.Fatalf("Occupancy failed: %v", err)
	}
	want := []WellOccupancy{
		{Row: "A", Column: 1, Tiles: 2},
		{Row: "B", Column: 3, Tiles: 1},
	}
	if len(occ) != len(want) {
		t.Fatalf("got %d wells, want %d", len(occ), len(want))
	}
	for i := range want {
		if occ[i] != want[i] {
			t.Errorf("well %d = %+v, want %+v", i, occ[i], want[i])
		}
	}
}

func TestWellConditions(t *testing.T) {
	db := setupTestDB(t)

	res := testResult()
	res.Tiles[0].Attributes = []condition.Attributes{{
		"drug": condition.Value{Kind: condition.KindString, Str: "DMSO"},
		"dose": condition.NumberValue(1.5),
	}}
	res.Tiles[1].Attributes = res.Tiles[0].Attributes

	acq := tiles.Acquisition{Path: "/plates/plate1"}
	if _, err := db.RecordResult("plate1", acq, res, false); err != nil {
		t.Fatal(err)
	}

	conds, err := db.WellConditions("plate1", "A", 1)
	if err != nil {
		t.Fatalf("WellConditions failed: %v", err)
	}
	if conds["drug"] != "DMSO" {
		t.Errorf("drug = %q, want DMSO", conds["drug"])
	}
	if conds["dose"] != "1.5" {
		t.Errorf("dose = %q, want 1.5", conds["dose"])
	}

	empty, err := db.WellConditions("plate1", "B", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no conditions for B3, got %v", empty)
	}
}
