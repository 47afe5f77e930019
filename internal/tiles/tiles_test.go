package tiles

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFromBitDepth(t *testing.T) {
	cases := []struct {
		bits int
		want DataType
	}{
		{8, Uint8},
		{12, Uint16},
		{16, Uint16},
		{32, Uint32},
	}
	for _, c := range cases {
		if got := FromBitDepth(c.bits); got != c.want {
			t.Errorf("FromBitDepth(%d) = %v, want %v", c.bits, got, c.want)
		}
	}
}

func TestFromMaxIntensity(t *testing.T) {
	cases := []struct {
		max  int
		want DataType
	}{
		{0, Uint8},
		{255, Uint8},
		{256, Uint16},
		{4095, Uint16},
		{65535, Uint16},
		{65536, Uint32},
	}
	for _, c := range cases {
		if got := FromMaxIntensity(c.max); got != c.want {
			t.Errorf("FromMaxIntensity(%d) = %v, want %v", c.max, got, c.want)
		}
	}
}

func TestWellID(t *testing.T) {
	cases := []struct {
		tile Tile
		want string
	}{
		{Tile{Row: "A", Column: 1}, "A01"},
		{Tile{Row: "B", Column: 12}, "B12"},
		{Tile{Row: "P", Column: 24}, "P24"},
	}
	for _, c := range cases {
		if got := c.tile.WellID(); got != c.want {
			t.Errorf("WellID(%s, %d) = %q, want %q", c.tile.Row, c.tile.Column, got, c.want)
		}
	}
}

func TestAcquisitionRoot(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"/plates/acq1", "/plates/acq1"},
		{"/plates/acq1/", "/plates/acq1"},
		{"/plates/acq1/Images", "/plates/acq1"},
		{"/plates/acq1/data", "/plates/acq1"},
		{"/plates/Images/acq1", "/plates/Images/acq1"},
	}
	for _, c := range cases {
		if got := (Acquisition{Path: c.path}).Root(); got != c.want {
			t.Errorf("Root(%q) = %q, want %q", c.path, got, c.want)
		}
	}
}

func TestNormalizedPlateName(t *testing.T) {
	a := Acquisition{Path: "/plates/acq1/Images"}
	if got := a.NormalizedPlateName(); got != "acq1" {
		t.Errorf("NormalizedPlateName = %q, want acq1", got)
	}

	a.PlateName = "experiment A"
	if got := a.NormalizedPlateName(); got != "experiment A" {
		t.Errorf("explicit name = %q, want experiment A", got)
	}
}

func TestConditionTableUnconfigured(t *testing.T) {
	table, err := (Acquisition{Path: "/plates/acq1"}).ConditionTable()
	if err != nil {
		t.Fatalf("ConditionTable: %v", err)
	}
	if table != nil {
		t.Error("expected nil table when no condition path is set")
	}
}

func TestCheckUnique(t *testing.T) {
	a := Tile{Plate: "p", Row: "A", Column: 1, Field: 1, Path: "a.tif"}
	b := Tile{Plate: "p", Row: "A", Column: 1, Field: 2, Path: "b.tif"}
	if err := CheckUnique([]Tile{a, b}); err != nil {
		t.Errorf("distinct tiles: %v", err)
	}

	dup := a
	dup.Path = "other.tif"
	err := CheckUnique([]Tile{a, b, dup})
	if !errors.Is(err, ErrParse) {
		t.Errorf("duplicate tiles: err = %v, want ErrParse", err)
	}
}

func TestCheckUniquePlateSeparatesGroups(t *testing.T) {
	a := Tile{Plate: "p_focus", Row: "A", Column: 1, Path: "a.tif"}
	b := Tile{Plate: "p_maximum_projection", Row: "A", Column: 1, Path: "b.tif"}
	if err := CheckUnique([]Tile{a, b}); err != nil {
		t.Errorf("same coordinates on distinct plates: %v", err)
	}
}

// fixedParser returns a canned result for every acquisition.
type fixedParser struct {
	tiles []Tile
	err   error
}

func (p fixedParser) Parse(acq Acquisition) (*Result, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &Result{Tiles: p.tiles, Details: &AcquisitionDetails{}}, nil
}

func TestParseAcquisitions(t *testing.T) {
	p := fixedParser{tiles: []Tile{{Plate: "p", Row: "A", Column: 1}}}
	acqs := []Acquisition{{Path: "/a"}, {Path: "/b"}}

	results, err := ParseAcquisitions(p, acqs)
	if err != nil {
		t.Fatalf("ParseAcquisitions: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want 2", len(results))
	}
}

func TestParseAcquisitionsEmptyList(t *testing.T) {
	_, err := ParseAcquisitions(fixedParser{}, nil)
	if !errors.Is(err, ErrParse) {
		t.Errorf("err = %v, want ErrParse", err)
	}
}

func TestParseAcquisitionsNoTiles(t *testing.T) {
	_, err := ParseAcquisitions(fixedParser{}, []Acquisition{{Path: "/a"}})
	if !errors.Is(err, ErrParse) {
		t.Errorf("zero tiles overall: err = %v, want ErrParse", err)
	}
}

func TestParseAcquisitionsPropagatesError(t *testing.T) {
	p := fixedParser{err: ErrMissingMetadata}
	_, err := ParseAcquisitions(p, []Acquisition{{Path: "/a"}})
	if !errors.Is(err, ErrMissingMetadata) {
		t.Errorf("err = %v, want ErrMissingMetadata", err)
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDetectFormat(t *testing.T) {
	operetta := t.TempDir()
	touch(t, filepath.Join(operetta, "Images", "Index.idx.xml"))

	scanr := t.TempDir()
	touch(t, filepath.Join(scanr, "data", "metadata.ome.xml"))

	cq3k := t.TempDir()
	touch(t, filepath.Join(cq3k, "MeasurementData.mlf"))
	touch(t, filepath.Join(cq3k, "MeasurementDetail.mrf"))

	cases := []struct {
		dir  string
		want Format
	}{
		{operetta, FormatOperetta},
		{filepath.Join(operetta, "Images"), FormatOperetta},
		{scanr, FormatScanR},
		{filepath.Join(scanr, "data"), FormatScanR},
		{cq3k, FormatCQ3K},
	}
	for _, c := range cases {
		got, err := DetectFormat(c.dir)
		if err != nil {
			t.Errorf("DetectFormat(%s): %v", c.dir, err)
			continue
		}
		if got != c.want {
			t.Errorf("DetectFormat(%s) = %v, want %v", c.dir, got, c.want)
		}
	}
}

func TestDetectFormatUnknown(t *testing.T) {
	_, err := DetectFormat(t.TempDir())
	if !errors.Is(err, ErrMissingMetadata) {
		t.Errorf("err = %v, want ErrMissingMetadata", err)
	}
}

func TestDetectFormatIncompleteCQ3K(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "MeasurementData.mlf"))

	_, err := DetectFormat(dir)
	if !errors.Is(err, ErrMissingMetadata) {
		t.Errorf("only .mlf present: err = %v, want ErrMissingMetadata", err)
	}
}
