// Package tiles defines the uniform tile-coordinate model that the vendor
// metadata parsers normalize into, plus the shared plumbing around them:
// acquisition input models, vendor format detection, duplicate-coordinate
// rejection and the multi-acquisition parse driver.
//
// A Tile is one image plane for a given well/field/channel/z/timepoint. Every
// vendor parser emits an ordered slice of Tiles plus one AcquisitionDetails
// record; the downstream conversion engine consumes both and never mutates
// them.
package tiles

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/plateworks/hcstiles/internal/condition"
	"github.com/plateworks/hcstiles/internal/layout"
)

// DataType names the pixel data type of an acquisition using zarr dtype
// naming.
type DataType string

const (
	Uint8  DataType = "uint8"
	Uint16 DataType = "uint16"
	Uint32 DataType = "uint32"
)

// FromBitDepth maps a declared camera bit depth to the smallest data type
// that holds it.
func FromBitDepth(bits int) DataType {
	switch {
	case bits <= 8:
		return Uint8
	case bits <= 16:
		return Uint16
	default:
		return Uint32
	}
}

// FromMaxIntensity infers a data type from the maximum recorded intensity
// value. Used for formats like Operetta that never declare a bit depth.
func FromMaxIntensity(max int) DataType {
	switch {
	case max <= 255:
		return Uint8
	case max <= 65535:
		return Uint16
	default:
		return Uint32
	}
}

// ChannelInfo describes one acquisition channel.
type ChannelInfo struct {
	Index int    // channel index, in the same base the tiles use
	Label string // vendor channel name, may be empty
}

// AcquisitionDetails carries the acquisition-level metadata shared by every
// tile of one acquisition. Counts are zero when the vendor metadata does not
// declare them.
type AcquisitionDetails struct {
	PixelSize  float64 // nominal xy pixel size in µm
	ZSpacing   float64 // spacing between z planes in µm, 1 for single-plane
	TSpacing   float64 // spacing between timepoints, nominal 1
	Channels   []ChannelInfo
	DataType   DataType
	TimeSeries bool // more than one distinct timepoint

	Rows       int
	Columns    int
	Fields     int
	ZPlanes    int
	Timepoints int
}

// Tile is the atomic metadata unit for one image plane. Coordinates are
// normalized: Row is a letter, Column is 1-based, Z/Timepoint are 0-based.
// Channel keeps the vendor's native index base (CQ3K numbers channels from 1,
// the other formats from 0). StageY is already negated so the plate origin sits in the top-left
// corner, the convention the conversion engine and most viewers expect.
type Tile struct {
	Plate       string // output plate name, including any z-group suffix
	Row         string
	Column      int
	Field       int
	Channel     int
	ChannelName string
	Z           int
	Timepoint   int

	StageX float64 // µm, world coordinates
	StageY float64 // µm, world coordinates, y axis flipped
	StageZ float64 // µm

	LengthX int // image width in pixels
	LengthY int // image height in pixels

	Path        string // source TIFF path
	Acquisition int

	Details    *AcquisitionDetails
	Attributes []condition.Attributes // condition enrichment, in table order
}

// WellID returns the conventional well identifier, e.g. "A01".
func (t Tile) WellID() string {
	return fmt.Sprintf("%s%02d", t.Row, t.Column)
}

// Acquisition is the input model describing one imaging run to parse.
type Acquisition struct {
	// Path to the acquisition directory. Vendor-specific subdirectories
	// ("Images" for Operetta, "data" for ScanR) are accepted and stripped.
	Path string

	// PlateName overrides the output plate name. When empty the last
	// element of Path is used.
	PlateName string

	// ID distinguishes multiple acquisitions combined into one plate.
	ID int

	// ConditionPath optionally points at a condition-table CSV.
	ConditionPath string

	// Layout declares the plate geometry. Only ScanR needs it; when unset
	// it defaults to a 96-well plate.
	Layout layout.Plate
}

// Root returns the acquisition path with any trailing separator and known
// vendor subdirectory stripped, so both path/to/acq and path/to/acq/Images
// address the same acquisition.
func (a Acquisition) Root() string {
	p := strings.TrimRight(a.Path, "/")
	base := filepath.Base(p)
	if base == "Images" || base == "data" {
		return filepath.Dir(p)
	}
	return p
}

// NormalizedPlateName returns the explicit plate name if set, otherwise the
// last element of the acquisition path.
func (a Acquisition) NormalizedPlateName() string {
	if a.PlateName != "" {
		return a.PlateName
	}
	return filepath.Base(a.Root())
}

// ConditionTable loads the acquisition's condition table, or returns nil when
// none is configured.
func (a Acquisition) ConditionTable() (*condition.Table, error) {
	if a.ConditionPath == "" {
		return nil, nil
	}
	return condition.Load(a.ConditionPath)
}
