// Package scanr parses Olympus ScanR acquisition metadata.
//
// A ScanR acquisition directory carries a data/metadata.ome.xml OME document
// plus the TIFFs it references. ScanR does not record plate coordinates:
// images are identified by a sequential well number and position number
// (W<n>P<n> inside the OME image identifier), so converting them into row and
// column requires the declared plate layout.
package scanr

import (
	"encoding/xml"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/stat"

	"github.com/plateworks/hcstiles/internal/condition"
	"github.com/plateworks/hcstiles/internal/grammar"
	"github.com/plateworks/hcstiles/internal/layout"
	"github.com/plateworks/hcstiles/internal/tiles"
)

// metadataFileName is the OME document inside the data subdirectory.
const metadataFileName = "metadata.ome.xml"

const (
	absTol = 1e-8
	relTol = 1e-5
)

type omeUUID struct {
	FileName string `xml:"FileName,attr"`
}

type omeTiffData struct {
	FirstZ int     `xml:"FirstZ,attr"`
	FirstC int     `xml:"FirstC,attr"`
	FirstT int     `xml:"FirstT,attr"`
	UUID   omeUUID `xml:"UUID"`
}

type omePlane struct {
	TheZ      int     `xml:"TheZ,attr"`
	TheC      int     `xml:"TheC,attr"`
	TheT      int     `xml:"TheT,attr"`
	PositionX float64 `xml:"PositionX,attr"`
	PositionY float64 `xml:"PositionY,attr"`
	PositionZ float64 `xml:"PositionZ,attr"`
}

type omeChannel struct {
	Name string `xml:"Name,attr"`
}

type omePixels struct {
	SizeX         int           `xml:"SizeX,attr"`
	SizeY         int           `xml:"SizeY,attr"`
	PhysicalSizeX float64       `xml:"PhysicalSizeX,attr"`
	PhysicalSizeY float64       `xml:"PhysicalSizeY,attr"`
	Type          string        `xml:"Type,attr"`
	Channels      []omeChannel  `xml:"Channel"`
	TiffData      []omeTiffData `xml:"TiffData"`
	Planes        []omePlane    `xml:"Plane"`
}

type omeImage struct {
	ID     string    `xml:"ID,attr"`
	Name   string    `xml:"Name,attr"`
	Pixels omePixels `xml:"Pixels"`
}

type omeFile struct {
	XMLName xml.Name   `xml:"OME"`
	Images  []omeImage `xml:"Image"`
}

// Parser parses ScanR acquisitions. It is stateless and safe to share.
type Parser struct{}

// Parse reads the acquisition at acq.Path and returns its normalized tiles
// and details. Both the base acquisition directory and its data subdirectory
// are accepted as input path. The acquisition's plate layout decides how the
// sequential well numbers map onto rows and columns; an unset layout defaults
// to a 96-well plate.
func (Parser) Parse(acq tiles.Acquisition) (*tiles.Result, error) {
	root := acq.Root()
	metaPath := filepath.Join(root, "data", metadataFileName)

	raw, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", metaPath, tiles.ErrMissingMetadata)
		}
		return nil, fmt.Errorf("read %s: %w", metaPath, err)
	}

	var ome omeFile
	if err := xml.Unmarshal(raw, &ome); err != nil {
		return nil, fmt.Errorf("decode %s: %v: %w", metaPath, err, tiles.ErrParse)
	}
	if len(ome.Images) == 0 {
		return nil, fmt.Errorf("no images in %s: %w", metaPath, tiles.ErrParse)
	}

	plateLayout := acq.Layout
	if plateLayout == "" {
		plateLayout = layout.Plate96
	}
	if !plateLayout.Valid() {
		return nil, fmt.Errorf("unknown plate layout %q: %w", plateLayout, layout.ErrWellMapping)
	}

	table, err := acq.ConditionTable()
	if err != nil {
		return nil, err
	}

	meanZ, err := meanZSpacing(ome.Images)
	if err != nil {
		return nil, err
	}
	details := buildDetails(ome.Images, meanZ, plateLayout)

	plate := acq.NormalizedPlateName()
	dataDir := filepath.Join(root, "data")

	var out []tiles.Tile
	for _, img := range ome.Images {
		imgTiles, err := buildImageTiles(img, acq, plate, plateLayout, dataDir, details, table)
		if err != nil {
			return nil, err
		}
		out = append(out, imgTiles...)
	}

	if err := tiles.CheckUnique(out); err != nil {
		return nil, err
	}
	log.Printf("built %d tiles from %s", len(out), root)
	return &tiles.Result{Tiles: out, Details: details}, nil
}

// imageWellPosition extracts the W<n>P<n> pair from the OME image,
// preferring the ID attribute and falling back to the Name.
func imageWellPosition(img omeImage) (grammar.ScanRWellPosition, error) {
	wp, err := grammar.ParseScanRName(img.ID)
	if err == nil {
		return wp, nil
	}
	wp, err = grammar.ParseScanRName(img.Name)
	if err != nil {
		return grammar.ScanRWellPosition{}, fmt.Errorf("image %q (%q) carries no W<n>P<n> identifier: %w",
			img.ID, img.Name, tiles.ErrParse)
	}
	return wp, nil
}

func buildImageTiles(img omeImage, acq tiles.Acquisition, plate string, plateLayout layout.Plate,
	dataDir string, details *tiles.AcquisitionDetails, table *condition.Table) ([]tiles.Tile, error) {

	wp, err := imageWellPosition(img)
	if err != nil {
		return nil, err
	}
	row, column, err := layout.WellPosition(wp.Well, plateLayout)
	if err != nil {
		return nil, err
	}

	// Index TIFF blocks by (t, c, z); every plane must have one.
	type tczKey struct{ t, c, z int }
	blocks := make(map[tczKey]omeTiffData, len(img.Pixels.TiffData))
	for _, td := range img.Pixels.TiffData {
		blocks[tczKey{td.FirstT, td.FirstC, td.FirstZ}] = td
	}

	var matched []tiles.Tile
	for _, plane := range img.Pixels.Planes {
		td, ok := blocks[tczKey{plane.TheT, plane.TheC, plane.TheZ}]
		if !ok {
			return nil, fmt.Errorf("image %q: no TIFF block for plane t=%d c=%d z=%d: %w",
				img.ID, plane.TheT, plane.TheC, plane.TheZ, tiles.ErrParse)
		}
		tile := tiles.Tile{
			Plate:       plate,
			Row:         row,
			Column:      column,
			Field:       wp.Position,
			Channel:     plane.TheC,
			ChannelName: channelName(img.Pixels.Channels, plane.TheC),
			Z:           plane.TheZ,
			Timepoint:   plane.TheT,
			StageX:      plane.PositionX,
			StageY:      -plane.PositionY, // flip to top-left origin
			StageZ:      plane.PositionZ,
			LengthX:     img.Pixels.SizeX,
			LengthY:     img.Pixels.SizeY,
			Path:        filepath.Join(dataDir, td.UUID.FileName),
			Acquisition: acq.ID,
			Details:     details,
		}
		if table != nil {
			tile.Attributes = table.Match(row, column, acq.ID)
		}
		matched = append(matched, tile)
	}
	return matched, nil
}

func channelName(channels []omeChannel, index int) string {
	if index >= 0 && index < len(channels) {
		return channels[index].Name
	}
	return ""
}

// imageZSpacing computes one image's z spacing from the planes of the first
// channel and timepoint. Non-constant spacing means the stage positions are
// unreliable and the whole parse fails.
func imageZSpacing(img omeImage) (float64, error) {
	var positions []float64
	for _, plane := range img.Pixels.Planes {
		if plane.TheT == 0 && plane.TheC == 0 {
			positions = append(positions, plane.PositionZ)
		}
	}
	if len(positions) <= 1 {
		return 1, nil
	}
	diffs := make([]float64, len(positions)-1)
	for i := 1; i < len(positions); i++ {
		diffs[i-1] = positions[i] - positions[i-1]
	}
	for _, d := range diffs {
		if !scalar.EqualWithinAbsOrRel(d, diffs[0], absTol, relTol) {
			return 0, fmt.Errorf("image %q: z spacing is not constant: %w", img.ID, tiles.ErrParse)
		}
	}
	return diffs[0], nil
}

func meanZSpacing(images []omeImage) (float64, error) {
	spacings := make([]float64, 0, len(images))
	for _, img := range images {
		s, err := imageZSpacing(img)
		if err != nil {
			return 0, err
		}
		spacings = append(spacings, s)
	}
	return stat.Mean(spacings, nil), nil
}

func buildDetails(images []omeImage, meanZ float64, plateLayout layout.Plate) *tiles.AcquisitionDetails {
	first := images[0]
	pixelX := first.Pixels.PhysicalSizeX
	pixelY := first.Pixels.PhysicalSizeY
	if pixelX == 0 {
		pixelX = 1
	}
	if pixelY == 0 {
		pixelY = 1
	}
	if !scalar.EqualWithinAbsOrRel(pixelX, pixelY, absTol, relTol) {
		log.Printf("pixel size x (%g) and y (%g) are not equal, using x", pixelX, pixelY)
	}

	channels := make([]tiles.ChannelInfo, 0, len(first.Pixels.Channels))
	for i, ch := range first.Pixels.Channels {
		channels = append(channels, tiles.ChannelInfo{Index: i, Label: ch.Name})
	}

	positions := make(map[int]bool)
	rows := make(map[string]bool)
	columns := make(map[int]bool)
	zs := make(map[int]bool)
	ts := make(map[int]bool)
	for _, img := range images {
		if wp, err := imageWellPosition(img); err == nil {
			positions[wp.Position] = true
			if row, column, err := layout.WellPosition(wp.Well, plateLayout); err == nil {
				rows[row] = true
				columns[column] = true
			}
		}
		for _, plane := range img.Pixels.Planes {
			zs[plane.TheZ] = true
			ts[plane.TheT] = true
		}
	}

	return &tiles.AcquisitionDetails{
		PixelSize:  pixelX,
		ZSpacing:   meanZ,
		TSpacing:   1,
		Channels:   channels,
		DataType:   pixelsDataType(first.Pixels.Type),
		TimeSeries: len(ts) > 1,
		Rows:       len(rows),
		Columns:    len(columns),
		Fields:     len(positions),
		ZPlanes:    len(zs),
		Timepoints: len(ts),
	}
}

func pixelsDataType(omeType string) tiles.DataType {
	switch omeType {
	case "uint8":
		return tiles.Uint8
	case "uint32":
		return tiles.Uint32
	default:
		// ScanR cameras record 12/16-bit data declared as uint16.
		return tiles.Uint16
	}
}
