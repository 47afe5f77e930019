// Package operetta parses PerkinElmer Operetta / Opera Phenix acquisition
// metadata.
//
// An Operetta acquisition directory carries an Images/Index.idx.xml index
// describing every recorded plane, with sibling TIFFs whose names encode the
// same coordinates (r<RR>c<CC>f<FF>p<PP>-ch<CH>sk<SK>fk<FK>fl<FL>.tiff). The
// index is authoritative, but the filename grammar is decoded as a
// consistency check: a disagreement between the two means the acquisition is
// corrupt and parsing stops.
package operetta

import (
	"encoding/xml"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/stat"

	"github.com/plateworks/hcstiles/internal/grammar"
	"github.com/plateworks/hcstiles/internal/layout"
	"github.com/plateworks/hcstiles/internal/tiles"
)

// indexFileName is the metadata index inside the Images subdirectory.
const indexFileName = "Index.idx.xml"

// spacing comparisons use numpy-style tolerances since the stage positions
// come straight from floating point instrument readings.
const (
	absTol = 1e-8
	relTol = 1e-5
)

// measure is a value carrying a length unit attribute.
type measure struct {
	Unit string `xml:"Unit,attr"`
	Text string `xml:",chardata"`
}

// micrometers converts the measurement to µm. The index writes resolutions
// in meters and stage positions in meters or micrometers depending on the
// Harmony export version.
func (m measure) micrometers() (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(m.Text), 64)
	if err != nil {
		return 0, fmt.Errorf("measurement value %q: %w", m.Text, tiles.ErrParse)
	}
	switch m.Unit {
	case "um":
		return v, nil
	case "nm":
		return v / 1000.0, nil
	case "m":
		return v * 1_000_000.0, nil
	}
	return 0, fmt.Errorf("unknown unit %q: %w", m.Unit, tiles.ErrParse)
}

// indexImage is one Image record of the index file.
type indexImage struct {
	URL          string  `xml:"URL"`
	Row          string  `xml:"Row"`
	Col          int     `xml:"Col"`
	FieldID      int     `xml:"FieldID"`
	PlaneID      int     `xml:"PlaneID"`
	ChannelID    int     `xml:"ChannelID"`
	TimepointID  int     `xml:"TimepointID"`
	ChannelName  string  `xml:"ChannelName"`
	ResolutionX  measure `xml:"ImageResolutionX"`
	ResolutionY  measure `xml:"ImageResolutionY"`
	SizeX        int     `xml:"ImageSizeX"`
	SizeY        int     `xml:"ImageSizeY"`
	MaxIntensity int     `xml:"MaxIntensity"`
	PositionX    measure `xml:"PositionX"`
	PositionY    measure `xml:"PositionY"`
	PositionZ    measure `xml:"PositionZ"`
}

// indexFile is the Index.idx.xml document root.
type indexFile struct {
	XMLName xml.Name     `xml:"EvaluationInputData"`
	Images  []indexImage `xml:"Images>Image"`
}

// Parser parses Operetta acquisitions. It is stateless and safe to share.
type Parser struct{}

// Parse reads the acquisition at acq.Path and returns its normalized tiles
// and details. Both the base acquisition directory and its Images
// subdirectory are accepted as input path.
func (Parser) Parse(acq tiles.Acquisition) (*tiles.Result, error) {
	root := acq.Root()
	indexPath := filepath.Join(root, "Images", indexFileName)

	raw, err := os.ReadFile(indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", indexPath, tiles.ErrMissingMetadata)
		}
		return nil, fmt.Errorf("read %s: %w", indexPath, err)
	}

	var index indexFile
	if err := xml.Unmarshal(raw, &index); err != nil {
		return nil, fmt.Errorf("decode %s: %v: %w", indexPath, err, tiles.ErrParse)
	}
	if len(index.Images) == 0 {
		return nil, fmt.Errorf("no image records in %s: %w", indexPath, tiles.ErrParse)
	}

	table, err := acq.ConditionTable()
	if err != nil {
		return nil, err
	}

	details, err := buildDetails(index.Images)
	if err != nil {
		return nil, err
	}

	plate := acq.NormalizedPlateName()
	out := make([]tiles.Tile, 0, len(index.Images))
	for _, img := range index.Images {
		row, err := normalizeRow(img.Row)
		if err != nil {
			return nil, fmt.Errorf("image %s: %w", img.URL, err)
		}
		if err := crossCheckName(img, row); err != nil {
			return nil, err
		}

		posX, err := img.PositionX.micrometers()
		if err != nil {
			return nil, fmt.Errorf("image %s PositionX: %w", img.URL, err)
		}
		posY, err := img.PositionY.micrometers()
		if err != nil {
			return nil, fmt.Errorf("image %s PositionY: %w", img.URL, err)
		}
		posZ, err := img.PositionZ.micrometers()
		if err != nil {
			return nil, fmt.Errorf("image %s PositionZ: %w", img.URL, err)
		}

		tile := tiles.Tile{
			Plate:       plate,
			Row:         row,
			Column:      img.Col,
			Field:       img.FieldID,
			Channel:     img.ChannelID - 1,
			ChannelName: img.ChannelName,
			Z:           img.PlaneID - 1,
			Timepoint:   img.TimepointID, // already 0-based in the index
			StageX:      posX,
			StageY:      -posY, // flip to top-left origin
			StageZ:      posZ,
			LengthX:     img.SizeX,
			LengthY:     img.SizeY,
			Path:        filepath.Join(root, "Images", img.URL),
			Acquisition: acq.ID,
			Details:     details,
		}
		if table != nil {
			tile.Attributes = table.Match(row, img.Col, acq.ID)
		}
		out = append(out, tile)
	}

	if err := tiles.CheckUnique(out); err != nil {
		return nil, err
	}
	log.Printf("built %d tiles from %s", len(out), root)
	return &tiles.Result{Tiles: out, Details: details}, nil
}

// normalizeRow accepts the row either as a letter or as a 1-based integer.
func normalizeRow(raw string) (string, error) {
	if n, err := strconv.Atoi(raw); err == nil {
		name, err := layout.RowName(n - 1)
		if err != nil {
			return "", fmt.Errorf("row %d: %w", n, tiles.ErrParse)
		}
		return name, nil
	}
	if raw == "" {
		return "", fmt.Errorf("empty row: %w", tiles.ErrParse)
	}
	return raw, nil
}

// crossCheckName verifies that the coordinates encoded in the TIFF file name
// agree with the XML record. The index and the filenames are written by
// different subsystems of the instrument; a mismatch means one of them is
// lying and there is no safe way to pick a winner.
func crossCheckName(img indexImage, row string) error {
	coords, err := grammar.ParseOperettaName(img.URL)
	if err != nil {
		return fmt.Errorf("image URL %q does not follow the operetta grammar: %w", img.URL, tiles.ErrParse)
	}
	nameRow, err := layout.RowName(coords.Row - 1)
	if err != nil {
		return fmt.Errorf("image URL %q row %d: %w", img.URL, coords.Row, tiles.ErrParse)
	}
	if nameRow != row || coords.Column != img.Col ||
		coords.Field != img.FieldID || coords.Plane != img.PlaneID ||
		coords.Channel != img.ChannelID {
		return fmt.Errorf("image %q: filename coordinates %s%02d f%d p%d ch%d disagree with index %s%02d f%d p%d ch%d: %w",
			img.URL, nameRow, coords.Column, coords.Field, coords.Plane, coords.Channel,
			row, img.Col, img.FieldID, img.PlaneID, img.ChannelID, tiles.ErrParse)
	}
	return nil
}

// buildDetails derives the acquisition-level metadata shared by every tile.
func buildDetails(images []indexImage) (*tiles.AcquisitionDetails, error) {
	first := images[0]
	pixelX, err := first.ResolutionX.micrometers()
	if err != nil {
		return nil, fmt.Errorf("ImageResolutionX: %w", err)
	}
	pixelY, err := first.ResolutionY.micrometers()
	if err != nil {
		return nil, fmt.Errorf("ImageResolutionY: %w", err)
	}
	if !scalar.EqualWithinAbsOrRel(pixelX, pixelY, absTol, relTol) {
		log.Printf("pixel size x (%g) and y (%g) are not equal, using x", pixelX, pixelY)
	}

	zSpacing, err := zSpacing(images)
	if err != nil {
		return nil, err
	}

	maxIntensity := 0
	rows := make(map[string]bool)
	cols := make(map[int]bool)
	fields := make(map[int]bool)
	planes := make(map[int]bool)
	timepoints := make(map[int]bool)
	channelNames := make(map[int]string)
	for _, img := range images {
		if img.MaxIntensity > maxIntensity {
			maxIntensity = img.MaxIntensity
		}
		rows[img.Row] = true
		cols[img.Col] = true
		fields[img.FieldID] = true
		planes[img.PlaneID] = true
		timepoints[img.TimepointID] = true
		if _, ok := channelNames[img.ChannelID]; !ok {
			channelNames[img.ChannelID] = img.ChannelName
		}
	}

	ids := make([]int, 0, len(channelNames))
	for id := range channelNames {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	channels := make([]tiles.ChannelInfo, 0, len(ids))
	for _, id := range ids {
		channels = append(channels, tiles.ChannelInfo{Index: id - 1, Label: channelNames[id]})
	}

	return &tiles.AcquisitionDetails{
		PixelSize:  pixelX,
		ZSpacing:   zSpacing,
		TSpacing:   1,
		Channels:   channels,
		DataType:   tiles.FromMaxIntensity(maxIntensity),
		TimeSeries: len(timepoints) > 1,
		Rows:       len(rows),
		Columns:    len(cols),
		Fields:     len(fields),
		ZPlanes:    len(planes),
		Timepoints: len(timepoints),
	}, nil
}

// zSpacing computes the spacing between distinct stage z positions. A
// non-constant spacing is tolerated with the mean as fallback, matching the
// instrument's occasional drift between planes.
func zSpacing(images []indexImage) (float64, error) {
	distinct := make(map[float64]bool)
	for _, img := range images {
		z, err := img.PositionZ.micrometers()
		if err != nil {
			return 0, fmt.Errorf("image %s PositionZ: %w", img.URL, err)
		}
		distinct[z] = true
	}
	if len(distinct) <= 1 {
		return 1.0, nil
	}

	positions := make([]float64, 0, len(distinct))
	for z := range distinct {
		positions = append(positions, z)
	}
	sort.Float64s(positions)

	diffs := make([]float64, len(positions)-1)
	for i := 1; i < len(positions); i++ {
		diffs[i-1] = positions[i] - positions[i-1]
	}
	for _, d := range diffs {
		if !scalar.EqualWithinAbsOrRel(d, diffs[0], absTol, relTol) {
			log.Printf("z spacing is not constant, using mean value")
			break
		}
	}
	return stat.Mean(diffs, nil), nil
}
