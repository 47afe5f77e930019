// Package cq3k parses Yokogawa CellVoyager CQ3000 acquisition metadata.
//
// A CQ3K acquisition directory carries two XML record files:
// MeasurementData.mlf with one record per tile (well coordinates, field,
// channel, z index, timepoint, stage position and the relative TIFF path as
// element text) and MeasurementDetail.mrf with the acquisition-level counts,
// pixel dimensions and per-channel bit depth.
//
// CQ3K acquisitions may interleave tiles produced by different on-instrument
// z processing modes (e.g. focus vs maximum projection). Each distinct
// ZImageProcessing tag becomes its own output plate, suffixed with the tag;
// untagged tiles form the unsuffixed base plate.
package cq3k

import (
	"encoding/xml"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/stat"

	"github.com/plateworks/hcstiles/internal/layout"
	"github.com/plateworks/hcstiles/internal/tiles"
)

const (
	dataFileName   = "MeasurementData.mlf"
	detailFileName = "MeasurementDetail.mrf"
)

const (
	absTol = 1e-8
	relTol = 1e-5
)

// Ungrouped is the partition key for tiles carrying no ZImageProcessing tag.
const Ungrouped = "ungrouped"

// measurementRecord is one record of MeasurementData.mlf. The element text
// is the TIFF path relative to the acquisition root. ERR records reuse the
// same element name with a subset of the attributes.
type measurementRecord struct {
	Type             string  `xml:"Type,attr"`
	Row              int     `xml:"Row,attr"`
	Column           int     `xml:"Column,attr"`
	FieldIndex       int     `xml:"FieldIndex,attr"`
	TimePoint        int     `xml:"TimePoint,attr"`
	ZIndex           int     `xml:"ZIndex,attr"`
	Ch               int     `xml:"Ch,attr"`
	X                float64 `xml:"X,attr"`
	Y                float64 `xml:"Y,attr"`
	Z                float64 `xml:"Z,attr"`
	ZImageProcessing string  `xml:"ZImageProcessing,attr"`
	Path             string  `xml:",chardata"`
}

type measurementData struct {
	XMLName xml.Name            `xml:"MeasurementData"`
	Records []measurementRecord `xml:"MeasurementRecord"`
}

// measurementChannel is one channel block of MeasurementDetail.mrf.
type measurementChannel struct {
	Ch                       int     `xml:"Ch,attr"`
	HorizontalPixelDimension float64 `xml:"HorizontalPixelDimension,attr"`
	VerticalPixelDimension   float64 `xml:"VerticalPixelDimension,attr"`
	InputBitDepth            int     `xml:"InputBitDepth,attr"`
	HorizontalPixels         int     `xml:"HorizontalPixels,attr"`
	VerticalPixels           int     `xml:"VerticalPixels,attr"`
}

type measurementDetail struct {
	XMLName        xml.Name             `xml:"MeasurementDetail"`
	RowCount       int                  `xml:"RowCount,attr"`
	ColumnCount    int                  `xml:"ColumnCount,attr"`
	TimePointCount int                  `xml:"TimePointCount,attr"`
	FieldCount     int                  `xml:"FieldCount,attr"`
	ZCount         int                  `xml:"ZCount,attr"`
	Channels       []measurementChannel `xml:"MeasurementChannel"`
}

// Group is one z-processing partition of an acquisition: the tiles sharing
// one ZImageProcessing tag, addressed to their own output plate. Details is
// the acquisition's details with the z spacing recomputed from this group's
// own stage positions, since a projection group collapses the z stack its
// sibling groups keep.
type Group struct {
	Tag     string // the ZImageProcessing value, or Ungrouped
	Plate   string
	Details *tiles.AcquisitionDetails
	Tiles   []tiles.Tile
}

// Parser parses CQ3K acquisitions. It is stateless and safe to share.
type Parser struct{}

// Parse reads the acquisition at acq.Path and returns its normalized tiles
// and details. Tiles keep the .mlf record order; their Plate names already
// carry the z-processing suffix. Use ParseGrouped when the per-group
// partition is needed.
func (p Parser) Parse(acq tiles.Acquisition) (*tiles.Result, error) {
	root := acq.Root()

	var data measurementData
	if err := decodeFile(filepath.Join(root, dataFileName), &data); err != nil {
		return nil, err
	}
	var detail measurementDetail
	if err := decodeFile(filepath.Join(root, detailFileName), &detail); err != nil {
		return nil, err
	}

	records := imageRecords(data.Records)
	if len(records) == 0 {
		return nil, fmt.Errorf("no measurement records in %s: %w", root, tiles.ErrParse)
	}
	if len(detail.Channels) == 0 {
		return nil, fmt.Errorf("no channels in %s: %w", filepath.Join(root, detailFileName), tiles.ErrParse)
	}

	table, err := acq.ConditionTable()
	if err != nil {
		return nil, err
	}

	details := buildDetails(records, detail)
	base := acq.NormalizedPlateName()
	firstChannel := detail.Channels[0]

	out := make([]tiles.Tile, 0, len(records))
	for _, rec := range records {
		row, err := layout.RowName(rec.Row - 1)
		if err != nil {
			return nil, fmt.Errorf("record %q row %d: %w", rec.Path, rec.Row, tiles.ErrParse)
		}

		relPath := strings.TrimSpace(rec.Path)
		tiffPath := filepath.Join(root, filepath.FromSlash(relPath))
		if !fileExists(tiffPath) {
			return nil, fmt.Errorf("record references nonexistent TIFF %s: %w", tiffPath, tiles.ErrParse)
		}

		plate := base
		if rec.ZImageProcessing != "" {
			plate = base + "_" + rec.ZImageProcessing
		}

		tile := tiles.Tile{
			Plate:       plate,
			Row:         row,
			Column:      rec.Column,
			Field:       rec.FieldIndex,
			Channel:     rec.Ch,
			Z:           rec.ZIndex - 1,
			Timepoint:   rec.TimePoint - 1,
			StageX:      rec.X,
			StageY:      -rec.Y, // flip to top-left origin
			StageZ:      rec.Z,
			LengthX:     firstChannel.HorizontalPixels,
			LengthY:     firstChannel.VerticalPixels,
			Path:        tiffPath,
			Acquisition: acq.ID,
			Details:     details,
		}
		if table != nil {
			tile.Attributes = table.Match(row, rec.Column, acq.ID)
		}
		out = append(out, tile)
	}

	if err := tiles.CheckUnique(out); err != nil {
		return nil, err
	}
	log.Printf("built %d tiles from %s", len(out), root)
	return &tiles.Result{Tiles: out, Details: details}, nil
}

// ParseGrouped parses the acquisition and partitions its tiles by
// z-processing tag. Groups appear in first-seen record order, so repeated
// parses of the same acquisition always yield the same group sequence. Each
// group gets its z spacing recomputed from its own tiles.
func (p Parser) ParseGrouped(acq tiles.Acquisition) ([]Group, *tiles.AcquisitionDetails, error) {
	res, err := p.Parse(acq)
	if err != nil {
		return nil, nil, err
	}

	base := acq.NormalizedPlateName()
	index := make(map[string]int)
	var groups []Group
	for _, tile := range res.Tiles {
		i, ok := index[tile.Plate]
		if !ok {
			tag := Ungrouped
			if tile.Plate != base {
				tag = strings.TrimPrefix(tile.Plate, base+"_")
			}
			i = len(groups)
			index[tile.Plate] = i
			groups = append(groups, Group{Tag: tag, Plate: tile.Plate})
		}
		groups[i].Tiles = append(groups[i].Tiles, tile)
	}

	for i := range groups {
		zs := make([]float64, 0, len(groups[i].Tiles))
		for _, tile := range groups[i].Tiles {
			zs = append(zs, tile.StageZ)
		}
		details := *res.Details
		details.ZSpacing = zSpacing(zs)
		groups[i].Details = &details
		for j := range groups[i].Tiles {
			groups[i].Tiles[j].Details = groups[i].Details
		}
	}
	return groups, res.Details, nil
}

func decodeFile(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", path, tiles.ErrMissingMetadata)
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := xml.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %v: %w", path, err, tiles.ErrParse)
	}
	return nil
}

// imageRecords keeps only IMG records; the instrument logs errors as ERR
// records in the same file.
func imageRecords(records []measurementRecord) []measurementRecord {
	out := make([]measurementRecord, 0, len(records))
	for _, rec := range records {
		if rec.Type == "IMG" {
			out = append(out, rec)
		}
	}
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func buildDetails(records []measurementRecord, detail measurementDetail) *tiles.AcquisitionDetails {
	first := detail.Channels[0]
	if !scalar.EqualWithinAbsOrRel(first.HorizontalPixelDimension, first.VerticalPixelDimension, absTol, relTol) {
		log.Printf("pixel size x (%g) and y (%g) are not equal, using x",
			first.HorizontalPixelDimension, first.VerticalPixelDimension)
	}

	channels := make([]tiles.ChannelInfo, 0, len(detail.Channels))
	for _, ch := range detail.Channels {
		channels = append(channels, tiles.ChannelInfo{Index: ch.Ch})
	}

	timepoints := make(map[int]bool)
	for _, rec := range records {
		timepoints[rec.TimePoint] = true
	}

	zs := make([]float64, 0, len(records))
	for _, rec := range records {
		zs = append(zs, rec.Z)
	}

	return &tiles.AcquisitionDetails{
		PixelSize:  first.HorizontalPixelDimension,
		ZSpacing:   zSpacing(zs),
		TSpacing:   1,
		Channels:   channels,
		DataType:   tiles.FromBitDepth(first.InputBitDepth),
		TimeSeries: len(timepoints) > 1,
		Rows:       detail.RowCount,
		Columns:    detail.ColumnCount,
		Fields:     detail.FieldCount,
		ZPlanes:    detail.ZCount,
		Timepoints: detail.TimePointCount,
	}
}

// zSpacing computes the spacing between the distinct stage z positions,
// tolerating non-constant spacing with the mean as fallback.
func zSpacing(zs []float64) float64 {
	distinct := make(map[float64]bool)
	for _, z := range zs {
		distinct[z] = true
	}
	if len(distinct) <= 1 {
		return 1.0
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
	return stat.Mean(diffs, nil)
}
