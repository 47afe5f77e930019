package tiles

import (
	"fmt"
	"log"
)

// Parser is the single polymorphic capability the vendor packages implement:
// parse one acquisition into tiles plus acquisition-level details.
type Parser interface {
	Parse(acq Acquisition) (*Result, error)
}

// Result is the output of parsing one acquisition. Acquisition is filled in
// by ParseAcquisitions so callers can tell which input produced which tiles.
type Result struct {
	Acquisition Acquisition
	Tiles       []Tile
	Details     *AcquisitionDetails
}

// coordKey is the uniqueness key for a tile within one parsed acquisition.
// Plate is part of the key because CQ3K z-processing groups legitimately
// repeat well coordinates across group plates.
type coordKey struct {
	plate       string
	row         string
	column      int
	field       int
	channel     int
	z           int
	timepoint   int
	acquisition int
}

// CheckUnique rejects duplicate tile coordinates. A duplicate indicates a
// parser or source-data defect; silently deduplicating would hand the
// conversion engine a corrupted plate, so this is a hard error.
func CheckUnique(ts []Tile) error {
	seen := make(map[coordKey]string, len(ts))
	for _, t := range ts {
		key := coordKey{t.Plate, t.Row, t.Column, t.Field, t.Channel, t.Z, t.Timepoint, t.Acquisition}
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("duplicate tile coordinates %s field %d ch %d z %d t %d (%s and %s): %w",
				t.WellID(), t.Field, t.Channel, t.Z, t.Timepoint, prev, t.Path, ErrParse)
		}
		seen[key] = t.Path
	}
	return nil
}

// ParseAcquisitions runs one parser over a list of acquisitions and collects
// the results in input order. An empty acquisition list is an error, as is
// ending up with zero tiles across all acquisitions; a single acquisition
// yielding no tiles is only logged, matching the behavior the conversion
// engine expects when combining partial runs.
func ParseAcquisitions(p Parser, acqs []Acquisition) ([]Result, error) {
	if len(acqs) == 0 {
		return nil, fmt.Errorf("acquisitions list is empty: %w", ErrParse)
	}

	results := make([]Result, 0, len(acqs))
	total := 0
	for _, acq := range acqs {
		res, err := p.Parse(acq)
		if err != nil {
			return nil, err
		}
		if len(res.Tiles) == 0 {
			log.Printf("no tiles found in acquisition %s", acq.Path)
			continue
		}
		log.Printf("found %d tiles in acquisition %s", len(res.Tiles), acq.Path)
		total += len(res.Tiles)
		res.Acquisition = acq
		results = append(results, *res)
	}

	if total == 0 {
		return nil, fmt.Errorf("no tiles found in any of the provided acquisitions: %w", ErrParse)
	}
	return results, nil
}
