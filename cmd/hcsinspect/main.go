// hcsinspect parses one or more high-content-screening acquisition
// directories, prints a per-acquisition summary, and optionally records the
// normalized tiles into a sqlite database and renders an occupancy heatmap.
//
// Multiple directories are treated as acquisitions of the same plate, in
// argument order.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/plateworks/hcstiles/internal/cq3k"
	"github.com/plateworks/hcstiles/internal/layout"
	"github.com/plateworks/hcstiles/internal/operetta"
	"github.com/plateworks/hcstiles/internal/platedb"
	"github.com/plateworks/hcstiles/internal/report"
	"github.com/plateworks/hcstiles/internal/scanr"
	"github.com/plateworks/hcstiles/internal/tiles"
)

func main() {
	var plateName string
	var layoutName string
	var conditionsPath string
	var dbPath string
	var migrationsDir string
	var reportPath string
	var extend bool

	flag.StringVar(&plateName, "plate", "", "output plate name (defaults to the acquisition directory name)")
	flag.StringVar(&layoutName, "layout", string(layout.Plate96), "plate layout: 24-well, 48-well, 96-well or 384-well")
	flag.StringVar(&conditionsPath, "conditions", "", "condition table CSV to attach to every well")
	flag.StringVar(&dbPath, "db", "", "sqlite database to record the parsed plate into")
	flag.StringVar(&migrationsDir, "migrations", "", "directory of schema migrations to apply before recording (requires -db)")
	flag.StringVar(&reportPath, "report", "", "write an occupancy heatmap HTML file (requires -db)")
	flag.BoolVar(&extend, "extend", false, "skip acquisitions already recorded for the plate")
	flag.Parse()

	dirs := flag.Args()
	if len(dirs) == 0 {
		log.Fatalf("usage: hcsinspect [flags] acquisition-dir...")
	}
	plateLayout := layout.Plate(layoutName)
	if !plateLayout.Valid() {
		log.Fatalf("unknown plate layout %q", layoutName)
	}
	if reportPath != "" && dbPath == "" {
		log.Fatalf("-report requires -db")
	}
	if migrationsDir != "" && dbPath == "" {
		log.Fatalf("-migrations requires -db")
	}

	format, err := tiles.DetectFormat(dirs[0])
	if err != nil {
		log.Fatalf("detect format: %v", err)
	}
	log.Printf("detected %s acquisition", format)

	var parser tiles.Parser
	switch format {
	case tiles.FormatOperetta:
		parser = operetta.Parser{}
	case tiles.FormatScanR:
		parser = scanr.Parser{}
	case tiles.FormatCQ3K:
		parser = cq3k.Parser{}
	}

	acqs := make([]tiles.Acquisition, len(dirs))
	for i, dir := range dirs {
		acqs[i] = tiles.Acquisition{
			Path:          dir,
			PlateName:     plateName,
			ID:            i,
			ConditionPath: conditionsPath,
			Layout:        plateLayout,
		}
	}

	results, err := tiles.ParseAcquisitions(parser, acqs)
	if err != nil {
		log.Fatalf("parse: %v", err)
	}

	for _, res := range results {
		printSummary(res)
	}

	if dbPath == "" {
		return
	}

	db, err := platedb.New(dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if migrationsDir != "" {
		if err := db.MigrateUp(migrationsDir); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		version, dirty, err := db.MigrateVersion(migrationsDir)
		if err != nil {
			log.Fatalf("migration version: %v", err)
		}
		log.Printf("schema at migration version %d (dirty=%v)", version, dirty)
	}

	plate := results[0].Acquisition.NormalizedPlateName()
	for _, res := range results {
		importID, err := db.RecordResult(plate, res.Acquisition, &res, extend)
		if err != nil {
			log.Fatalf("record acquisition %d: %v", res.Acquisition.ID, err)
		}
		if importID != "" {
			log.Printf("recorded acquisition %d as import %s", res.Acquisition.ID, importID)
		}
	}

	if reportPath == "" {
		return
	}

	// The occupancy query keys on the tile plate names, which carry any
	// z-group suffix; report on each recorded plate.
	plates := tilePlates(results)
	for i, p := range plates {
		path := reportPath
		if len(plates) > 1 {
			path = fmt.Sprintf("%s.%d.html", reportPath, i)
		}
		occ, err := db.Occupancy(p)
		if err != nil {
			log.Fatalf("occupancy for %s: %v", p, err)
		}
		if err := report.WriteOccupancyFile(path, p, plateLayout, occ); err != nil {
			log.Fatalf("write report for %s: %v", p, err)
		}
		log.Printf("wrote occupancy report for %s to %s", p, path)
	}
}

func printSummary(res tiles.Result) {
	wells := make(map[string]bool)
	for _, tile := range res.Tiles {
		wells[tile.Plate+"/"+tile.WellID()] = true
	}

	d := res.Details
	fmt.Printf("acquisition %d (%s):\n", res.Acquisition.ID, res.Acquisition.Root())
	fmt.Printf("  tiles: %d across %d wells\n", len(res.Tiles), len(wells))
	fmt.Printf("  data type: %s, pixel size: %g um, z spacing: %g um\n", d.DataType, d.PixelSize, d.ZSpacing)
	for _, ch := range d.Channels {
		label := ch.Label
		if label == "" {
			label = "(unnamed)"
		}
		fmt.Printf("  channel %d: %s\n", ch.Index, label)
	}
	if d.TimeSeries {
		fmt.Printf("  time series with %d timepoints\n", d.Timepoints)
	}
}

// tilePlates returns the distinct tile plate names across all results in
// first-seen order.
func tilePlates(results []tiles.Result) []string {
	seen := make(map[string]bool)
	var plates []string
	for _, res := range results {
		for _, tile := range res.Tiles {
			if !seen[tile.Plate] {
				seen[tile.Plate] = true
				plates = append(plates, tile.Plate)
			}
		}
	}
	return plates
}
