// Package platedb persists parsed plate metadata in a local sqlite database:
// one row per acquisition import plus the tile coordinates and well
// conditions, keyed by (plate, acquisition id) so re-imports of an already
// recorded acquisition can be skipped when extending a plate.
package platedb

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/plateworks/hcstiles/internal/tiles"
)

type DB struct {
	*sql.DB
}

func New(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS plates (
			plate             TEXT PRIMARY KEY,
			layout            TEXT,
			created_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS acquisitions (
			plate             TEXT,
			acquisition_id    BIGINT,
			import_id         TEXT,
			source_path       TEXT,
			tile_count        BIGINT,
			pixel_size        DOUBLE,
			z_spacing         DOUBLE,
			data_type         TEXT,
			time_series       BOOLEAN,
			created_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (plate, acquisition_id),
			FOREIGN KEY (plate) REFERENCES plates(plate)
		);
		CREATE TABLE IF NOT EXISTS tiles (
			plate             TEXT,
			acquisition_id    BIGINT,
			well_row          TEXT,
			well_column       BIGINT,
			field             BIGINT,
			channel           BIGINT,
			z                 BIGINT,
			timepoint         BIGINT,
			stage_x           DOUBLE,
			stage_y           DOUBLE,
			stage_z           DOUBLE,
			source_path       TEXT
		);
		CREATE TABLE IF NOT EXISTS well_conditions (
			plate             TEXT,
			well_row          TEXT,
			well_column       BIGINT,
			acquisition_id    BIGINT,
			name              TEXT,
			value             TEXT
		);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// HasAcquisition reports whether an import for (plate, acquisition id) has
// already been recorded.
func (db *DB) HasAcquisition(plate string, id int) (bool, error) {
	var n int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM acquisitions WHERE plate = ? AND acquisition_id = ?`,
		plate, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query acquisitions: %v", err)
	}
	return n > 0, nil
}

// RecordResult stores one parsed acquisition under the given plate name and
// returns the generated import id. With extend set, an acquisition already
// recorded for the plate is skipped and the empty import id is returned;
// without it, re-importing the same acquisition id is an error.
func (db *DB) RecordResult(plate string, acq tiles.Acquisition, res *tiles.Result, extend bool) (string, error) {
	exists, err := db.HasAcquisition(plate, acq.ID)
	if err != nil {
		return "", err
	}
	if exists {
		if extend {
			log.Printf("plate %s already has acquisition %d, skipping", plate, acq.ID)
			return "", nil
		}
		return "", fmt.Errorf("plate %s already has acquisition %d", plate, acq.ID)
	}

	importID := uuid.NewString()

	tx, err := db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT OR IGNORE INTO plates (plate, layout) VALUES (?, ?)`,
		plate, string(acq.Layout))
	if err != nil {
		return "", fmt.Errorf("failed to insert plate: %v", err)
	}

	d := res.Details
	_, err = tx.Exec(`
		INSERT INTO acquisitions
			(plate, acquisition_id, import_id, source_path, tile_count,
			 pixel_size, z_spacing, data_type, time_series)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plate, acq.ID, importID, acq.Root(), len(res.Tiles),
		d.PixelSize, d.ZSpacing, string(d.DataType), d.TimeSeries)
	if err != nil {
		return "", fmt.Errorf("failed to insert acquisition: %v", err)
	}

	tileStmt, err := tx.Prepare(`
		INSERT INTO tiles
			(plate, acquisition_id, well_row, well_column, field, channel,
			 z, timepoint, stage_x, stage_y, stage_z, source_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer tileStmt.Close()

	type wellKey struct {
		plate  string
		row    string
		column int
	}
	conditioned := make(map[wellKey]bool)

	for _, tile := range res.Tiles {
		_, err = tileStmt.Exec(
			tile.Plate, tile.Acquisition, tile.Row, tile.Column, tile.Field,
			tile.Channel, tile.Z, tile.Timepoint,
			tile.StageX, tile.StageY, tile.StageZ, tile.Path)
		if err != nil {
			return "", fmt.Errorf("failed to insert tile: %v", err)
		}

		key := wellKey{tile.Plate, tile.Row, tile.Column}
		if conditioned[key] || len(tile.Attributes) == 0 {
			continue
		}
		conditioned[key] = true
		for _, attrs := range tile.Attributes {
			for name, value := range attrs {
				_, err = tx.Exec(`
					INSERT INTO well_conditions
						(plate, well_row, well_column, acquisition_id, name, value)
					VALUES (?, ?, ?, ?, ?, ?)`,
					tile.Plate, tile.Row, tile.Column, tile.Acquisition, name, value.String())
				if err != nil {
					return "", fmt.Errorf("failed to insert condition: %v", err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return importID, nil
}

// Plates returns the recorded plate names in insertion order.
func (db *DB) Plates() ([]string, error) {
	rows, err := db.Query(`SELECT plate FROM plates ORDER BY created_at, plate`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plates []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		plates = append(plates, p)
	}
	return plates, rows.Err()
}

// TileCount returns the number of tiles recorded for a plate across all of
// its acquisitions.
func (db *DB) TileCount(plate string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM tiles WHERE plate = ?`, plate).Scan(&n)
	return n, err
}

// WellOccupancy is the tile count of one well, used by the occupancy report.
type WellOccupancy struct {
	Row    string
	Column int
	Tiles  int
}

// Occupancy returns per-well tile counts for a plate in row/column order.
func (db *DB) Occupancy(plate string) ([]WellOccupancy, error) {
	rows, err := db.Query(`
		SELECT well_row, well_column, COUNT(*)
		FROM tiles WHERE plate = ?
		GROUP BY well_row, well_column
		ORDER BY well_row, well_column`, plate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WellOccupancy
	for rows.Next() {
		var w WellOccupancy
		if err := rows.Scan(&w.Row, &w.Column, &w.Tiles); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// WellConditions returns the recorded condition values for one well as
// name/value pairs, one map per matching condition row.
func (db *DB) WellConditions(plate, row string, column int) (map[string]string, error) {
	rows, err := db.Query(`
		SELECT name, value FROM well_conditions
		WHERE plate = ? AND well_row = ? AND well_column = ?`,
		plate, row, column)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		out[name] = value
	}
	return out, rows.Err()
}
