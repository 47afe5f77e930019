// Package report renders plate-level HTML views of recorded metadata using
// go-echarts. The occupancy heatmap is a debugging aid: one cell per well,
// colored by how many tiles were recorded there, which makes missing wells or
// lopsided acquisitions visible at a glance.
package report

import (
	"fmt"
	"io"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/plateworks/hcstiles/internal/layout"
	"github.com/plateworks/hcstiles/internal/platedb"
)

// viridis color ramp, dark purple through yellow.
var heatColors = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// WriteOccupancy renders an occupancy heatmap for one plate to w. The plate
// layout fixes the axis extents; wells without tiles stay blank.
func WriteOccupancy(w io.Writer, plate string, plateLayout layout.Plate, occ []platedb.WellOccupancy) error {
	if !plateLayout.Valid() {
		plateLayout = layout.Plate96
	}

	columns := make([]string, plateLayout.Columns())
	for i := range columns {
		columns[i] = fmt.Sprintf("%d", i+1)
	}
	// Rows bottom-up so row A lands at the top of the chart.
	rows := make([]string, plateLayout.Rows())
	for i := range rows {
		name, err := layout.RowName(plateLayout.Rows() - 1 - i)
		if err != nil {
			return err
		}
		rows[i] = name
	}
	rowIndex := make(map[string]int, len(rows))
	for i, name := range rows {
		rowIndex[name] = i
	}

	data := make([]opts.HeatMapData, 0, len(occ))
	maxTiles := 0
	for _, well := range occ {
		y, ok := rowIndex[well.Row]
		if !ok || well.Column < 1 || well.Column > plateLayout.Columns() {
			return fmt.Errorf("well %s%d outside %d-well layout", well.Row, well.Column, plateLayout.Wells())
		}
		if well.Tiles > maxTiles {
			maxTiles = well.Tiles
		}
		data = append(data, opts.HeatMapData{Value: []interface{}{well.Column - 1, y, well.Tiles}})
	}
	if maxTiles == 0 {
		maxTiles = 1
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Plate Occupancy", Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Plate Occupancy", Subtitle: fmt.Sprintf("plate=%s wells=%d/%d", plate, len(occ), plateLayout.Wells())}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", SplitArea: &opts.SplitArea{Show: opts.Bool(true)}}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: rows, SplitArea: &opts.SplitArea{Show: opts.Bool(true)}}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxTiles),
			InRange:    &opts.VisualMapInRange{Color: heatColors},
		}),
	)
	hm.SetXAxis(columns).AddSeries("tiles", data)

	return hm.Render(w)
}

// WriteOccupancyFile renders the occupancy heatmap into an HTML file.
func WriteOccupancyFile(path, plate string, plateLayout layout.Plate, occ []platedb.WellOccupancy) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := WriteOccupancy(f, plate, plateLayout, occ); err != nil {
		return err
	}
	return f.Close()
}
