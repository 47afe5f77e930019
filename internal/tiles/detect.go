package tiles

import (
	"fmt"
	"os"
	"path/filepath"
)

// Format identifies which vendor produced an acquisition directory.
type Format string

const (
	FormatOperetta Format = "operetta"
	FormatScanR    Format = "scanr"
	FormatCQ3K     Format = "cq3k"
)

// DetectFormat inspects the shape of an acquisition directory and reports
// which vendor wrote it. Detection looks only at the well-known metadata
// file locations:
//
//	Operetta: Images/Index.idx.xml (or Index.idx.xml when given the Images dir)
//	ScanR:    data/metadata.ome.xml (or metadata.ome.xml when given the data dir)
//	CQ3K:     MeasurementData.mlf + MeasurementDetail.mrf
func DetectFormat(dir string) (Format, error) {
	root := Acquisition{Path: dir}.Root()

	if fileExists(filepath.Join(root, "Images", "Index.idx.xml")) {
		return FormatOperetta, nil
	}
	if fileExists(filepath.Join(root, "MeasurementData.mlf")) &&
		fileExists(filepath.Join(root, "MeasurementDetail.mrf")) {
		return FormatCQ3K, nil
	}
	if fileExists(filepath.Join(root, "data", "metadata.ome.xml")) {
		return FormatScanR, nil
	}
	return "", fmt.Errorf("no recognized vendor metadata in %s: %w", dir, ErrMissingMetadata)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
