package tiles

import "errors"

// Error kinds shared by all vendor parsers. Parsers wrap these with
// fmt.Errorf("...: %w", ...) so callers can discriminate with errors.Is while
// still seeing the offending file or record in the message. All parse errors
// are terminal for the acquisition being parsed; there are no retries at this
// layer.
var (
	// ErrMissingMetadata means a required metadata or image file is absent.
	ErrMissingMetadata = errors.New("required metadata file missing")

	// ErrParse means a metadata file is present but structurally invalid,
	// or declared coordinates disagree between sources.
	ErrParse = errors.New("metadata parse error")
)
