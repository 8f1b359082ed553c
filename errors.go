package lpg

import "errors"

var (
	// ErrBadContainer indicates a malformed serialized grammar.
	ErrBadContainer = errors.New("malformed grammar container")
	// ErrUnsupportedLevel indicates a compression level outside {1, 2},
	// either requested or found in a container header.
	ErrUnsupportedLevel = errors.New("unsupported compression level")
)
