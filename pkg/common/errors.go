package common

import "errors"

var (
	ErrFileHeaderMismatch   = errors.New("unexpected file header")
	ErrTruncatedInput       = errors.New("truncated input")
	ErrUnexpectedEOF        = errors.New("unexpected end of container")
	ErrUnrecognizedBlockTag = errors.New("unrecognized block tag")
	ErrRegionOverrun        = errors.New("record overruns its region")
	ErrInvalidName          = errors.New("invalid output name")
	ErrNoExtension          = errors.New("input file has no extension")
	ErrOutputLocked         = errors.New("output is locked by another extraction")
)

// IsRecoverable reports whether err only invalidates the region it was
// found in. The container loop can always reseek past such a region.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrUnrecognizedBlockTag) ||
		errors.Is(err, ErrRegionOverrun) ||
		errors.Is(err, ErrInvalidName)
}
