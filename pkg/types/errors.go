package types

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// Validation errors
var (
	ErrEmptySegmentID     = eris.New("segment id is required")
	ErrEmptySegmentName   = eris.New("segment name is required")
	ErrInvalidAccessLevel = eris.New("access level must be public, personalized, or private")
	ErrInvalidCoverage    = eris.New("coverage must be between 0 and 100")
	ErrInvalidCPM         = eris.New("cpm must be >= 0")
)

// Errors surfaced to the caller. They change the meaning of a result and are
// reported verbatim.
var (
	ErrPermissionDenied = eris.New("permission denied")
	ErrInvalidSegment   = eris.New("invalid segment")
)

// Errors absorbed inside the engine. They degrade a single data source and
// never fail a discovery call.
var (
	ErrContextNotFound    = eris.New("context not found")
	ErrAdapterTimeout     = eris.New("adapter timeout")
	ErrAdapterAuth        = eris.New("adapter authentication failed")
	ErrAdapterUnavailable = eris.New("adapter unavailable")
	ErrExpansionFailed    = eris.New("query expansion failed")
)

// SegmentError carries the segment id a surfaced error refers to
type SegmentError struct {
	SegmentID string
	Platform  string
	Err       error
}

func (e *SegmentError) Error() string {
	if e.Platform != "" {
		return fmt.Sprintf("%v: segment %q on platform %q", e.Err, e.SegmentID, e.Platform)
	}
	return fmt.Sprintf("%v: segment %q", e.Err, e.SegmentID)
}

func (e *SegmentError) Unwrap() error {
	return e.Err
}

// InvalidSegment builds the error for an unresolvable segment id
func InvalidSegment(segmentID, platform string) error {
	return &SegmentError{SegmentID: segmentID, Platform: platform, Err: ErrInvalidSegment}
}

// PermissionDenied builds the error for a principal lacking an account on platform
func PermissionDenied(segmentID, platform string) error {
	return &SegmentError{SegmentID: segmentID, Platform: platform, Err: ErrPermissionDenied}
}
