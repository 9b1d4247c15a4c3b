package service

import (
	"errors"
	"fmt"
)

var (
	ErrForcedStationNotFound = errors.New("forced station not present in feed")
)

// Stage names used in logs and EventFailure.
const (
	StageValidate   = "validate"
	StageRender     = "render"
	StageStreetView = "streetview"
	StagePost       = "post"
	StageCommit     = "commit"
)

// ValidationError reports a feed record that cannot become a station.
type ValidationError struct {
	StationID string // may be empty when the id itself is missing
	Field     string
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.StationID == "" {
		return fmt.Sprintf("invalid record: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid record %s: %s %s", e.StationID, e.Field, e.Reason)
}

// FetchError means the feed could not be read; the run is aborted.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string { return "fetch stations: " + e.Err.Error() }
func (e *FetchError) Unwrap() error { return e.Err }

// RenderError wraps a map rendering failure for one station.
type RenderError struct {
	StationID string
	Err       error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render map for %s: %v", e.StationID, e.Err)
}
func (e *RenderError) Unwrap() error { return e.Err }

// PostError wraps a failed publish for one station.
type PostError struct {
	StationID string
	Err       error
}

func (e *PostError) Error() string {
	return fmt.Sprintf("post for %s: %v", e.StationID, e.Err)
}
func (e *PostError) Unwrap() error { return e.Err }
