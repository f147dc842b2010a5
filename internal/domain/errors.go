package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the adapters and the synchronizer. Adapters wrap
// these with context; callers match with errors.Is.
var (
	ErrRemoteUnavailable = errors.New("remote unavailable")
	ErrRemoteFormat      = errors.New("remote listing format error")
	ErrCorruptIndex      = errors.New("corrupt index")
	ErrDownloadFailed    = errors.New("download failed")
	ErrWriteFailed       = errors.New("write failed")
	ErrIndexLocked       = errors.New("index locked by another run")
)

// ParseError describes a listing row that looked like a weather file but
// could not be turned into a CatalogEntry.
type ParseError struct {
	Page   string `json:"page"`
	Href   string `json:"href"`
	Reason string `json:"reason"`
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse listing row %q on %s: %s", e.Href, e.Page, e.Reason)
}
