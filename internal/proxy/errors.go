package proxy

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for filenames that are not in the catalog.
	ErrNotFound = errors.New("asset not found")
	// ErrUpstream matches every *UpstreamError.
	ErrUpstream = errors.New("upstream fetch failed")
	// errUpstreamStatus is wrapped when upstream answers with a non-success status.
	errUpstreamStatus = errors.New("unexpected upstream status")
)

// UpstreamError reports a failed fetch of a known asset.
// It is never used for names missing from the catalog.
type UpstreamError struct {
	// Filename is the requested asset.
	Filename string
	// StatusCode is the upstream status, or zero when no response was received.
	StatusCode int
	// Err is the underlying failure.
	Err error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %q: upstream status %d: %v", e.Filename, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("fetch %q: %v", e.Filename, e.Err)
}

// Unwrap returns the underlying failure.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrUpstream) true.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}
