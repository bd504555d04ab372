package release

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidHeader is returned when an input cannot be sent as an HTTP header value.
	ErrInvalidHeader = errors.New("invalid header value")
	// ErrUnexpectedStatus is returned when the API answers with a non-success status.
	ErrUnexpectedStatus = errors.New("unexpected http status")
	// ErrNoAssets is returned when the latest release has no assets.
	ErrNoAssets = errors.New("latest release has no assets")
	// ErrNoDownloadBase is returned when no download prefix can be derived from an asset URL.
	ErrNoDownloadBase = errors.New("cannot derive download url base")
	// ErrInvalidVersion is returned when a version is not a semantic version.
	ErrInvalidVersion = errors.New("invalid semantic version")
)

// VersionError reports a version string that is not a semantic version.
type VersionError struct {
	// Version is the offending, normalised version.
	Version string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("%s: %q", ErrInvalidVersion, e.Version)
}

// Unwrap allows errors.Is(err, ErrInvalidVersion).
func (e *VersionError) Unwrap() error {
	return ErrInvalidVersion
}
