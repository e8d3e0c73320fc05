package foldercache

import (
	"errors"
	"fmt"
)

// ErrCacheDeprecated is returned by strict lookups against a Collection that must be rebuilt
// before its data can be trusted. Callers are expected to refresh and retry rather than fail.
var ErrCacheDeprecated = errors.New("folder cache deprecated")

// ErrRegistryClosed is returned when a Registry is used after Close.
var ErrRegistryClosed = errors.New("folder cache registry closed")

// ErrFolderNotFound is returned when an operation needs a folder the server does not list.
var ErrFolderNotFound = errors.New("folder not found")

// RemoteListingError reports a transport or protocol failure while talking to the mail server.
type RemoteListingError struct {
	Op      string // LIST, LSUB, STATUS, ...
	Pattern string
	Err     error
}

func (e *RemoteListingError) Error() string {
	if e.Pattern == "" {
		return fmt.Sprintf("remote listing failed: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("remote listing failed: %s %q: %v", e.Op, e.Pattern, e.Err)
}

func (e *RemoteListingError) Unwrap() error {
	return e.Err
}

func remoteErr(op, pattern string, err error) error {
	var rle *RemoteListingError
	if errors.As(err, &rle) {
		return err
	}
	return &RemoteListingError{Op: op, Pattern: pattern, Err: err}
}
