// Package apperr holds the sentinel errors shared across packages.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")

	// ErrUnregisteredKey is returned when a manifest value is set before its key
	// was registered to a backing file.
	ErrUnregisteredKey = errors.New("manifest key not registered")
	// ErrInvalidManifest marks a backing file that exists but cannot be decoded.
	ErrInvalidManifest = errors.New("invalid manifest file")
	// ErrRootLocked means another process already watches the root.
	ErrRootLocked = errors.New("watched root is locked by another process")
	// ErrNotVisualizable is returned when rows are requested for a file that
	// has no tabular viewer.
	ErrNotVisualizable = errors.New("file is not visualizable")
)
