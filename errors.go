// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package accel

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMemoryType means that the device has no memory
	// type with the properties that a resource needs.
	ErrNoMemoryType = errors.New("accel: no suitable memory type")

	// ErrNotFound means that a geometry ID is unknown.
	ErrNotFound = errors.New("accel: geometry not found")

	// ErrExists means that a geometry ID is already in use.
	ErrExists = errors.New("accel: geometry already exists")

	// ErrInUse means that a geometry is referenced and
	// cannot be removed.
	ErrInUse = errors.New("accel: geometry in use")

	// ErrReleased means that the geometry of a BLAS that
	// does not allow updates was released after its build,
	// so it cannot be built again.
	ErrReleased = errors.New("accel: geometry released")

	// ErrInvalidGeometry means that a geometry description
	// is not valid.
	ErrInvalidGeometry = errors.New("accel: invalid geometry")

	// ErrScratchTooSmall means that a scratch buffer cannot
	// hold what a build requires.
	ErrScratchTooSmall = errors.New("accel: scratch buffer too small")

	// ErrSubmit means that build commands could not be
	// submitted for execution.
	ErrSubmit = errors.New("accel: build submission failed")
)

// BuildError is the error of a single BLAS build.
type BuildError struct {
	ID  GeometryID
	Err error
}

func (e *BuildError) Error() string { return fmt.Sprintf("accel: geometry %d: %v", e.ID, e.Err) }

func (e *BuildError) Unwrap() error { return e.Err }
