package edit

import "errors"

var (
	// ErrInvalidState is returned when an operation is not allowed in the
	// session's current mode, e.g. beginning a stage with no image selected
	// or while another stage is active.
	ErrInvalidState = errors.New("invalid edit state")

	// ErrTransformFailure is returned when a filter or composite produced no
	// usable output. The previous image is always retained.
	ErrTransformFailure = errors.New("transform produced no output")

	// ErrDiscarded is reported by a Task whose stage ended before its result
	// could be delivered.
	ErrDiscarded = errors.New("result discarded: stage no longer active")
)
