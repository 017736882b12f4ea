package command

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMatch means the message selects no command; it is ignored.
	ErrNoMatch = errors.New("no command matched")
	// ErrMissingAttachment means a rowing command was invoked without an image.
	ErrMissingAttachment = errors.New("command requires an image attachment")
)

// ValidationError reports a matched command that cannot be dispatched as sent.
type ValidationError struct {
	CommandSet string
	Prefix     string
	Err        error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("command %s (%s): %v", e.CommandSet, e.Prefix, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
