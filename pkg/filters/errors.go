package filters

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownFilter is returned when a filter name is not registered.
	ErrUnknownFilter = errors.New("filters: unknown filter")
	// ErrInvalidArgument is wrapped by filters rejecting their arguments.
	ErrInvalidArgument = errors.New("filters: invalid argument")
)

// Error reports a failure raised while applying a named filter.
type Error struct {
	Filter string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("filter %q failed: %v", e.Filter, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
