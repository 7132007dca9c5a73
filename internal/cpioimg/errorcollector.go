package cpioimg

import (
	"errors"
	"fmt"
)

// ErrorCollector is a wrapper around []error that simplifies code where
// multiple errors can happen and need to be aggregated for collective
// display, e.g. when validating every line of a manifest before writing
// any output.
type ErrorCollector struct {
	Errors []error
}

// Add adds an error to this collector. If nil is given, nothing happens,
// so callers can write ec.Add(OperationThatMightFail()) unconditionally.
func (c *ErrorCollector) Add(err error) {
	if err != nil {
		c.Errors = append(c.Errors, err)
	}
}

// Addf adds an error built from fmt.Errorf(format, args...). If no args
// are given, format is used as the error string verbatim.
func (c *ErrorCollector) Addf(format string, args ...interface{}) {
	if len(args) > 0 {
		c.Errors = append(c.Errors, fmt.Errorf(format, args...))
	} else {
		c.Errors = append(c.Errors, errors.New(format))
	}
}

// Any reports whether any error has been collected.
func (c *ErrorCollector) Any() bool {
	return len(c.Errors) > 0
}
