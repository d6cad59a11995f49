package transform

import "fmt"

// TransformUnavailableError is returned when no operator is configured for
// the requested operation, or the configured one cannot be run.
type TransformUnavailableError struct {
	Operation string
	Reason    string
}

func (e *TransformUnavailableError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("transform unavailable for %s: %s", e.Operation, e.Reason)
	}
	return fmt.Sprintf("transform unavailable for %s: no operator configured", e.Operation)
}

// GeometryMismatchError is returned when an operator's output does not have
// the geometry the caller asked for.
type GeometryMismatchError struct {
	What     string
	Expected []int
	Actual   []int
}

func (e *GeometryMismatchError) Error() string {
	return fmt.Sprintf("geometry mismatch in %s: expected shape %v, got %v", e.What, e.Expected, e.Actual)
}
