package spacing

import "fmt"

// InvalidSpacingError is returned when a spacing magnitude is non-positive,
// non-finite or a required axis is missing.
type InvalidSpacingError struct {
	Axis    string
	Value   float64
	Missing bool
	Unknown bool
	Reason  string
}

func (e *InvalidSpacingError) Error() string {
	switch {
	case e.Missing:
		return fmt.Sprintf("invalid spacing: required axis %s is missing", e.Axis)
	case e.Unknown:
		return fmt.Sprintf("invalid spacing: unknown axis key %q (want dz, dy, dx)", e.Axis)
	case e.Axis != "":
		return fmt.Sprintf("invalid spacing: %s = %g (%s)", e.Axis, e.Value, e.Reason)
	default:
		return "invalid spacing: " + e.Reason
	}
}

// DimensionMismatchError is returned when a point array or shape does not
// have the dimensionality of the spacing it is used with.
type DimensionMismatchError struct {
	Expected int
	Actual   int
	// Row is the offending point row, or -1 for a shape
	Row  int
	Axes string
}

func (e *DimensionMismatchError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("dimension mismatch: %dD spacing (%s) got a %dD shape", e.Expected, e.Axes, e.Actual)
	}
	return fmt.Sprintf("dimension mismatch: %dD spacing (%s) requires %d columns, row %d has %d",
		e.Expected, e.Axes, e.Expected, e.Row, e.Actual)
}
