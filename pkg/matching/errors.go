package matching

import "fmt"

// EmptyPointSetError is returned when the source or target set has no points
type EmptyPointSetError struct {
	Side string
}

func (e *EmptyPointSetError) Error() string {
	return fmt.Sprintf("empty point set: %s has no points", e.Side)
}

// ShapeMismatchError is returned when labels, points or volumes that must
// line up do not.
type ShapeMismatchError struct {
	What     string
	Expected string
	Actual   string
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch in %s: expected %s, got %s", e.What, e.Expected, e.Actual)
}

// InvalidStrategyError is returned for an unknown strategy name or value
type InvalidStrategyError struct {
	Name string
}

func (e *InvalidStrategyError) Error() string {
	return fmt.Sprintf("invalid strategy %q: want %s or %s", e.Name, NearestNeighbor, OptimalAssignment)
}
