package matching

import (
	"fmt"
	"strings"
)

// Strategy selects how source points are paired with target points
type Strategy int

const (
	// NearestNeighbor pairs every source point with its closest target.
	// Targets may be reused.
	NearestNeighbor Strategy = iota
	// OptimalAssignment solves the one-to-one assignment with minimum total
	// distance. Produces min(N, M) pairs.
	OptimalAssignment
)

func (s Strategy) String() string {
	switch s {
	case NearestNeighbor:
		return "nearest-neighbor"
	case OptimalAssignment:
		return "optimal-assignment"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

func (s Strategy) valid() bool {
	return s == NearestNeighbor || s == OptimalAssignment
}

// ParseStrategy accepts the canonical names and the short forms "nn" and
// "hungarian", case-insensitively.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "nearest-neighbor", "nearest_neighbor", "nn":
		return NearestNeighbor, nil
	case "optimal-assignment", "optimal_assignment", "hungarian":
		return OptimalAssignment, nil
	default:
		return 0, &InvalidStrategyError{Name: name}
	}
}
