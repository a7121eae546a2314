package enums

import "fmt"

// MoveDirection names the cart a pending move is headed for.
type MoveDirection string

const (
	MoveToNextPurchase MoveDirection = "to_next_purchase"
	MoveToActive       MoveDirection = "to_active"
)

var validMoveDirections = []MoveDirection{
	MoveToNextPurchase,
	MoveToActive,
}

// String implements fmt.Stringer.
func (m MoveDirection) String() string {
	return string(m)
}

// IsValid reports whether the value is known.
func (m MoveDirection) IsValid() bool {
	for _, candidate := range validMoveDirections {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseMoveDirection converts raw input into a MoveDirection.
func ParseMoveDirection(value string) (MoveDirection, error) {
	for _, candidate := range validMoveDirections {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid move direction %q", value)
}
