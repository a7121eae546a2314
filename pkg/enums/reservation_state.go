package enums

import "fmt"

// ReservationState tracks the inventory hold attached to an active cart.
type ReservationState string

const (
	ReservationNone      ReservationState = "none"
	ReservationRequested ReservationState = "requested"
	ReservationReserved  ReservationState = "reserved"
	ReservationReleased  ReservationState = "released"
)

var validReservationStates = []ReservationState{
	ReservationNone,
	ReservationRequested,
	ReservationReserved,
	ReservationReleased,
}

func (r ReservationState) String() string {
	return string(r)
}

// Holding reports whether inventory may currently be held for the cart.
func (r ReservationState) Holding() bool {
	return r == ReservationRequested || r == ReservationReserved
}

func (r ReservationState) IsValid() bool {
	for _, candidate := range validReservationStates {
		if candidate == r {
			return true
		}
	}
	return false
}

func ParseReservationState(value string) (ReservationState, error) {
	if value == "" {
		return ReservationNone, nil
	}
	for _, candidate := range validReservationStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reservation state %q", value)
}
