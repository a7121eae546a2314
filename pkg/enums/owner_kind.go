package enums

import "fmt"

// OwnerKind distinguishes signed-in users from anonymous guests.
type OwnerKind string

const (
	OwnerRegistered OwnerKind = "registered"
	OwnerGuest      OwnerKind = "guest"
)

func (k OwnerKind) String() string {
	return string(k)
}

func (k OwnerKind) IsValid() bool {
	return k == OwnerRegistered || k == OwnerGuest
}

func ParseOwnerKind(value string) (OwnerKind, error) {
	kind := OwnerKind(value)
	if !kind.IsValid() {
		return "", fmt.Errorf("invalid owner kind %q", value)
	}
	return kind, nil
}
