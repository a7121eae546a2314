package cart

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/dualcart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dualcart-backend/pkg/errors"
)

const (
	maxGuestIDLength = 128

	registeredKeyPrefix = "user:"
	guestKeyPrefix      = "guest:"
)

// cartIDNamespace seeds the UUIDv5 cart ids derived from owner keys.
var cartIDNamespace = uuid.MustParse("5b0d7f5e-3c4a-4b8e-9f51-2d6c1a7e9b03")

// Owner identifies whose active cart is being addressed. Exactly one of UserID
// or GuestID is populated, matching Kind.
type Owner struct {
	Kind    enums.OwnerKind `json:"kind"`
	UserID  uuid.UUID       `json:"user_id"`
	GuestID string          `json:"guest_id,omitempty"`
}

func RegisteredOwner(userID uuid.UUID) Owner {
	return Owner{Kind: enums.OwnerRegistered, UserID: userID}
}

func GuestOwner(guestID string) Owner {
	return Owner{Kind: enums.OwnerGuest, GuestID: strings.TrimSpace(guestID)}
}

func (o Owner) IsRegistered() bool {
	return o.Kind == enums.OwnerRegistered
}

// Validate rejects owners that carry both, neither, or a mismatched identifier.
func (o Owner) Validate() error {
	switch o.Kind {
	case enums.OwnerRegistered:
		if o.UserID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
		}
		if o.GuestID != "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "registered owner cannot carry a guest id")
		}
	case enums.OwnerGuest:
		if o.GuestID == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "guest id is required")
		}
		if len(o.GuestID) > maxGuestIDLength {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("guest id must be at most %d characters", maxGuestIDLength))
		}
		if o.UserID != uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "guest owner cannot carry a user id")
		}
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, "owner kind is required")
	}
	return nil
}

// Key is the store key for the owner's active cart.
func (o Owner) Key() string {
	if o.IsRegistered() {
		return registeredKeyPrefix + o.UserID.String()
	}
	return guestKeyPrefix + o.GuestID
}

// CartID is stable for the owner and doubles as the reservation cart id.
func (o Owner) CartID() uuid.UUID {
	return uuid.NewSHA1(cartIDNamespace, []byte(o.Key()))
}

func (o Owner) String() string {
	return o.Key()
}

// ParseOwnerKey reverses Key.
func ParseOwnerKey(key string) (Owner, error) {
	var owner Owner
	switch {
	case strings.HasPrefix(key, registeredKeyPrefix):
		id, err := uuid.Parse(strings.TrimPrefix(key, registeredKeyPrefix))
		if err != nil {
			return Owner{}, fmt.Errorf("invalid owner key %q: %w", key, err)
		}
		owner = RegisteredOwner(id)
	case strings.HasPrefix(key, guestKeyPrefix):
		owner = GuestOwner(strings.TrimPrefix(key, guestKeyPrefix))
	default:
		return Owner{}, fmt.Errorf("invalid owner key %q", key)
	}
	if err := owner.Validate(); err != nil {
		return Owner{}, fmt.Errorf("invalid owner key %q: %w", key, err)
	}
	return owner, nil
}
