package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dualcart-backend/pkg/enums"
)

// ActorRef identifies the cart owner an event was produced for. System actors
// (the reconciliation worker) leave UserID empty and set Kind only.
type ActorRef struct {
	OwnerKey string          `json:"ownerKey"`
	Kind     enums.OwnerKind `json:"kind,omitempty"`
	UserID   *uuid.UUID      `json:"userId,omitempty"`
	System   string          `json:"system,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
