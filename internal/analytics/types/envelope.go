package types

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/dualcart-backend/pkg/enums"
)

// Envelope is a cart event as received from the cart events subscription.
type Envelope struct {
	EventID       string                    `json:"event_id"`
	EventType     enums.OutboxEventType     `json:"event_type"`
	AggregateType enums.OutboxAggregateType `json:"aggregate_type"`
	AggregateID   string                    `json:"aggregate_id"`
	OrderingKey   string                    `json:"ordering_key,omitempty"`
	OccurredAt    time.Time                 `json:"occurred_at"`
	Payload       json.RawMessage           `json:"payload"`
}
