package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeRaffleCreated
	EventTypeFundingActivated
	EventTypeEntriesPurchased
	EventTypeDrawRequested
	EventTypeDrawResolved
	EventTypeRaffleCanceled
	EventTypeRefundClaimed
	EventTypeClaimWithdrawn
	EventTypeNativeWithdrawn
	EventTypeNativeCredited
	EventTypeSurplusSwept
	EventTypePauseChanged
	EventTypeOracleConfigUpdated
	EventTypeAdminTransferred
	EventTypeRegistrationFailed
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Per-raffle monotonic sequence assigned by the engine
	Sequence int64

	RaffleID uuid.UUID

	// Command name and idempotency key of the command that produced the
	// event. Both are empty for events not tied to a command.
	Command        string
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Engine clock at the time the event was applied
	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Payload is implemented by every event body the engine emits.
type Payload interface {
	EventType() EventType
}

var eventTypeNames = map[EventType]string{
	EventTypeRaffleCreated:       "RaffleCreated",
	EventTypeFundingActivated:    "FundingActivated",
	EventTypeEntriesPurchased:    "EntriesPurchased",
	EventTypeDrawRequested:       "DrawRequested",
	EventTypeDrawResolved:        "DrawResolved",
	EventTypeRaffleCanceled:      "RaffleCanceled",
	EventTypeRefundClaimed:       "RefundClaimed",
	EventTypeClaimWithdrawn:      "ClaimWithdrawn",
	EventTypeNativeWithdrawn:     "NativeWithdrawn",
	EventTypeNativeCredited:      "NativeCredited",
	EventTypeSurplusSwept:        "SurplusSwept",
	EventTypePauseChanged:        "PauseChanged",
	EventTypeOracleConfigUpdated: "OracleConfigUpdated",
	EventTypeAdminTransferred:    "AdminTransferred",
	EventTypeRegistrationFailed:  "RegistrationFailed",
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// ParseEventType maps a stored name back to its discriminator.
func ParseEventType(s string) EventType {
	for et, name := range eventTypeNames {
		if name == s {
			return et
		}
	}
	return EventTypeUnknown
}
