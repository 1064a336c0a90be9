package event

import (
	"time"

	"github.com/google/uuid"
)

// RaffleCreated is the first event of every raffle.
type RaffleCreated struct {
	EntryPrice   int64     `json:"entry_price"`
	PrizeAmount  int64     `json:"prize_amount"`
	MinEntries   uint64    `json:"min_entries"`
	MaxEntries   uint64    `json:"max_entries"`
	Deadline     time.Time `json:"deadline"`
	FeePercent   int64     `json:"fee_percent"`
	Organizer    uuid.UUID `json:"organizer"`
	FeeRecipient uuid.UUID `json:"fee_recipient"`
	Admin        uuid.UUID `json:"admin"`
	Oracle       uuid.UUID `json:"oracle"`
	Provider     uuid.UUID `json:"provider"`
}

func (e *RaffleCreated) EventType() EventType { return EventTypeRaffleCreated }

// FundingActivated marks FundingPending → Open.
type FundingActivated struct {
	Depositor   uuid.UUID `json:"depositor"`
	PrizeAmount int64     `json:"prize_amount"`
	CustodyHeld int64     `json:"custody_held"`
}

func (e *FundingActivated) EventType() EventType { return EventTypeFundingActivated }

// EntriesPurchased records one purchase call.
type EntriesPurchased struct {
	Buyer     uuid.UUID `json:"buyer"`
	Count     uint64    `json:"count"`
	Cost      int64     `json:"cost"`
	TotalSold uint64    `json:"total_sold"`
	NewRange  bool      `json:"new_range"`
}

func (e *EntriesPurchased) EventType() EventType { return EventTypeEntriesPurchased }

// DrawRequested marks Open → Drawing.
type DrawRequested struct {
	Caller         uuid.UUID `json:"caller"`
	RequestID      uint64    `json:"request_id"`
	Provider       uuid.UUID `json:"provider"`
	SoldSnapshot   uint64    `json:"sold_snapshot"`
	Fee            int64     `json:"fee"`
	Payment        int64     `json:"payment"`
	ExcessRefunded int64     `json:"excess_refunded"`
	ExcessCredited int64     `json:"excess_credited"`
}

func (e *DrawRequested) EventType() EventType { return EventTypeDrawRequested }

// DrawResolved marks Drawing → Completed.
type DrawResolved struct {
	RequestID      uint64    `json:"request_id"`
	RandomValue    string    `json:"random_value"` // hex
	WinningIndex   uint64    `json:"winning_index"`
	Winner         uuid.UUID `json:"winner"`
	WinnerShare    int64     `json:"winner_share"`
	OrganizerShare int64     `json:"organizer_share"`
	FeeShare       int64     `json:"fee_share"`
}

func (e *DrawResolved) EventType() EventType { return EventTypeDrawResolved }

// Cancel reasons
const (
	CancelReasonMinimumNotMet = "minimum_not_met"
	CancelReasonEmergency     = "emergency"
)

// RaffleCanceled marks a transition into Canceled.
type RaffleCanceled struct {
	Caller        uuid.UUID `json:"caller"`
	Reason        string    `json:"reason"`
	SoldSnapshot  uint64    `json:"sold_snapshot"`
	PrizeRefunded int64     `json:"prize_refunded"`

	// Set when a pending draw was abandoned through the emergency hatch.
	AbandonedRequestID *uint64 `json:"abandoned_request_id,omitempty"`
}

func (e *RaffleCanceled) EventType() EventType { return EventTypeRaffleCanceled }

// RefundClaimed credits a buyer's paid-in amount after cancellation.
type RefundClaimed struct {
	Buyer   uuid.UUID `json:"buyer"`
	Entries uint64    `json:"entries"`
	Amount  int64     `json:"amount"`
}

func (e *RefundClaimed) EventType() EventType { return EventTypeRefundClaimed }

// ClaimWithdrawn records a custody payout.
type ClaimWithdrawn struct {
	Recipient uuid.UUID `json:"recipient"`
	Amount    int64     `json:"amount"`
}

func (e *ClaimWithdrawn) EventType() EventType { return EventTypeClaimWithdrawn }

// NativeWithdrawn records a payout of credited native funds.
type NativeWithdrawn struct {
	Claimant uuid.UUID `json:"claimant"`
	To       uuid.UUID `json:"to"`
	Amount   int64     `json:"amount"`
}

func (e *NativeWithdrawn) EventType() EventType { return EventTypeNativeWithdrawn }

// NativeCredited records a native push payment that the recipient refused
// and that was credited as claimable instead.
type NativeCredited struct {
	Recipient uuid.UUID `json:"recipient"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
}

func (e *NativeCredited) EventType() EventType { return EventTypeNativeCredited }

// SurplusSwept records an administrative sweep of unowed funds.
type SurplusSwept struct {
	Asset  string    `json:"asset"`
	To     uuid.UUID `json:"to"`
	Amount int64     `json:"amount"`
}

func (e *SurplusSwept) EventType() EventType { return EventTypeSurplusSwept }

type PauseChanged struct {
	Caller uuid.UUID `json:"caller"`
	Paused bool      `json:"paused"`
}

func (e *PauseChanged) EventType() EventType { return EventTypePauseChanged }

type OracleConfigUpdated struct {
	Oracle   uuid.UUID `json:"oracle"`
	Provider uuid.UUID `json:"provider"`
}

func (e *OracleConfigUpdated) EventType() EventType { return EventTypeOracleConfigUpdated }

type AdminTransferred struct {
	Previous uuid.UUID `json:"previous"`
	Current  uuid.UUID `json:"current"`
}

func (e *AdminTransferred) EventType() EventType { return EventTypeAdminTransferred }

// RegistrationFailed records a directory registration that must be retried
// out of band. The raffle stays usable.
type RegistrationFailed struct {
	Classification string    `json:"classification"`
	Creator        uuid.UUID `json:"creator"`
	Error          string    `json:"error"`
}

func (e *RegistrationFailed) EventType() EventType { return EventTypeRegistrationFailed }
