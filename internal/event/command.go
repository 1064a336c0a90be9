package event

import (
	"github.com/google/uuid"
)

// CommandType discriminator for inbound raffle commands
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota
	CommandTypePurchase
	CommandTypeFinalize
	CommandTypeCancelExpired
	CommandTypeEmergencyCancel
	CommandTypeClaimRefund
	CommandTypeWithdraw
	CommandTypeWithdrawNative
	CommandTypeOracleResponse
	CommandTypePause
	CommandTypeUnpause
	CommandTypeSetOracle
	CommandTypeSetProvider
	CommandTypeSweepCustody
	CommandTypeSweepNative
	CommandTypeTransferAdmin
)

var commandTypeNames = map[CommandType]string{
	CommandTypePurchase:        "purchase",
	CommandTypeFinalize:        "finalize",
	CommandTypeCancelExpired:   "cancel_expired",
	CommandTypeEmergencyCancel: "emergency_cancel",
	CommandTypeClaimRefund:     "claim_refund",
	CommandTypeWithdraw:        "withdraw",
	CommandTypeWithdrawNative:  "withdraw_native",
	CommandTypeOracleResponse:  "oracle_response",
	CommandTypePause:           "pause",
	CommandTypeUnpause:         "unpause",
	CommandTypeSetOracle:       "set_oracle",
	CommandTypeSetProvider:     "set_provider",
	CommandTypeSweepCustody:    "sweep_custody",
	CommandTypeSweepNative:     "sweep_native",
	CommandTypeTransferAdmin:   "transfer_admin",
}

func (ct CommandType) String() string {
	if name, ok := commandTypeNames[ct]; ok {
		return name
	}
	return "unknown"
}

// ParseCommandType maps a wire name to its discriminator.
func ParseCommandType(s string) (CommandType, bool) {
	for ct, name := range commandTypeNames {
		if name == s {
			return ct, true
		}
	}
	return CommandTypeUnknown, false
}

// Command is a single externally triggered operation on one raffle. Caller
// identity is always explicit; which of the remaining fields are read depends
// on Type.
type Command struct {
	Type           CommandType
	IdempotencyKey string
	RaffleID       uuid.UUID
	Caller         uuid.UUID

	Count   uint64    // purchase
	Payment int64     // finalize: native amount attached for the oracle fee
	Target  uuid.UUID // withdraw_native / sweep_* destination, set_oracle / set_provider / transfer_admin value

	// oracle_response
	RequestID   uint64
	Provider    uuid.UUID
	RandomValue [32]byte
}
