package query

import (
	"RaffleLedger/internal/ledger"
	fpmath "RaffleLedger/internal/math"

	"github.com/google/uuid"
)

// ClaimableResponse is a participant's pull-payment position in one raffle.
type ClaimableResponse struct {
	RaffleID    uuid.UUID `json:"raffle_id"`
	Participant uuid.UUID `json:"participant"`

	// Amounts owed, in whole units.
	Custody string `json:"custody"`
	Native  string `json:"native"`

	// Refundable entries while the raffle is canceled.
	EntriesOwned uint64 `json:"entries_owned"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// ReserveResponse compares what a raffle owes with what it holds.
type ReserveResponse struct {
	RaffleID uuid.UUID `json:"raffle_id"`

	CustodyReserved string `json:"custody_reserved"`
	CustodyHeld     string `json:"custody_held"`
	CustodySurplus  string `json:"custody_surplus"`

	NativeReserved string `json:"native_reserved"`
	NativeHeld     string `json:"native_held"`
	NativeSurplus  string `json:"native_surplus"`
}

// FormatAmount renders a fixed-point amount of asset in whole units.
func FormatAmount(amount int64, asset ledger.AssetID) string {
	cfg := fpmath.CustodyConfig
	if asset == ledger.AssetNative {
		cfg = fpmath.NativeConfig
	}
	return fpmath.ToDecimal(amount, cfg).String()
}
