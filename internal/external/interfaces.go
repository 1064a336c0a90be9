// Package external declares the collaborators a raffle talks to. Every call
// receives the caller's context so implementations can detect re-entry.
package external

import (
	"context"

	"github.com/google/uuid"
)

// CustodyToken is the fungible token used for entry payment and prizes.
type CustodyToken interface {
	Decimals(ctx context.Context) (uint8, error)
	BalanceOf(ctx context.Context, owner uuid.UUID) (int64, error)

	// TransferFrom moves amount from owner to recipient, spending spender's
	// allowance granted by owner.
	TransferFrom(ctx context.Context, spender, owner, recipient uuid.UUID, amount int64) error

	// Transfer pushes amount from the sender's own balance.
	Transfer(ctx context.Context, sender, recipient uuid.UUID, amount int64) error
}

// NativeBank holds the native asset used for oracle fees. Transfers to a
// recipient that does not accept native funds fail.
type NativeBank interface {
	BalanceOf(ctx context.Context, owner uuid.UUID) (int64, error)
	Transfer(ctx context.Context, sender, recipient uuid.UUID, amount int64) error
}

// RandomnessOracle issues asynchronous randomness requests. The response is
// delivered later through the raffle's response entry point, never from
// inside RequestWithCallback.
type RandomnessOracle interface {
	// Identity is the caller identity responses arrive from.
	Identity() uuid.UUID

	GetFee(ctx context.Context, provider uuid.UUID) (int64, error)

	// RequestWithCallback charges fee to payer's native balance and returns
	// the request id the response will carry.
	RequestWithCallback(ctx context.Context, payer, provider uuid.UUID, seed [32]byte, fee int64) (uint64, error)
}

// Directory records deployed raffles for discovery. Register is idempotent.
type Directory interface {
	Register(ctx context.Context, instance uuid.UUID, classification string, creator uuid.UUID) error
}
