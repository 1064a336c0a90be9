package core

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const (
	ctxKeyActiveRaffle ctxKey = iota
	ctxKeyCommand
)

// withinRaffle tags ctx as being inside an external call made by raffleID.
// Collaborators receive this context; if they call back into the same raffle
// with it, the call is rejected instead of deadlocking on the instance lock.
func withinRaffle(ctx context.Context, raffleID uuid.UUID) context.Context {
	parent, _ := ctx.Value(ctxKeyActiveRaffle).(*activeRaffle)
	return context.WithValue(ctx, ctxKeyActiveRaffle, &activeRaffle{id: raffleID, parent: parent})
}

func isWithinRaffle(ctx context.Context, raffleID uuid.UUID) bool {
	for a, _ := ctx.Value(ctxKeyActiveRaffle).(*activeRaffle); a != nil; a = a.parent {
		if a.id == raffleID {
			return true
		}
	}
	return false
}

// activeRaffle chains the raffles whose external calls enclose a context.
type activeRaffle struct {
	id     uuid.UUID
	parent *activeRaffle
}

// commandRef identifies the command an emitted envelope belongs to.
type commandRef struct {
	name string
	key  string
}

// WithCommand attaches the command name and idempotency key so the emitted
// envelope carries them.
func WithCommand(ctx context.Context, name, idempotencyKey string) context.Context {
	return context.WithValue(ctx, ctxKeyCommand, commandRef{name: name, key: idempotencyKey})
}

// withoutCommand detaches the command from side events, such as a payment
// credited while the command itself fails.
func withoutCommand(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKeyCommand, commandRef{})
}

func commandFrom(ctx context.Context) commandRef {
	ref, _ := ctx.Value(ctxKeyCommand).(commandRef)
	return ref
}
