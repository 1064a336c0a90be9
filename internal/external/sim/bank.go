package sim

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Bank is a mutex-guarded native-asset ledger. Recipients marked as
// rejecting refuse incoming transfers, like a contract without a payable
// fallback.
type Bank struct {
	mu        sync.Mutex
	balances  map[uuid.UUID]int64
	rejecting map[uuid.UUID]bool

	onTransfer TransferHook
}

func NewBank() *Bank {
	return &Bank{
		balances:  make(map[uuid.UUID]int64),
		rejecting: make(map[uuid.UUID]bool),
	}
}

func (b *Bank) BalanceOf(ctx context.Context, owner uuid.UUID) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[owner], nil
}

func (b *Bank) Mint(owner uuid.UUID, amount int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[owner] += amount
}

// EnsureBalance mints whatever owner lacks to hold at least amount and
// returns the minted shortfall.
func (b *Bank) EnsureBalance(owner uuid.UUID, amount int64) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	short := amount - b.balances[owner]
	if short <= 0 {
		return 0
	}
	b.balances[owner] += short
	return short
}

// RejectIncoming toggles whether recipient refuses native transfers.
func (b *Bank) RejectIncoming(recipient uuid.UUID, reject bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejecting[recipient] = reject
}

func (b *Bank) SetTransferHook(hook TransferHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTransfer = hook
}

func (b *Bank) Transfer(ctx context.Context, sender, recipient uuid.UUID, amount int64) error {
	b.mu.Lock()
	if amount < 0 {
		b.mu.Unlock()
		return errors.Errorf("negative transfer amount %d", amount)
	}
	if b.rejecting[recipient] {
		b.mu.Unlock()
		return errors.Wrapf(ErrRecipientRejects, "native recipient %s", recipient)
	}
	if b.balances[sender] < amount {
		have := b.balances[sender]
		b.mu.Unlock()
		return errors.Wrapf(ErrInsufficientBalance, "native holder %s has %d, needs %d", sender, have, amount)
	}
	b.balances[sender] -= amount
	b.balances[recipient] += amount
	hook := b.onTransfer
	b.mu.Unlock()

	if hook == nil {
		return nil
	}
	if err := hook(ctx, sender, recipient, amount); err != nil {
		b.mu.Lock()
		b.balances[recipient] -= amount
		b.balances[sender] += amount
		b.mu.Unlock()
		return err
	}
	return nil
}
