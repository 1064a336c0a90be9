// Package sim provides in-memory collaborators used by tests and by the
// service in development mode.
package sim

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrRecipientRejects      = errors.New("recipient does not accept funds")
)

// TransferHook runs inside a transfer after balances moved. Returning an
// error rolls the transfer back.
type TransferHook func(ctx context.Context, sender, recipient uuid.UUID, amount int64) error

// Token is a mutex-guarded custody token with allowances.
type Token struct {
	mu         sync.Mutex
	decimals   uint8
	balances   map[uuid.UUID]int64
	allowances map[uuid.UUID]map[uuid.UUID]int64 // owner -> spender -> amount
	failing    map[uuid.UUID]bool

	onTransfer TransferHook
}

func NewToken(decimals uint8) *Token {
	return &Token{
		decimals:   decimals,
		balances:   make(map[uuid.UUID]int64),
		allowances: make(map[uuid.UUID]map[uuid.UUID]int64),
		failing:    make(map[uuid.UUID]bool),
	}
}

func (t *Token) Decimals(ctx context.Context) (uint8, error) {
	return t.decimals, nil
}

func (t *Token) BalanceOf(ctx context.Context, owner uuid.UUID) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[owner], nil
}

// Mint credits amount to owner out of thin air.
func (t *Token) Mint(owner uuid.UUID, amount int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[owner] += amount
}

// EnsureBalance mints whatever owner lacks to hold at least amount and
// returns the minted shortfall.
func (t *Token) EnsureBalance(owner uuid.UUID, amount int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	short := amount - t.balances[owner]
	if short <= 0 {
		return 0
	}
	t.balances[owner] += short
	return short
}

// Approve sets spender's allowance over owner's balance.
func (t *Token) Approve(owner, spender uuid.UUID, amount int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[uuid.UUID]int64)
	}
	t.allowances[owner][spender] = amount
}

// FailTransfersTo makes every transfer to recipient fail.
func (t *Token) FailTransfersTo(recipient uuid.UUID, fail bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failing[recipient] = fail
}

// SetTransferHook installs a hook that runs during every transfer.
func (t *Token) SetTransferHook(hook TransferHook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTransfer = hook
}

func (t *Token) TransferFrom(ctx context.Context, spender, owner, recipient uuid.UUID, amount int64) error {
	if amount == 0 {
		return nil
	}

	t.mu.Lock()
	allowed := t.allowances[owner][spender]
	if allowed < amount {
		t.mu.Unlock()
		return errors.Wrapf(ErrInsufficientAllowance, "spender %s allowed %d, needs %d", spender, allowed, amount)
	}
	if err := t.moveLocked(owner, recipient, amount); err != nil {
		t.mu.Unlock()
		return err
	}
	t.allowances[owner][spender] = allowed - amount
	t.mu.Unlock()

	if err := t.runHook(ctx, owner, recipient, amount); err != nil {
		t.mu.Lock()
		t.balances[recipient] -= amount
		t.balances[owner] += amount
		t.allowances[owner][spender] += amount
		t.mu.Unlock()
		return err
	}
	return nil
}

func (t *Token) Transfer(ctx context.Context, sender, recipient uuid.UUID, amount int64) error {
	t.mu.Lock()
	if err := t.moveLocked(sender, recipient, amount); err != nil {
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()

	if err := t.runHook(ctx, sender, recipient, amount); err != nil {
		t.mu.Lock()
		t.balances[recipient] -= amount
		t.balances[sender] += amount
		t.mu.Unlock()
		return err
	}
	return nil
}

func (t *Token) moveLocked(sender, recipient uuid.UUID, amount int64) error {
	if amount < 0 {
		return errors.Errorf("negative transfer amount %d", amount)
	}
	if t.failing[recipient] {
		return errors.Wrapf(ErrRecipientRejects, "token recipient %s", recipient)
	}
	if t.balances[sender] < amount {
		return errors.Wrapf(ErrInsufficientBalance, "token holder %s has %d, needs %d", sender, t.balances[sender], amount)
	}
	t.balances[sender] -= amount
	t.balances[recipient] += amount
	return nil
}

// runHook is called without the lock so the hook may re-enter the token.
func (t *Token) runHook(ctx context.Context, sender, recipient uuid.UUID, amount int64) error {
	t.mu.Lock()
	hook := t.onTransfer
	t.mu.Unlock()
	if hook == nil {
		return nil
	}
	return hook(ctx, sender, recipient, amount)
}
