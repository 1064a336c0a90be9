package core

import (
	"RaffleLedger/internal/event"
	"RaffleLedger/internal/ledger"
	fpmath "RaffleLedger/internal/math"
	"RaffleLedger/internal/state"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// cancelLocked moves the raffle to Canceled, freezes the sold count and
// credits the prize back to the organizer. The prize refund happens at most
// once per raffle. Returns the amount refunded by this call.
func (r *Raffle) cancelLocked(ctx context.Context, now time.Time, caller uuid.UUID, reason string, abandoned *uint64) int64 {
	r.soldSnapshot = r.entries.TotalSold()
	r.transition(state.RaffleStateCanceled)

	var batch *ledger.Batch
	var refunded int64
	if !r.prizeRefunded {
		b, err := r.journalGen.GeneratePrizeRefund(r.eventRef(), r.cfg.Organizer, now.UnixMicro())
		if err != nil {
			panic(fmt.Sprintf("FATAL: raffle %s: prize refund: %v", r.id, err))
		}
		r.apply(b)
		r.prizeRefunded = true
		batch = b
		refunded = b.Total(ledger.JournalTypePrizeRefund)
	}

	r.commit(ctx, now, &event.RaffleCanceled{
		Caller:             caller,
		Reason:             reason,
		SoldSnapshot:       r.soldSnapshot,
		PrizeRefunded:      refunded,
		AbandonedRequestID: abandoned,
	}, batch)

	r.logger.Info().Str("reason", reason).Uint64("sold", r.soldSnapshot).Msg("raffle canceled")
	return refunded
}

// CancelExpired cancels an open raffle whose deadline passed with the
// minimum entries unmet. Anyone may call it.
func (r *Raffle) CancelExpired(ctx context.Context, caller uuid.UUID) (int64, error) {
	if err := r.lock(ctx); err != nil {
		return 0, err
	}
	defer r.mu.Unlock()

	if r.lifecycle != state.RaffleStateOpen {
		return 0, errors.Wrapf(state.ErrInvalidState, "cancel while %s", r.lifecycle)
	}
	now := r.now()
	if now.Before(r.cfg.Deadline) {
		return 0, errors.Wrapf(state.ErrDeadlineNotPassed, "deadline %s", r.cfg.Deadline)
	}
	if !r.belowMinimum() {
		return 0, errors.Wrapf(state.ErrMinimumReached, "%d sold, minimum %d", r.entries.TotalSold(), r.cfg.MinEntries)
	}

	return r.cancelLocked(ctx, now, caller, event.CancelReasonMinimumNotMet, nil), nil
}

// ClaimRefund credits a buyer's paid-in amount after cancellation. The
// purchase record is zeroed so the refund cannot be claimed twice. The
// credit is paid out through Withdraw.
func (r *Raffle) ClaimRefund(ctx context.Context, buyer uuid.UUID) (int64, error) {
	if err := r.lock(ctx); err != nil {
		return 0, err
	}
	defer r.mu.Unlock()

	if r.lifecycle != state.RaffleStateCanceled {
		return 0, errors.Wrapf(state.ErrInvalidState, "refund while %s", r.lifecycle)
	}
	owned := r.entries.Owned(buyer)
	if owned == 0 {
		return 0, errors.Wrapf(state.ErrNothingToClaim, "no entries for %s", buyer)
	}
	amount, ok := fpmath.CheckedMul(r.cfg.EntryPrice, int64(owned))
	if !ok {
		return 0, errors.Wrapf(state.ErrAmountOverflow, "%d entries at %d", owned, r.cfg.EntryPrice)
	}

	now := r.now()
	batch, err := r.journalGen.GeneratePurchaseRefund(r.eventRef(), buyer, amount, now.UnixMicro())
	if err != nil {
		panic(fmt.Sprintf("FATAL: raffle %s: purchase refund: %v", r.id, err))
	}
	r.entries.ClearOwned(buyer)
	r.apply(batch)

	r.commit(ctx, now, &event.RefundClaimed{
		Buyer:   buyer,
		Entries: owned,
		Amount:  amount,
	}, batch)
	return amount, nil
}

// Withdraw pays out caller's custody claimable balance. The balance is zeroed
// before the transfer; a failed transfer restores it.
func (r *Raffle) Withdraw(ctx context.Context, caller uuid.UUID) (int64, error) {
	if err := r.lock(ctx); err != nil {
		return 0, err
	}
	defer r.mu.Unlock()

	amount := r.balanceTracker.Claimable(caller, ledger.AssetCustody)
	if amount <= 0 {
		return 0, errors.Wrapf(state.ErrNothingToClaim, "no custody balance for %s", caller)
	}

	now := r.now()
	batch := r.dischargeClaimable(now, caller, ledger.AssetCustody, amount)

	if err := r.deps.Token.Transfer(r.ext(ctx), r.id, caller, amount); err != nil {
		r.balanceTracker.RevertBatch(batch)
		return 0, errors.Wrapf(state.ErrPaymentFailed, "transfer %d to %s: %v", amount, caller, err)
	}

	r.commit(ctx, now, &event.ClaimWithdrawn{
		Recipient: caller,
		Amount:    amount,
	}, batch)
	return amount, nil
}

// WithdrawNative pays caller's credited native balance to any address they
// nominate.
func (r *Raffle) WithdrawNative(ctx context.Context, caller, to uuid.UUID) (int64, error) {
	if err := r.lock(ctx); err != nil {
		return 0, err
	}
	defer r.mu.Unlock()

	if to == uuid.Nil {
		return 0, errors.Wrap(state.ErrInvalidAddress, "destination is required")
	}
	amount := r.balanceTracker.Claimable(caller, ledger.AssetNative)
	if amount <= 0 {
		return 0, errors.Wrapf(state.ErrNothingToClaim, "no native balance for %s", caller)
	}

	now := r.now()
	batch := r.dischargeClaimable(now, caller, ledger.AssetNative, amount)

	if err := r.deps.Bank.Transfer(r.ext(ctx), r.id, to, amount); err != nil {
		r.balanceTracker.RevertBatch(batch)
		return 0, errors.Wrapf(state.ErrPaymentFailed, "native transfer %d to %s: %v", amount, to, err)
	}

	r.commit(ctx, now, &event.NativeWithdrawn{
		Claimant: caller,
		To:       to,
		Amount:   amount,
	}, batch)
	return amount, nil
}

// dischargeClaimable zeroes a claimable balance ahead of the external payment.
// Reserved funds that cannot cover it mean the ledger is corrupt.
func (r *Raffle) dischargeClaimable(now time.Time, claimant uuid.UUID, assetID ledger.AssetID, amount int64) *ledger.Batch {
	if err := r.validator.ValidateWithdrawable(assetID, amount); err != nil {
		panic(fmt.Sprintf("FATAL: raffle %s: accounting mismatch: %v", r.id, err))
	}
	batch, err := r.journalGen.GenerateWithdrawal(r.eventRef(), claimant, assetID, amount, now.UnixMicro())
	if err != nil {
		panic(fmt.Sprintf("FATAL: raffle %s: accounting mismatch: %v", r.id, err))
	}
	r.apply(batch)
	return batch
}
