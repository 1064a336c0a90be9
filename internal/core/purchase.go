package core

import (
	"RaffleLedger/internal/event"
	fpmath "RaffleLedger/internal/math"
	"RaffleLedger/internal/state"
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ActivateFunding opens the raffle once the depositor has moved the prize
// into the raffle's custody balance. Allowed once.
func (r *Raffle) ActivateFunding(ctx context.Context, caller uuid.UUID) error {
	if err := r.lock(ctx); err != nil {
		return err
	}
	defer r.mu.Unlock()

	if caller != r.admin {
		return errors.Wrapf(state.ErrNotDepositor, "caller %s", caller)
	}
	if r.lifecycle != state.RaffleStateFundingPending {
		return errors.Wrapf(state.ErrAlreadyFunded, "raffle is %s", r.lifecycle)
	}

	held, err := r.deps.Token.BalanceOf(r.ext(ctx), r.id)
	if err != nil {
		return errors.Wrapf(state.ErrCustodyFailure, "balance query: %v", err)
	}
	if held < r.cfg.PrizeAmount {
		return errors.Wrapf(state.ErrInsufficientPrize, "held %d, prize %d", held, r.cfg.PrizeAmount)
	}

	now := r.now()
	batch := r.journalGen.GenerateFundPrize(r.eventRef(), r.cfg.PrizeAmount, now.UnixMicro())
	r.apply(batch)
	r.transition(state.RaffleStateOpen)

	r.commit(ctx, now, &event.FundingActivated{
		Depositor:   caller,
		PrizeAmount: r.cfg.PrizeAmount,
		CustodyHeld: held,
	}, batch)

	r.logger.Info().Int64("prize", r.cfg.PrizeAmount).Msg("raffle open")
	return nil
}

// Purchase buys count entries for buyer at the configured price and returns
// the new cumulative total. The cost is pulled from the buyer through the
// allowance granted to the raffle before any state changes.
func (r *Raffle) Purchase(ctx context.Context, buyer uuid.UUID, count uint64) (uint64, error) {
	if err := r.lock(ctx); err != nil {
		return 0, err
	}
	defer r.mu.Unlock()

	if buyer == uuid.Nil {
		return 0, errors.Wrap(state.ErrInvalidAddress, "buyer is required")
	}
	if r.paused {
		return 0, state.ErrPaused
	}
	if r.lifecycle != state.RaffleStateOpen {
		return 0, errors.Wrapf(state.ErrInvalidState, "purchase while %s", r.lifecycle)
	}

	now := r.now()
	if !now.Before(r.cfg.Deadline) {
		return 0, errors.Wrapf(state.ErrDeadlinePassed, "deadline %s", r.cfg.Deadline)
	}
	if count == 0 {
		return 0, state.ErrZeroCount
	}
	if count > state.MaxEntriesPerPurchase {
		return 0, errors.Wrapf(state.ErrBatchTooLarge, "%d > %d", count, state.MaxEntriesPerPurchase)
	}
	if buyer == r.cfg.Organizer {
		return 0, state.ErrOrganizerCannotBuy
	}
	if r.cfg.MinPurchaseEntries > 0 && count < r.cfg.MinPurchaseEntries {
		return 0, errors.Wrapf(state.ErrBelowMinPurchase, "%d < %d", count, r.cfg.MinPurchaseEntries)
	}

	newTotal := r.entries.TotalSold() + count
	if r.cfg.HasMaxEntries() && newTotal > r.cfg.MaxEntries {
		return 0, errors.Wrapf(state.ErrSoldOut, "%d would exceed max %d", newTotal, r.cfg.MaxEntries)
	}
	if newTotal > state.HardCapEntries {
		return 0, errors.Wrapf(state.ErrHardCapExceeded, "%d would exceed %d", newTotal, state.HardCapEntries)
	}

	cost, ok := fpmath.CheckedMul(r.cfg.EntryPrice, int64(count))
	if !ok {
		return 0, errors.Wrapf(state.ErrAmountOverflow, "%d entries at %d", count, r.cfg.EntryPrice)
	}
	newRange := !r.entries.ExtendsLast(buyer)
	if newRange && r.cfg.MinNewRangeCost > 0 && cost < r.cfg.MinNewRangeCost {
		return 0, errors.Wrapf(state.ErrBelowMinRangeCost, "cost %d < %d", cost, r.cfg.MinNewRangeCost)
	}

	if err := r.deps.Token.TransferFrom(r.ext(ctx), r.id, buyer, r.id, cost); err != nil {
		return 0, errors.Wrapf(state.ErrCustodyFailure, "pull %d from %s: %v", cost, buyer, err)
	}

	batch := r.journalGen.GeneratePurchase(r.eventRef(), cost, now.UnixMicro())
	r.apply(batch)
	total := r.entries.Append(buyer, count)

	r.commit(ctx, now, &event.EntriesPurchased{
		Buyer:     buyer,
		Count:     count,
		Cost:      cost,
		TotalSold: total,
		NewRange:  newRange,
	}, batch)

	return total, nil
}
