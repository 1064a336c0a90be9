package core

import (
	"RaffleLedger/internal/event"
	"RaffleLedger/internal/ledger"
	fpmath "RaffleLedger/internal/math"
	"RaffleLedger/internal/state"
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

// FinalizeResult reports which way Finalize went.
type FinalizeResult struct {
	Canceled       bool
	PrizeRefunded  int64
	RequestID      uint64
	Fee            int64
	ExcessRefunded int64
	ExcessCredited int64
}

// Finalize starts the draw once the raffle is sold out or past its deadline.
// Past the deadline with the minimum unmet it cancels instead, and payment is
// not collected. payment is the native amount the caller attaches for the
// oracle fee; any excess is pushed back to the caller.
func (r *Raffle) Finalize(ctx context.Context, caller uuid.UUID, payment int64) (FinalizeResult, error) {
	if err := r.lock(ctx); err != nil {
		return FinalizeResult{}, err
	}
	defer r.mu.Unlock()

	switch r.lifecycle {
	case state.RaffleStateOpen:
	case state.RaffleStateDrawing:
		return FinalizeResult{}, errors.Wrapf(state.ErrDrawingInFlight, "request %d", r.draw.Pending().RequestID)
	default:
		return FinalizeResult{}, errors.Wrapf(state.ErrInvalidState, "finalize while %s", r.lifecycle)
	}

	now := r.now()
	sold := r.entries.TotalSold()
	deadlinePassed := !now.Before(r.cfg.Deadline)

	if deadlinePassed && r.belowMinimum() {
		refunded := r.cancelLocked(ctx, now, caller, event.CancelReasonMinimumNotMet, nil)
		return FinalizeResult{Canceled: true, PrizeRefunded: refunded}, nil
	}

	soldOut := r.cfg.HasMaxEntries() && sold >= r.cfg.MaxEntries
	if !soldOut && !deadlinePassed {
		return FinalizeResult{}, errors.Wrapf(state.ErrNotEligible, "%d of %d sold before deadline", sold, r.cfg.MaxEntries)
	}
	if r.paused {
		return FinalizeResult{}, state.ErrPaused
	}
	if caller == uuid.Nil {
		return FinalizeResult{}, errors.Wrap(state.ErrInvalidAddress, "caller is required")
	}

	extCtx := r.ext(ctx)
	fee, err := r.deps.Oracle.GetFee(extCtx, r.provider)
	if err != nil {
		return FinalizeResult{}, errors.Wrapf(state.ErrOracleRequest, "fee query: %v", err)
	}
	if payment < fee {
		return FinalizeResult{}, errors.Wrapf(state.ErrInsufficientFee, "paid %d, fee %d", payment, fee)
	}

	if payment > 0 {
		if err := r.deps.Bank.Transfer(extCtx, caller, r.id, payment); err != nil {
			return FinalizeResult{}, errors.Wrapf(state.ErrPaymentFailed, "collect %d from %s: %v", payment, caller, err)
		}
	}

	requestID, err := r.deps.Oracle.RequestWithCallback(extCtx, r.id, r.provider, r.drawSeed(now, sold), fee)
	if err != nil {
		r.returnPayment(ctx, now, caller, payment)
		return FinalizeResult{}, errors.Wrapf(state.ErrOracleRequest, "request: %v", err)
	}

	req := state.DrawRequest{
		RequestID:    requestID,
		RequestedAt:  now,
		Provider:     r.provider,
		SoldSnapshot: sold,
	}
	if err := r.draw.Begin(req); err != nil {
		panic(fmt.Sprintf("FATAL: raffle %s: begin draw: %v", r.id, err))
	}
	r.soldSnapshot = sold
	r.transition(state.RaffleStateDrawing)

	result := FinalizeResult{RequestID: requestID, Fee: fee}
	var batch *ledger.Batch
	if excess := payment - fee; excess > 0 {
		batch = r.pushNative(extCtx, now, caller, excess)
		if batch != nil {
			result.ExcessCredited = excess
		} else {
			result.ExcessRefunded = excess
		}
	}

	r.commit(ctx, now, &event.DrawRequested{
		Caller:         caller,
		RequestID:      requestID,
		Provider:       r.provider,
		SoldSnapshot:   sold,
		Fee:            fee,
		Payment:        payment,
		ExcessRefunded: result.ExcessRefunded,
		ExcessCredited: result.ExcessCredited,
	}, batch)

	r.logger.Info().
		Uint64("request_id", requestID).
		Uint64("sold_snapshot", sold).
		Int64("fee", fee).
		Msg("draw requested")
	return result, nil
}

// returnPayment hands a collected payment back after the oracle refused the
// request. A recipient that refuses it gets a claimable-native credit.
func (r *Raffle) returnPayment(ctx context.Context, now time.Time, caller uuid.UUID, payment int64) {
	if payment <= 0 {
		return
	}
	batch := r.pushNative(r.ext(ctx), now, caller, payment)
	if batch == nil {
		return
	}
	r.commit(withoutCommand(ctx), now, &event.NativeCredited{
		Recipient: caller,
		Amount:    payment,
		Reason:    "oracle_request_failed",
	}, batch)
}

// pushNative pays amount from the raffle's native balance. When the recipient
// refuses it, the amount becomes claimable instead and the applied credit
// batch is returned; nil means the push succeeded.
func (r *Raffle) pushNative(extCtx context.Context, now time.Time, to uuid.UUID, amount int64) *ledger.Batch {
	err := r.deps.Bank.Transfer(extCtx, r.id, to, amount)
	if err == nil {
		return nil
	}

	r.logger.Warn().Err(err).Str("recipient", to.String()).Int64("amount", amount).
		Msg("native push refused, crediting claimable")
	if r.deps.Metrics != nil {
		r.deps.Metrics.NativeFallbacks.Inc()
	}

	batch := r.journalGen.GenerateNativeCredit(r.eventRef(), to, amount, now.UnixMicro())
	r.apply(batch)
	return batch
}

// belowMinimum: nothing to draw from, or the configured minimum was missed.
func (r *Raffle) belowMinimum() bool {
	sold := r.entries.TotalSold()
	return sold == 0 || sold < r.cfg.MinEntries
}

// drawSeed = keccak256(raffle_id || sequence || timestamp || sold).
func (r *Raffle) drawSeed(now time.Time, sold uint64) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(r.id[:])

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(r.sequence))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(now.UnixNano()))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], sold)
	h.Write(buf[:])

	var seed [32]byte
	copy(seed[:], h.Sum(nil))
	return seed
}

// ResponseOutcome is the result of delivering a randomness response.
// Rejections never mutate state and are not errors: the oracle is untrusted
// input.
type ResponseOutcome int

const (
	ResponseAccepted ResponseOutcome = iota
	ResponseRejectedUnauthorized
	ResponseRejectedStale
	ResponseRejectedProviderMismatch
	ResponseRejectedReentrant
)

func (o ResponseOutcome) String() string {
	switch o {
	case ResponseAccepted:
		return "accepted"
	case ResponseRejectedUnauthorized:
		return "unauthorized"
	case ResponseRejectedStale:
		return "stale"
	case ResponseRejectedProviderMismatch:
		return "provider_mismatch"
	case ResponseRejectedReentrant:
		return "reentrant"
	default:
		return "unknown"
	}
}

// OnResponse resolves the outstanding draw. The pending request is cleared
// before any effect is computed, so a request resolves at most once.
func (r *Raffle) OnResponse(ctx context.Context, caller uuid.UUID, requestID uint64, provider uuid.UUID, randomValue [32]byte) ResponseOutcome {
	if isWithinRaffle(ctx, r.id) {
		return r.rejectResponse(ResponseRejectedReentrant, caller, requestID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.journalGen.SetSequence(r.sequence)

	if caller != r.oracleID {
		return r.rejectResponse(ResponseRejectedUnauthorized, caller, requestID)
	}
	idMatch, providerMatch := r.draw.Matches(requestID, provider)
	if !idMatch {
		return r.rejectResponse(ResponseRejectedStale, caller, requestID)
	}
	if !providerMatch {
		return r.rejectResponse(ResponseRejectedProviderMismatch, caller, requestID)
	}

	req := r.draw.Clear()
	now := r.now()

	index := fpmath.ModUint256(randomValue, req.SoldSnapshot)
	winner, err := r.entries.FindWinner(index)
	if err != nil {
		panic(fmt.Sprintf("FATAL: raffle %s: winning index %d of %d: %v", r.id, index, req.SoldSnapshot, err))
	}

	prize := r.balanceTracker.SystemBalance(ledger.SubTypePrize, ledger.AssetCustody)
	revenue := r.balanceTracker.SystemBalance(ledger.SubTypeRevenue, ledger.AssetCustody)
	prizeFee, winnerShare := fpmath.SplitFee(prize, r.cfg.FeePercent)
	revenueFee, organizerShare := fpmath.SplitFee(revenue, r.cfg.FeePercent)

	alloc := ledger.Allocation{
		Winner:         winner,
		Organizer:      r.cfg.Organizer,
		FeeRecipient:   r.cfg.FeeRecipient,
		WinnerShare:    winnerShare,
		OrganizerShare: organizerShare,
		PrizeFee:       prizeFee,
		RevenueFee:     revenueFee,
	}
	batch, err := r.journalGen.GenerateResolution(r.eventRef(), alloc, now.UnixMicro())
	if err != nil {
		panic(fmt.Sprintf("FATAL: raffle %s: resolution: %v", r.id, err))
	}
	r.apply(batch)

	r.winner = &winner
	r.winningIndex = index
	r.transition(state.RaffleStateCompleted)

	if r.deps.Metrics != nil {
		r.deps.Metrics.DrawLatency.Observe(now.Sub(req.RequestedAt).Seconds())
	}

	r.commit(ctx, now, &event.DrawResolved{
		RequestID:      requestID,
		RandomValue:    hex.EncodeToString(randomValue[:]),
		WinningIndex:   index,
		Winner:         winner,
		WinnerShare:    winnerShare,
		OrganizerShare: organizerShare,
		FeeShare:       alloc.FeeShare(),
	}, batch)

	r.logger.Info().
		Uint64("request_id", requestID).
		Uint64("winning_index", index).
		Str("winner", winner.String()).
		Msg("draw resolved")
	return ResponseAccepted
}

func (r *Raffle) rejectResponse(outcome ResponseOutcome, caller uuid.UUID, requestID uint64) ResponseOutcome {
	r.logger.Warn().
		Str("reason", outcome.String()).
		Str("caller", caller.String()).
		Uint64("request_id", requestID).
		Msg("randomness response ignored")
	if r.deps.Metrics != nil {
		r.deps.Metrics.ResponsesRejected.WithLabelValues(outcome.String()).Inc()
	}
	return outcome
}

// EmergencyCancel abandons a draw whose response never arrived. The
// administrator and organizer may do so after AdminGracePeriod, anyone else
// after PublicGracePeriod.
func (r *Raffle) EmergencyCancel(ctx context.Context, caller uuid.UUID) (int64, error) {
	if err := r.lock(ctx); err != nil {
		return 0, err
	}
	defer r.mu.Unlock()

	if r.lifecycle != state.RaffleStateDrawing {
		return 0, errors.Wrapf(state.ErrInvalidState, "emergency cancel while %s", r.lifecycle)
	}

	privileged := caller == r.admin || caller == r.cfg.Organizer
	now := r.now()
	if !r.draw.GraceElapsed(now, privileged) {
		opensAt := r.draw.Pending().RequestedAt.Add(state.GracePeriodFor(privileged))
		return 0, errors.Wrapf(state.ErrGracePeriodActive, "opens at %s", opensAt.Format(time.RFC3339))
	}

	req := r.draw.Clear()
	abandoned := req.RequestID
	refunded := r.cancelLocked(ctx, now, caller, event.CancelReasonEmergency, &abandoned)

	r.logger.Warn().Uint64("request_id", abandoned).Str("caller", caller.String()).Msg("draw abandoned")
	return refunded, nil
}
