package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches for raffle operations.
// Money enters through external:deposits and leaves through
// external:withdrawals; everything in between is a liability.
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

// SetSequence aligns the generator with the raffle's event sequence.
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

// NewBatch starts an empty batch stamped with the current sequence.
func (jg *JournalGenerator) NewBatch(eventRef string, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 2),
	}
}

// add appends one entry; zero amounts are skipped so callers can pass
// floor-rounded shares without special-casing them.
func (jg *JournalGenerator) add(batch *Batch, debit, credit AccountKey, amount int64, jt JournalType) {
	if amount == 0 {
		return
	}
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		EventRef:      batch.EventRef,
		Sequence:      batch.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       debit.AssetID,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     batch.Timestamp,
	})
}

// GenerateFundPrize records the deposited prize as a liability.
// Moves funds: external:deposits → system:prize
func (jg *JournalGenerator) GenerateFundPrize(eventRef string, amount int64, timestamp int64) *Batch {
	batch := jg.NewBatch(eventRef, timestamp)
	jg.add(batch,
		NewSystemAccountKey(SubTypePrize, AssetCustody),
		NewExternalAccountKey(SubTypeExternalDeposits, AssetCustody),
		amount, JournalTypeFundPrize)
	return batch
}

// GeneratePurchase records entry revenue.
// Moves funds: external:deposits → system:revenue
func (jg *JournalGenerator) GeneratePurchase(eventRef string, cost int64, timestamp int64) *Batch {
	batch := jg.NewBatch(eventRef, timestamp)
	jg.add(batch,
		NewSystemAccountKey(SubTypeRevenue, AssetCustody),
		NewExternalAccountKey(SubTypeExternalDeposits, AssetCustody),
		cost, JournalTypePurchase)
	return batch
}

// Allocation is the outcome of a resolved draw.
type Allocation struct {
	Winner         uuid.UUID
	Organizer      uuid.UUID
	FeeRecipient   uuid.UUID
	WinnerShare    int64 // prize minus prize fee
	OrganizerShare int64 // revenue minus revenue fee
	PrizeFee       int64
	RevenueFee     int64
}

// FeeShare is the fee recipient's total.
func (a Allocation) FeeShare() int64 {
	return a.PrizeFee + a.RevenueFee
}

// GenerateResolution moves prize and revenue into claimable balances.
// Pre-check: shares must exactly drain the prize and revenue accounts.
func (jg *JournalGenerator) GenerateResolution(eventRef string, alloc Allocation, timestamp int64) (*Batch, error) {
	prize := jg.balanceTracker.SystemBalance(SubTypePrize, AssetCustody)
	revenue := jg.balanceTracker.SystemBalance(SubTypeRevenue, AssetCustody)

	if alloc.WinnerShare+alloc.PrizeFee != prize {
		return nil, fmt.Errorf("prize split %d+%d does not equal prize %d", alloc.WinnerShare, alloc.PrizeFee, prize)
	}
	if alloc.OrganizerShare+alloc.RevenueFee != revenue {
		return nil, fmt.Errorf("revenue split %d+%d does not equal revenue %d", alloc.OrganizerShare, alloc.RevenueFee, revenue)
	}

	prizeKey := NewSystemAccountKey(SubTypePrize, AssetCustody)
	revenueKey := NewSystemAccountKey(SubTypeRevenue, AssetCustody)
	feeKey := NewClaimableKey(alloc.FeeRecipient, AssetCustody)

	batch := jg.NewBatch(eventRef, timestamp)
	jg.add(batch, NewClaimableKey(alloc.Winner, AssetCustody), prizeKey, alloc.WinnerShare, JournalTypeWinnerAllocation)
	jg.add(batch, feeKey, prizeKey, alloc.PrizeFee, JournalTypeFeeAllocation)
	jg.add(batch, NewClaimableKey(alloc.Organizer, AssetCustody), revenueKey, alloc.OrganizerShare, JournalTypeOrganizerAllocation)
	jg.add(batch, feeKey, revenueKey, alloc.RevenueFee, JournalTypeFeeAllocation)

	return batch, nil
}

// GeneratePrizeRefund returns the undistributed prize to the organizer.
// Moves funds: system:prize → user:claimable
func (jg *JournalGenerator) GeneratePrizeRefund(eventRef string, organizer uuid.UUID, timestamp int64) (*Batch, error) {
	prize := jg.balanceTracker.SystemBalance(SubTypePrize, AssetCustody)
	if prize <= 0 {
		return nil, fmt.Errorf("no prize to refund: %d", prize)
	}

	batch := jg.NewBatch(eventRef, timestamp)
	jg.add(batch,
		NewClaimableKey(organizer, AssetCustody),
		NewSystemAccountKey(SubTypePrize, AssetCustody),
		prize, JournalTypePrizeRefund)
	return batch, nil
}

// GeneratePurchaseRefund returns a buyer's paid-in amount after cancellation.
// Moves funds: system:revenue → user:claimable
func (jg *JournalGenerator) GeneratePurchaseRefund(eventRef string, buyer uuid.UUID, amount int64, timestamp int64) (*Batch, error) {
	revenue := jg.balanceTracker.SystemBalance(SubTypeRevenue, AssetCustody)
	if amount > revenue {
		return nil, fmt.Errorf("refund %d exceeds recorded revenue %d", amount, revenue)
	}

	batch := jg.NewBatch(eventRef, timestamp)
	jg.add(batch,
		NewClaimableKey(buyer, AssetCustody),
		NewSystemAccountKey(SubTypeRevenue, AssetCustody),
		amount, JournalTypePurchaseRefund)
	return batch, nil
}

// GenerateWithdrawal discharges a claimable balance.
// Moves funds: user:claimable → external:withdrawals
func (jg *JournalGenerator) GenerateWithdrawal(
	eventRef string,
	userID uuid.UUID,
	assetID AssetID,
	amount int64,
	timestamp int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientClaimable(userID, assetID, amount); err != nil {
		return nil, fmt.Errorf("withdrawal pre-check failed: %w", err)
	}

	jt := JournalTypeWithdrawal
	if assetID == AssetNative {
		jt = JournalTypeNativeWithdrawal
	}

	batch := jg.NewBatch(eventRef, timestamp)
	jg.add(batch,
		NewExternalAccountKey(SubTypeExternalWithdrawals, assetID),
		NewClaimableKey(userID, assetID),
		amount, jt)
	return batch, nil
}

// GenerateNativeCredit records a failed native push payment as claimable.
// Moves funds: external:deposits → user:claimable (native)
func (jg *JournalGenerator) GenerateNativeCredit(eventRef string, userID uuid.UUID, amount int64, timestamp int64) *Batch {
	batch := jg.NewBatch(eventRef, timestamp)
	jg.add(batch,
		NewClaimableKey(userID, AssetNative),
		NewExternalAccountKey(SubTypeExternalDeposits, AssetNative),
		amount, JournalTypeNativeCredit)
	return batch
}
