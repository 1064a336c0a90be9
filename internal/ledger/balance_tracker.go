package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances for one raffle.
// Reserved and claimable totals per asset are kept incrementally so solvency
// checks never scan the account map.
type BalanceTracker struct {
	balances       map[AccountKey]int64
	reserved       map[AssetID]int64
	claimableTotal map[AssetID]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances:       make(map[AccountKey]int64),
		reserved:       make(map[AssetID]int64),
		claimableTotal: make(map[AssetID]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.adjust(j.DebitAccount, j.Amount)
	bt.adjust(j.CreditAccount, -j.Amount)
}

func (bt *BalanceTracker) adjust(key AccountKey, delta int64) {
	bt.balances[key] += delta
	if bt.balances[key] == 0 {
		delete(bt.balances, key)
	}
	if key.IsLiability() {
		bt.reserved[key.AssetID] += delta
	}
	if key.Scope == AccountScopeUser && key.SubType == SubTypeClaimable {
		bt.claimableTotal[key.AssetID] += delta
	}
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// RevertBatch undoes a previously applied batch. Used to compensate when the
// external interaction that followed the ledger update failed.
func (bt *BalanceTracker) RevertBatch(batch *Batch) {
	for i := len(batch.Journals) - 1; i >= 0; i-- {
		j := batch.Journals[i]
		bt.adjust(j.DebitAccount, -j.Amount)
		bt.adjust(j.CreditAccount, j.Amount)
	}
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// SetBalance overwrites one balance. Only used on snapshot restore.
func (bt *BalanceTracker) SetBalance(key AccountKey, balance int64) {
	bt.adjust(key, balance-bt.balances[key])
}

// === Liability Queries ===

// Reserved returns the sum of all liabilities in an asset.
func (bt *BalanceTracker) Reserved(assetID AssetID) int64 {
	return bt.reserved[assetID]
}

// Claimable returns a participant's pending payout.
func (bt *BalanceTracker) Claimable(userID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewClaimableKey(userID, assetID))
}

// TotalClaimable returns the sum of all participants' claimable balances.
func (bt *BalanceTracker) TotalClaimable(assetID AssetID) int64 {
	return bt.claimableTotal[assetID]
}

// SystemBalance returns the raffle's prize or revenue liability.
func (bt *BalanceTracker) SystemBalance(subType AccountSubType, assetID AssetID) int64 {
	return bt.GetBalance(NewSystemAccountKey(subType, assetID))
}

// ClaimableAccounts returns every non-zero claimable balance in an asset.
func (bt *BalanceTracker) ClaimableAccounts(assetID AssetID) map[uuid.UUID]int64 {
	out := make(map[uuid.UUID]int64)
	for key, balance := range bt.balances {
		if key.Scope == AccountScopeUser && key.SubType == SubTypeClaimable && key.AssetID == assetID {
			out[key.UserID()] = balance
		}
	}
	return out
}

// === Invariant Checks ===

// ValidateSufficientClaimable checks a withdrawal against the claimable balance
func (bt *BalanceTracker) ValidateSufficientClaimable(userID uuid.UUID, assetID AssetID, required int64) error {
	claimable := bt.Claimable(userID, assetID)
	if claimable < required {
		return fmt.Errorf("insufficient claimable balance: have=%d, need=%d", claimable, required)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
