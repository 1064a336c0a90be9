package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the ledger is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}

// ValidateLiabilitiesNonNegative verifies no liability account went negative.
func (v *InvariantValidator) ValidateLiabilitiesNonNegative() error {
	for key := range v.tracker.balances {
		if !key.IsLiability() {
			continue
		}
		if err := v.tracker.ValidateNonNegative(key); err != nil {
			return err
		}
	}
	return nil
}

// ValidateSolvency verifies the externally held balance covers every
// recorded liability in that asset.
func (v *InvariantValidator) ValidateSolvency(assetID AssetID, held int64) error {
	reserved := v.tracker.Reserved(assetID)
	if held < reserved {
		assetName, _ := GetAssetName(assetID)
		return fmt.Errorf("%s held %d below reserved %d", assetName, held, reserved)
	}
	return nil
}

// ValidateWithdrawable verifies a payout can be discharged from reserved
// funds without underflow.
func (v *InvariantValidator) ValidateWithdrawable(assetID AssetID, amount int64) error {
	reserved := v.tracker.Reserved(assetID)
	if amount > reserved {
		assetName, _ := GetAssetName(assetID)
		return fmt.Errorf("withdrawal of %d %s exceeds reserved %d", amount, assetName, reserved)
	}
	return nil
}

// Surplus returns the strict excess of held over reserved, or zero.
func (v *InvariantValidator) Surplus(assetID AssetID, held int64) int64 {
	excess := held - v.tracker.Reserved(assetID)
	if excess < 0 {
		return 0
	}
	return excess
}
