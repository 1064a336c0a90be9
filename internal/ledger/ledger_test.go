package ledger_test

import (
	"RaffleLedger/internal/ledger"
	"testing"

	"github.com/google/uuid"
)

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	userID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	key := ledger.NewClaimableKey(userID, ledger.AssetCustody)

	path := key.AccountPath()
	expected := "user:550e8400-e29b-41d4-a716-446655440000:claimable:CUSTODY"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
	if !key.IsLiability() {
		t.Error("claimable accounts are liabilities")
	}
}

func TestAccountKey_SystemPath(t *testing.T) {
	key := ledger.NewSystemAccountKey(ledger.SubTypePrize, ledger.AssetCustody)

	if path := key.AccountPath(); path != "system:prize:CUSTODY" {
		t.Errorf("got %q, want %q", path, "system:prize:CUSTODY")
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	key := ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, ledger.AssetNative)

	if path := key.AccountPath(); path != "external:deposits:NATIVE" {
		t.Errorf("got %q, want %q", path, "external:deposits:NATIVE")
	}
	if key.IsLiability() {
		t.Error("external accounts are not liabilities")
	}
}

func TestGetAssetID(t *testing.T) {
	id, ok := ledger.GetAssetID("CUSTODY")
	if !ok || id != ledger.AssetCustody {
		t.Fatalf("CUSTODY: got (%d, %v)", id, ok)
	}
	if _, ok := ledger.GetAssetID("DOGE"); ok {
		t.Error("DOGE should not be a known asset")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_PurchaseIncreasesReserved(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(0, bt)

	if err := bt.ApplyBatch(jg.GenerateFundPrize("fund", 1000, 1)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := bt.ApplyBatch(jg.GeneratePurchase("buy", 6, 2)); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	if got := bt.Reserved(ledger.AssetCustody); got != 1006 {
		t.Errorf("reserved: got %d, want 1006", got)
	}
	if got := bt.SystemBalance(ledger.SubTypeRevenue, ledger.AssetCustody); got != 6 {
		t.Errorf("revenue: got %d, want 6", got)
	}
}

func TestBalanceTracker_GlobalBalanceZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(0, bt)
	v := ledger.NewInvariantValidator(bt)
	buyer := uuid.New()

	batches := []*ledger.Batch{
		jg.GenerateFundPrize("fund", 1000, 1),
		jg.GeneratePurchase("buy", 30, 2),
		jg.GenerateNativeCredit("credit", buyer, 77, 3),
	}
	for _, b := range batches {
		if err := bt.ApplyBatch(b); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("global balance: %v", err)
	}
	if got := bt.TotalClaimable(ledger.AssetNative); got != 77 {
		t.Errorf("claimable native: got %d, want 77", got)
	}
	if got := bt.Reserved(ledger.AssetNative); got != 77 {
		t.Errorf("reserved native: got %d, want 77", got)
	}
}

func TestBalanceTracker_RevertBatchRestoresState(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(0, bt)
	winner := uuid.New()

	if err := bt.ApplyBatch(jg.GenerateNativeCredit("credit", winner, 50, 1)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	before := bt.Snapshot()

	wd, err := jg.GenerateWithdrawal("wd", winner, ledger.AssetNative, 50, 2)
	if err != nil {
		t.Fatalf("withdrawal: %v", err)
	}
	if err := bt.ApplyBatch(wd); err != nil {
		t.Fatalf("apply withdrawal: %v", err)
	}
	if bt.Claimable(winner, ledger.AssetNative) != 0 {
		t.Fatal("claimable should be zero after withdrawal")
	}

	bt.RevertBatch(wd)

	after := bt.Snapshot()
	if len(after) != len(before) {
		t.Fatalf("snapshot size: got %d, want %d", len(after), len(before))
	}
	for k, v := range before {
		if after[k] != v {
			t.Errorf("%s: got %d, want %d", k.AccountPath(), after[k], v)
		}
	}
	if bt.Reserved(ledger.AssetNative) != 50 {
		t.Errorf("reserved native: got %d, want 50", bt.Reserved(ledger.AssetNative))
	}
}

func TestBalanceTracker_SetBalanceKeepsTotals(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	user := uuid.New()

	bt.SetBalance(ledger.NewClaimableKey(user, ledger.AssetCustody), 40)
	bt.SetBalance(ledger.NewSystemAccountKey(ledger.SubTypePrize, ledger.AssetCustody), 60)
	bt.SetBalance(ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, ledger.AssetCustody), -100)

	if got := bt.Reserved(ledger.AssetCustody); got != 100 {
		t.Errorf("reserved: got %d, want 100", got)
	}
	if got := bt.TotalClaimable(ledger.AssetCustody); got != 40 {
		t.Errorf("claimable: got %d, want 40", got)
	}

	bt.SetBalance(ledger.NewClaimableKey(user, ledger.AssetCustody), 10)
	if got := bt.TotalClaimable(ledger.AssetCustody); got != 10 {
		t.Errorf("claimable after overwrite: got %d, want 10", got)
	}
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func TestGenerateResolution_ScenarioB(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(0, bt)
	winner, organizer, feeRecipient := uuid.New(), uuid.New(), uuid.New()

	bt.ApplyBatch(jg.GenerateFundPrize("fund", 1000, 1))
	bt.ApplyBatch(jg.GeneratePurchase("buy", 6, 2))

	alloc := ledger.Allocation{
		Winner:         winner,
		Organizer:      organizer,
		FeeRecipient:   feeRecipient,
		WinnerShare:    900,
		PrizeFee:       100,
		OrganizerShare: 6,
		RevenueFee:     0,
	}
	batch, err := jg.GenerateResolution("draw", alloc, 3)
	if err != nil {
		t.Fatalf("resolution: %v", err)
	}
	// Zero revenue fee produces no journal.
	if len(batch.Journals) != 3 {
		t.Fatalf("expected 3 journals, got %d", len(batch.Journals))
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if got := bt.Claimable(winner, ledger.AssetCustody); got != 900 {
		t.Errorf("winner: got %d, want 900", got)
	}
	if got := bt.Claimable(organizer, ledger.AssetCustody); got != 6 {
		t.Errorf("organizer: got %d, want 6", got)
	}
	if got := bt.Claimable(feeRecipient, ledger.AssetCustody); got != 100 {
		t.Errorf("fee recipient: got %d, want 100", got)
	}
	if got := bt.Reserved(ledger.AssetCustody); got != 1006 {
		t.Errorf("allocation must not change reserved: got %d, want 1006", got)
	}
	if bt.SystemBalance(ledger.SubTypePrize, ledger.AssetCustody) != 0 ||
		bt.SystemBalance(ledger.SubTypeRevenue, ledger.AssetCustody) != 0 {
		t.Error("prize and revenue should be fully allocated")
	}
}

func TestGenerateResolution_MismatchedSplit_Fails(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(0, bt)
	bt.ApplyBatch(jg.GenerateFundPrize("fund", 1000, 1))

	_, err := jg.GenerateResolution("draw", ledger.Allocation{
		Winner:      uuid.New(),
		WinnerShare: 1000,
		PrizeFee:    1,
	}, 2)
	if err == nil {
		t.Error("split exceeding prize should fail")
	}
}

func TestGenerateWithdrawal_InsufficientClaimable_Fails(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(0, bt)

	if _, err := jg.GenerateWithdrawal("wd", uuid.New(), ledger.AssetCustody, 1, 1); err == nil {
		t.Error("withdrawal without claimable balance should fail")
	}
}

func TestGeneratePurchaseRefund_ExceedsRevenue_Fails(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(0, bt)
	bt.ApplyBatch(jg.GeneratePurchase("buy", 10, 1))

	if _, err := jg.GeneratePurchaseRefund("refund", uuid.New(), 11, 2); err == nil {
		t.Error("refund above revenue should fail")
	}
	if _, err := jg.GeneratePurchaseRefund("refund", uuid.New(), 10, 2); err != nil {
		t.Errorf("refund of full revenue: %v", err)
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{
		BatchID:  uuid.New(),
		Journals: []ledger.Journal{},
	}

	if err := batch.Validate(); err == nil {
		t.Error("empty batch should fail validation")
	}
}

func journalBatch(amount int64, debit, credit ledger.AccountKey) *ledger.Batch {
	batchID := uuid.New()
	return &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  debit,
				CreditAccount: credit,
				AssetID:       debit.AssetID,
				Amount:        amount,
			},
		},
	}
}

func TestBatchValidate_NonPositiveAmount_Fails(t *testing.T) {
	debit := ledger.NewClaimableKey(uuid.New(), ledger.AssetCustody)
	credit := ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, ledger.AssetCustody)

	for _, amount := range []int64{0, -5} {
		if err := journalBatch(amount, debit, credit).Validate(); err == nil {
			t.Errorf("amount %d should fail validation", amount)
		}
	}
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	key := ledger.NewClaimableKey(uuid.New(), ledger.AssetCustody)

	if err := journalBatch(10, key, key).Validate(); err == nil {
		t.Error("self-transfer should fail validation")
	}
}

func TestBatchValidate_MixedAssets_Fails(t *testing.T) {
	debit := ledger.NewClaimableKey(uuid.New(), ledger.AssetCustody)
	credit := ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, ledger.AssetNative)

	if err := journalBatch(10, debit, credit).Validate(); err == nil {
		t.Error("cross-asset journal should fail validation")
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_SolvencyAndSurplus(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(0, bt)
	v := ledger.NewInvariantValidator(bt)

	bt.ApplyBatch(jg.GenerateFundPrize("fund", 1000, 1))

	if err := v.ValidateSolvency(ledger.AssetCustody, 999); err == nil {
		t.Error("held below reserved should fail")
	}
	if err := v.ValidateSolvency(ledger.AssetCustody, 1000); err != nil {
		t.Errorf("held equal to reserved: %v", err)
	}
	if got := v.Surplus(ledger.AssetCustody, 1000); got != 0 {
		t.Errorf("surplus at equality: got %d, want 0", got)
	}
	if got := v.Surplus(ledger.AssetCustody, 1250); got != 250 {
		t.Errorf("surplus: got %d, want 250", got)
	}
	if err := v.ValidateWithdrawable(ledger.AssetCustody, 1001); err == nil {
		t.Error("withdrawal above reserved should fail")
	}
}

func TestParseAccountPath_RoundTrip(t *testing.T) {
	keys := []ledger.AccountKey{
		ledger.NewClaimableKey(uuid.New(), ledger.AssetNative),
		ledger.NewSystemAccountKey(ledger.SubTypeRevenue, ledger.AssetCustody),
		ledger.NewExternalAccountKey(ledger.SubTypeExternalWithdrawals, ledger.AssetCustody),
	}
	for _, key := range keys {
		parsed, err := ledger.ParseAccountPath(key.AccountPath())
		if err != nil {
			t.Fatalf("parse %s: %v", key.AccountPath(), err)
		}
		if parsed != key {
			t.Errorf("got %+v, want %+v", parsed, key)
		}
	}

	if _, err := ledger.ParseAccountPath("user:not-a-uuid:claimable:CUSTODY"); err == nil {
		t.Error("bad uuid should fail")
	}
	if _, err := ledger.ParseAccountPath("system:insurance:CUSTODY"); err == nil {
		t.Error("unknown sub-type should fail")
	}
}
