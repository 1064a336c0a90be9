package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeFundPrize JournalType = iota
	JournalTypePurchase
	JournalTypeWinnerAllocation
	JournalTypeOrganizerAllocation
	JournalTypeFeeAllocation
	JournalTypePrizeRefund
	JournalTypePurchaseRefund
	JournalTypeWithdrawal
	JournalTypeNativeCredit
	JournalTypeNativeWithdrawal
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeFundPrize:
		return "FundPrize"
	case JournalTypePurchase:
		return "Purchase"
	case JournalTypeWinnerAllocation:
		return "WinnerAllocation"
	case JournalTypeOrganizerAllocation:
		return "OrganizerAllocation"
	case JournalTypeFeeAllocation:
		return "FeeAllocation"
	case JournalTypePrizeRefund:
		return "PrizeRefund"
	case JournalTypePurchaseRefund:
		return "PurchaseRefund"
	case JournalTypeWithdrawal:
		return "Withdrawal"
	case JournalTypeNativeCredit:
		return "NativeCredit"
	case JournalTypeNativeWithdrawal:
		return "NativeWithdrawal"
	default:
		return "Unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of the source command
	Sequence      int64       // Per-raffle event sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Fixed-point amount (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // epoch microseconds
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. Each journal moves a single
// positive amount between two accounts, so every entry balances on its own.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}

// IsEmpty reports whether the batch carries no journals (state-only events).
func (b *Batch) IsEmpty() bool {
	return b == nil || len(b.Journals) == 0
}

// Total returns the sum of journal amounts for one journal type.
func (b *Batch) Total(jt JournalType) int64 {
	if b == nil {
		return 0
	}
	var sum int64
	for _, j := range b.Journals {
		if j.JournalType == jt {
			sum += j.Amount
		}
	}
	return sum
}
