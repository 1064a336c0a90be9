package state

import (
	fpmath "RaffleLedger/internal/math"
	stdmath "math"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	// MaxEntriesPerPurchase bounds a single purchase call.
	MaxEntriesPerPurchase uint64 = 1000

	// HardCapEntries is the absolute ceiling on entries sold by one raffle,
	// independent of any configured maximum.
	HardCapEntries uint64 = stdmath.MaxUint32

	// MaxFeePercent caps the operator fee taken from prize and revenue.
	MaxFeePercent int64 = 50

	// CustodyDecimals is the unit scale every custody token must report.
	CustodyDecimals = 6

	AdminGracePeriod  = 24 * time.Hour
	PublicGracePeriod = 7 * 24 * time.Hour
)

// RaffleConfig is fixed at construction and never mutated afterwards.
type RaffleConfig struct {
	EntryPrice   int64     `json:"entry_price"`  // custody units per entry
	PrizeAmount  int64     `json:"prize_amount"` // custody units deposited by the organizer
	MinEntries   uint64    `json:"min_entries"`  // below this at the deadline the raffle cancels
	MaxEntries   uint64    `json:"max_entries"`  // 0 means bounded only by HardCapEntries
	Deadline     time.Time `json:"deadline"`     // purchases stop at this instant
	FeePercent   int64     `json:"fee_percent"`  // 0..MaxFeePercent
	Organizer    uuid.UUID `json:"organizer"`
	FeeRecipient uuid.UUID `json:"fee_recipient"`

	// Optional anti-spam floors. Zero disables each check.
	MinPurchaseEntries uint64 `json:"min_purchase_entries"`
	MinNewRangeCost    int64  `json:"min_new_range_cost"`
}

// EffectiveMaxEntries returns the ceiling purchases are checked against.
func (c RaffleConfig) EffectiveMaxEntries() uint64 {
	if c.MaxEntries == 0 || c.MaxEntries > HardCapEntries {
		return HardCapEntries
	}
	return c.MaxEntries
}

// HasMaxEntries reports whether a sell-out ceiling was configured.
func (c RaffleConfig) HasMaxEntries() bool {
	return c.MaxEntries != 0
}

// Validate checks construction parameters against now.
func (c RaffleConfig) Validate(now time.Time) error {
	if c.EntryPrice <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "entry price must be positive, got %d", c.EntryPrice)
	}
	if c.PrizeAmount <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "prize amount must be positive, got %d", c.PrizeAmount)
	}
	if c.Organizer == uuid.Nil {
		return errors.Wrap(ErrInvalidConfig, "organizer is required")
	}
	if c.FeeRecipient == uuid.Nil {
		return errors.Wrap(ErrInvalidConfig, "fee recipient is required")
	}
	if c.FeePercent < 0 || c.FeePercent > MaxFeePercent {
		return errors.Wrapf(ErrInvalidConfig, "fee percent %d outside [0, %d]", c.FeePercent, MaxFeePercent)
	}
	if c.MaxEntries > HardCapEntries {
		return errors.Wrapf(ErrInvalidConfig, "max entries %d above hard cap %d", c.MaxEntries, HardCapEntries)
	}
	if c.MinEntries > HardCapEntries {
		return errors.Wrapf(ErrInvalidConfig, "min entries %d above hard cap %d", c.MinEntries, HardCapEntries)
	}
	if c.HasMaxEntries() && c.MaxEntries < c.MinEntries {
		return errors.Wrapf(ErrInvalidConfig, "max entries %d below min entries %d", c.MaxEntries, c.MinEntries)
	}
	if !c.Deadline.After(now) {
		return errors.Wrapf(ErrInvalidConfig, "deadline %s is not in the future", c.Deadline.Format(time.RFC3339))
	}
	if c.MinPurchaseEntries > MaxEntriesPerPurchase {
		return errors.Wrapf(ErrInvalidConfig, "min purchase %d above per-purchase limit %d",
			c.MinPurchaseEntries, MaxEntriesPerPurchase)
	}
	if c.MinNewRangeCost < 0 {
		return errors.Wrapf(ErrInvalidConfig, "min new range cost must not be negative, got %d", c.MinNewRangeCost)
	}

	// Revenue at the ceiling must stay representable.
	maxRevenue, ok := fpmath.CheckedMul(c.EntryPrice, int64(c.EffectiveMaxEntries()))
	if !ok {
		return errors.Wrap(ErrInvalidConfig, "entry price times max entries overflows")
	}
	if _, ok := fpmath.CheckedAdd(maxRevenue, c.PrizeAmount); !ok {
		return errors.Wrap(ErrInvalidConfig, "prize plus max revenue overflows")
	}

	return nil
}
