package state

import "github.com/pkg/errors"

// Kind classifies a rejection so transports can map it to a status code.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindState
	KindAuthorization
	KindInvalidArgument
	KindPayment
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindState:
		return "state"
	case KindAuthorization:
		return "authorization"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindPayment:
		return "payment"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidConfig     = errors.New("invalid raffle configuration")
	ErrDecimalsMismatch  = errors.New("custody token decimals mismatch")
	ErrRaffleExists      = errors.New("raffle already exists")
	ErrUnknownRaffle     = errors.New("unknown raffle")
	ErrInvalidState      = errors.New("operation not allowed in current state")
	ErrAlreadyFunded     = errors.New("raffle already funded")
	ErrInsufficientPrize = errors.New("custody balance does not cover prize")
	ErrPaused            = errors.New("raffle is paused")
	ErrDeadlinePassed    = errors.New("purchase deadline has passed")
	ErrDeadlineNotPassed = errors.New("deadline has not passed")
	ErrNotEligible       = errors.New("raffle not eligible for draw")
	ErrMinimumReached    = errors.New("minimum entries reached")
	ErrSoldOut           = errors.New("entries exceed configured maximum")
	ErrHardCapExceeded   = errors.New("entries exceed hard cap")
	ErrDrawingInFlight   = errors.New("drawing request in flight")
	ErrGracePeriodActive = errors.New("emergency grace period has not elapsed")
	ErrNothingToClaim    = errors.New("nothing to claim")
	ErrNoSurplus         = errors.New("no surplus to sweep")

	ErrZeroCount          = errors.New("entry count must be positive")
	ErrBatchTooLarge      = errors.New("entry count exceeds per-purchase limit")
	ErrBelowMinPurchase   = errors.New("purchase below minimum entries")
	ErrBelowMinRangeCost  = errors.New("new entry range below minimum cost")
	ErrAmountOverflow     = errors.New("amount overflow")
	ErrInsufficientFee    = errors.New("payment below oracle fee")
	ErrIndexOutOfRange    = errors.New("winning index out of range")
	ErrInvalidAddress     = errors.New("invalid address")
	ErrOrganizerCannotBuy = errors.New("organizer cannot purchase entries")

	ErrNotAdmin       = errors.New("caller is not the administrator")
	ErrNotDepositor   = errors.New("caller is not the depositor")
	ErrReentrantCall  = errors.New("re-entrant call rejected")
	ErrPaymentFailed  = errors.New("external payment failed")
	ErrOracleRequest  = errors.New("randomness request failed")
	ErrCustodyFailure = errors.New("custody token call failed")
)

var errorKinds = map[error]Kind{
	ErrInvalidConfig:    KindConfiguration,
	ErrDecimalsMismatch: KindConfiguration,

	ErrRaffleExists:      KindState,
	ErrInvalidState:      KindState,
	ErrAlreadyFunded:     KindState,
	ErrInsufficientPrize: KindState,
	ErrPaused:            KindState,
	ErrDeadlinePassed:    KindState,
	ErrDeadlineNotPassed: KindState,
	ErrNotEligible:       KindState,
	ErrMinimumReached:    KindState,
	ErrSoldOut:           KindState,
	ErrHardCapExceeded:   KindState,
	ErrDrawingInFlight:   KindState,
	ErrGracePeriodActive: KindState,
	ErrNothingToClaim:    KindState,
	ErrNoSurplus:         KindState,
	ErrReentrantCall:     KindState,

	ErrUnknownRaffle:      KindInvalidArgument,
	ErrZeroCount:          KindInvalidArgument,
	ErrBatchTooLarge:      KindInvalidArgument,
	ErrBelowMinPurchase:   KindInvalidArgument,
	ErrBelowMinRangeCost:  KindInvalidArgument,
	ErrAmountOverflow:     KindInvalidArgument,
	ErrInsufficientFee:    KindInvalidArgument,
	ErrIndexOutOfRange:    KindInvalidArgument,
	ErrInvalidAddress:     KindInvalidArgument,
	ErrOrganizerCannotBuy: KindInvalidArgument,

	ErrNotAdmin:     KindAuthorization,
	ErrNotDepositor: KindAuthorization,

	ErrPaymentFailed:  KindPayment,
	ErrOracleRequest:  KindPayment,
	ErrCustodyFailure: KindPayment,
}

// KindOf returns the classification of err, unwrapping pkg/errors context.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if kind, ok := errorKinds[errors.Cause(err)]; ok {
		return kind
	}
	return KindUnknown
}
