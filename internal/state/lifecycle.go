package state

// RaffleState is the lifecycle of a raffle instance.
// FundingPending → Open → Drawing → {Completed | Canceled}, plus Open → Canceled.
type RaffleState int32

const (
	RaffleStateFundingPending RaffleState = iota
	RaffleStateOpen
	RaffleStateDrawing
	RaffleStateCompleted
	RaffleStateCanceled
)

func (s RaffleState) String() string {
	switch s {
	case RaffleStateFundingPending:
		return "FundingPending"
	case RaffleStateOpen:
		return "Open"
	case RaffleStateDrawing:
		return "Drawing"
	case RaffleStateCompleted:
		return "Completed"
	case RaffleStateCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// ParseRaffleState is the inverse of String, used when restoring snapshots.
func ParseRaffleState(s string) (RaffleState, bool) {
	for st := RaffleStateFundingPending; st <= RaffleStateCanceled; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return RaffleStateFundingPending, false
}

var validTransitions = map[RaffleState][]RaffleState{
	RaffleStateFundingPending: {
		RaffleStateOpen,
	},
	RaffleStateOpen: {
		RaffleStateDrawing,
		RaffleStateCanceled,
	},
	RaffleStateDrawing: {
		RaffleStateCompleted,
		RaffleStateCanceled, // emergency hatch
	},
}

// CanTransitionTo validates state transitions
func (s RaffleState) CanTransitionTo(next RaffleState) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition exists.
func (s RaffleState) IsTerminal() bool {
	return s == RaffleStateCompleted || s == RaffleStateCanceled
}
