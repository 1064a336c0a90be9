package core

import (
	"RaffleLedger/internal/ledger"
	"RaffleLedger/internal/state"
	"encoding/hex"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// BalanceEntry is one non-zero ledger account, keyed by its path.
type BalanceEntry struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
}

// Snapshot is the full state of one raffle after an event. It is persisted
// with every output and is enough to resume the raffle after a restart.
type Snapshot struct {
	RaffleID uuid.UUID          `json:"raffle_id"`
	Config   state.RaffleConfig `json:"config"`

	Admin    uuid.UUID `json:"admin"`
	Oracle   uuid.UUID `json:"oracle"`
	Provider uuid.UUID `json:"provider"`
	Paused   bool      `json:"paused"`

	State         string               `json:"state"`
	TotalSold     uint64               `json:"total_sold"`
	Ranges        []state.EntryRange   `json:"ranges"`
	Owned         map[uuid.UUID]uint64 `json:"owned"`
	PendingDraw   *state.DrawRequest   `json:"pending_draw,omitempty"`
	SoldSnapshot  uint64               `json:"sold_snapshot"`
	Winner        *uuid.UUID           `json:"winner,omitempty"`
	WinningIndex  uint64               `json:"winning_index"`
	PrizeRefunded bool                 `json:"prize_refunded"`

	Balances []BalanceEntry `json:"balances"`

	// Sequence is the next sequence to assign; StateHash is the chain tip.
	Sequence  int64  `json:"sequence"`
	StateHash string `json:"state_hash"`
}

// Snapshot returns the current state. Safe to call concurrently with
// operations on the raffle.
func (r *Raffle) Snapshot() *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Raffle) snapshotLocked() *Snapshot {
	snap := &Snapshot{
		RaffleID:      r.id,
		Config:        r.cfg,
		Admin:         r.admin,
		Oracle:        r.oracleID,
		Provider:      r.provider,
		Paused:        r.paused,
		State:         r.lifecycle.String(),
		TotalSold:     r.entries.TotalSold(),
		Ranges:        r.entries.Ranges(),
		Owned:         r.entries.OwnedSnapshot(),
		PendingDraw:   r.draw.Pending(),
		SoldSnapshot:  r.soldSnapshot,
		WinningIndex:  r.winningIndex,
		PrizeRefunded: r.prizeRefunded,
		Sequence:      r.sequence,
	}
	if r.winner != nil {
		w := *r.winner
		snap.Winner = &w
	}

	for key, balance := range r.balanceTracker.Snapshot() {
		if balance == 0 {
			continue
		}
		snap.Balances = append(snap.Balances, BalanceEntry{Account: key.AccountPath(), Balance: balance})
	}
	sort.Slice(snap.Balances, func(i, j int) bool {
		return snap.Balances[i].Account < snap.Balances[j].Account
	})

	tip := r.hasher.GetPrevHash()
	snap.StateHash = hex.EncodeToString(tip[:])
	return snap
}

// RestoreRaffle rebuilds a raffle from its latest snapshot. The restored
// ledger must balance; a snapshot that does not is rejected.
func RestoreRaffle(snap *Snapshot, deps Deps) (*Raffle, error) {
	if snap == nil || snap.RaffleID == uuid.Nil {
		return nil, errors.New("snapshot without raffle id")
	}
	lifecycle, ok := state.ParseRaffleState(snap.State)
	if !ok {
		return nil, errors.Errorf("raffle %s: unknown state %q", snap.RaffleID, snap.State)
	}
	if (lifecycle == state.RaffleStateDrawing) != (snap.PendingDraw != nil) {
		return nil, errors.Errorf("raffle %s: state %s inconsistent with pending draw", snap.RaffleID, lifecycle)
	}

	entries, err := state.RestoreEntryBook(snap.Ranges, snap.Owned)
	if err != nil {
		return nil, errors.Wrapf(err, "raffle %s: entries", snap.RaffleID)
	}

	tip, err := hex.DecodeString(snap.StateHash)
	if err != nil || len(tip) != 32 {
		return nil, errors.Errorf("raffle %s: malformed state hash %q", snap.RaffleID, snap.StateHash)
	}

	r := newRaffle(snap.RaffleID, snap.Config, deps)
	r.admin = snap.Admin
	r.oracleID = snap.Oracle
	r.provider = snap.Provider
	r.paused = snap.Paused
	r.lifecycle = lifecycle
	r.entries = entries
	r.draw = state.RestoreDrawCoordinator(snap.PendingDraw)
	r.soldSnapshot = snap.SoldSnapshot
	r.winningIndex = snap.WinningIndex
	r.prizeRefunded = snap.PrizeRefunded
	if snap.Winner != nil {
		w := *snap.Winner
		r.winner = &w
	}

	for _, entry := range snap.Balances {
		key, err := ledger.ParseAccountPath(entry.Account)
		if err != nil {
			return nil, errors.Wrapf(err, "raffle %s", snap.RaffleID)
		}
		r.balanceTracker.SetBalance(key, entry.Balance)
	}
	if err := r.validator.ValidateGlobalBalance(); err != nil {
		return nil, errors.Wrapf(err, "raffle %s", snap.RaffleID)
	}
	if err := r.validator.ValidateLiabilitiesNonNegative(); err != nil {
		return nil, errors.Wrapf(err, "raffle %s", snap.RaffleID)
	}

	var prev [32]byte
	copy(prev[:], tip)
	r.hasher.SetPrevHash(prev)
	r.sequence = snap.Sequence
	r.journalGen.SetSequence(snap.Sequence)

	return r, nil
}

// Claimable returns participant's custody and native claimable balances.
func (r *Raffle) Claimable(participant uuid.UUID) (custody int64, native int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balanceTracker.Claimable(participant, ledger.AssetCustody),
		r.balanceTracker.Claimable(participant, ledger.AssetNative)
}

// EntriesOwned returns the refundable entry count recorded for buyer.
func (r *Raffle) EntriesOwned(buyer uuid.UUID) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries.Owned(buyer)
}

// State returns the lifecycle state.
func (r *Raffle) State() state.RaffleState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lifecycle
}

// Reserved returns the recorded liabilities in custody and native units.
func (r *Raffle) Reserved() (custody int64, native int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balanceTracker.Reserved(ledger.AssetCustody), r.balanceTracker.Reserved(ledger.AssetNative)
}
