package query

import (
	"time"

	"github.com/google/uuid"
)

// RaffleView is the live state of one raffle, read from the hosting engine.
type RaffleView struct {
	RaffleID     uuid.UUID  `json:"raffle_id"`
	State        string     `json:"state"`
	Paused       bool       `json:"paused"`
	Organizer    uuid.UUID  `json:"organizer"`
	Admin        uuid.UUID  `json:"admin"`
	EntryPrice   string     `json:"entry_price"`
	PrizeAmount  string     `json:"prize_amount"`
	FeePercent   int64      `json:"fee_percent"`
	MinEntries   uint64     `json:"min_entries"`
	MaxEntries   uint64     `json:"max_entries"`
	Deadline     time.Time  `json:"deadline"`
	TotalSold    uint64     `json:"total_sold"`
	Buyers       int        `json:"buyers"`
	Winner       *uuid.UUID `json:"winner,omitempty"`
	WinningIndex *uint64    `json:"winning_index,omitempty"`
	RequestID    *uint64    `json:"request_id,omitempty"`
	AsOfSequence int64      `json:"as_of_sequence"`
}

// RangeView is one contiguous block of entries: Buyer owns Lower through Upper-1.
type RangeView struct {
	Buyer uuid.UUID `json:"buyer"`
	Lower uint64    `json:"lower"`
	Upper uint64    `json:"upper"`
}

// RaffleSummary is a row of the raffle list projection.
type RaffleSummary struct {
	RaffleID     uuid.UUID  `json:"raffle_id"`
	State        string     `json:"state"`
	TotalSold    int64      `json:"total_sold"`
	EntryPrice   string     `json:"entry_price"`
	PrizeAmount  string     `json:"prize_amount"`
	Deadline     time.Time  `json:"deadline"`
	Organizer    uuid.UUID  `json:"organizer"`
	Winner       *uuid.UUID `json:"winner,omitempty"`
	Paused       bool       `json:"paused"`
	AsOfSequence int64      `json:"as_of_sequence"`
}

// EventEntry is one event from a raffle's log.
type EventEntry struct {
	Sequence       int64     `json:"sequence"`
	EventType      string    `json:"event_type"`
	Command        string    `json:"command,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Payload        string    `json:"payload"`
	StateHash      string    `json:"state_hash"`
	PrevHash       string    `json:"prev_hash"`
	Timestamp      time.Time `json:"timestamp"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     uuid.UUID `json:"journal_id"`
	BatchID       uuid.UUID `json:"batch_id"`
	EventRef      string    `json:"event_ref"`
	Sequence      int64     `json:"sequence"`
	DebitAccount  string    `json:"debit_account"`
	CreditAccount string    `json:"credit_account"`
	Asset         string    `json:"asset"`
	Amount        string    `json:"amount"`
	JournalType   string    `json:"journal_type"`
	Timestamp     int64     `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification.
type IntegrityReport struct {
	RaffleID         uuid.UUID `json:"raffle_id"`
	IsHealthy        bool      `json:"is_healthy"`
	HashChainBreaks  []int64   `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []string  `json:"unbalanced_assets,omitempty"`
	Solvent          bool      `json:"solvent"`
}
