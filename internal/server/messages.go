package server

import (
	"RaffleLedger/internal/persistence"
	"RaffleLedger/internal/query"
	"RaffleLedger/internal/state"
	"encoding/json"
)

type SubmitCommandRequest struct {
	Command json.RawMessage `json:"command"`
}

type CommandReply struct {
	RaffleID  string `json:"raffle_id"`
	Command   string `json:"command"`
	Duplicate bool   `json:"duplicate"`

	TotalSold uint64 `json:"total_sold,omitempty"`
	Amount    int64  `json:"amount,omitempty"`
	Outcome   string `json:"outcome,omitempty"`

	// finalize
	Canceled       bool   `json:"canceled,omitempty"`
	RequestID      uint64 `json:"request_id,omitempty"`
	Fee            int64  `json:"fee,omitempty"`
	ExcessRefunded int64  `json:"excess_refunded,omitempty"`
	ExcessCredited int64  `json:"excess_credited,omitempty"`
}

type CreateRaffleRequest struct {
	RaffleID       string             `json:"raffle_id"`
	Config         state.RaffleConfig `json:"config"`
	Operator       string             `json:"operator"`
	Admin          string             `json:"admin"`
	Provider       string             `json:"provider"`
	Classification string             `json:"classification"`
}

type RaffleRequest struct {
	RaffleID string `json:"raffle_id"`
}

type ParticipantRequest struct {
	RaffleID    string `json:"raffle_id"`
	Participant string `json:"participant"`
}

type EntryRangesReply struct {
	RaffleID string            `json:"raffle_id"`
	Ranges   []query.RangeView `json:"ranges"`
}

type ListRafflesRequest struct {
	State    string `json:"state"`
	PageSize int32  `json:"page_size"`
}

type ListRafflesReply struct {
	Raffles []query.RaffleSummary `json:"raffles"`
}

type ListEventsRequest struct {
	RaffleID      string `json:"raffle_id"`
	FromSequence  int64  `json:"from_sequence"`
	PageSize      int32  `json:"page_size"`
}

type ListEventsReply struct {
	Events []query.EventEntry `json:"events"`
}

type ListJournalsRequest struct {
	RaffleID       string `json:"raffle_id"`
	Participant    string `json:"participant"`
	BeforeSequence int64  `json:"before_sequence"`
	PageSize       int32  `json:"page_size"`
}

type ListJournalsReply struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

type ListDirectoryRequest struct {
	Offset   int32 `json:"offset"`
	PageSize int32 `json:"page_size"`
}

type ListDirectoryReply struct {
	Entries []persistence.DirectoryEntry `json:"entries"`
}

type RebuildProjectionsRequest struct{}

type RebuildProjectionsReply struct {
	Completed bool `json:"completed"`
}
