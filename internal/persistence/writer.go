package persistence

import (
	"RaffleLedger/internal/core"
	"RaffleLedger/internal/event"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// EventLogWriter writes events, journals and instance snapshots with
// multi-row INSERTs.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events
type EventRow struct {
	RaffleID       uuid.UUID
	Sequence       int64
	EventType      string
	Command        string
	IdempotencyKey string
	Payload        []byte // JSON-encoded event payload
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	RaffleID      uuid.UUID
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
	JournalType   int32
	Timestamp     int64
}

// InstanceRow is the latest snapshot of one raffle.
type InstanceRow struct {
	RaffleID  uuid.UUID
	State     string
	Sequence  int64
	StateHash string
	Snapshot  []byte
}

// FailureRow is a directory registration awaiting remediation.
type FailureRow struct {
	RaffleID       uuid.UUID
	Sequence       int64
	Classification string
	Creator        uuid.UUID
	Error          string
}

// Rows is everything one engine output contributes to Postgres.
type Rows struct {
	Event    EventRow
	Journals []JournalRow
	Instance *InstanceRow
	Failure  *FailureRow
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// RowsFromOutput converts an engine output into its table rows.
func RowsFromOutput(output core.CoreOutput) (Rows, error) {
	env := output.Envelope
	if env == nil {
		return Rows{}, errors.New("output without envelope")
	}

	rows := Rows{
		Event: EventRow{
			RaffleID:       env.RaffleID,
			Sequence:       env.Sequence,
			EventType:      env.EventType.String(),
			Command:        env.Command,
			IdempotencyKey: env.IdempotencyKey,
			Payload:        env.Payload,
			StateHash:      env.StateHash[:],
			PrevHash:       env.PrevHash[:],
			Timestamp:      env.Timestamp,
		},
	}

	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			rows.Journals = append(rows.Journals, JournalRow{
				JournalID:     j.JournalID,
				BatchID:       j.BatchID,
				RaffleID:      env.RaffleID,
				EventRef:      j.EventRef,
				Sequence:      j.Sequence,
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				AssetID:       uint16(j.AssetID),
				Amount:        j.Amount,
				JournalType:   int32(j.JournalType),
				Timestamp:     j.Timestamp,
			})
		}
	}

	if output.Snapshot != nil {
		data, err := json.Marshal(output.Snapshot)
		if err != nil {
			return Rows{}, errors.Wrapf(err, "marshal snapshot %s/%d", env.RaffleID, env.Sequence)
		}
		rows.Instance = &InstanceRow{
			RaffleID:  env.RaffleID,
			State:     output.Snapshot.State,
			Sequence:  output.Snapshot.Sequence,
			StateHash: output.Snapshot.StateHash,
			Snapshot:  data,
		}
	}

	if env.EventType == event.EventTypeRegistrationFailed {
		var payload event.RegistrationFailed
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return Rows{}, errors.Wrapf(err, "decode RegistrationFailed %s/%d", env.RaffleID, env.Sequence)
		}
		rows.Failure = &FailureRow{
			RaffleID:       env.RaffleID,
			Sequence:       env.Sequence,
			Classification: payload.Classification,
			Creator:        payload.Creator,
			Error:          payload.Error,
		}
	}

	return rows, nil
}

// WriteEventBatch writes a batch of events to event_log.events using multi-row INSERT.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(raffle_id, sequence, event_type, command, idempotency_key, payload, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*9)

	for i, e := range events {
		values = append(values, placeholders(i*9, 9))
		args = append(args,
			e.RaffleID, e.Sequence, e.EventType, e.Command, e.IdempotencyKey,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (raffle_id, sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return errors.Wrap(err, "insert events")
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, ex execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, raffle_id, event_ref, sequence, debit_account, credit_account, asset_id, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*11)

	for i, j := range journals {
		values = append(values, placeholders(i*11, 11))
		args = append(args,
			j.JournalID, j.BatchID, j.RaffleID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.AssetID, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return errors.Wrap(err, "insert journals")
}

// UpsertInstances keeps the newest snapshot per raffle. Older sequences never
// overwrite newer ones.
func (w *EventLogWriter) UpsertInstances(ctx context.Context, ex execer, instances []InstanceRow) error {
	for _, inst := range latestInstances(instances) {
		_, err := ex.ExecContext(ctx, `
			INSERT INTO raffle.instances (raffle_id, state, sequence, state_hash, snapshot, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			ON CONFLICT (raffle_id) DO UPDATE SET
				state = EXCLUDED.state,
				sequence = EXCLUDED.sequence,
				state_hash = EXCLUDED.state_hash,
				snapshot = EXCLUDED.snapshot,
				updated_at = NOW()
			WHERE raffle.instances.sequence < EXCLUDED.sequence
		`, inst.RaffleID, inst.State, inst.Sequence, inst.StateHash, inst.Snapshot)
		if err != nil {
			return errors.Wrapf(err, "upsert instance %s", inst.RaffleID)
		}
	}
	return nil
}

// WriteFailures records directory registrations that need remediation.
func (w *EventLogWriter) WriteFailures(ctx context.Context, ex execer, failures []FailureRow) error {
	for _, f := range failures {
		_, err := ex.ExecContext(ctx, `
			INSERT INTO raffle.registration_failures (raffle_id, sequence, classification, creator, error)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (raffle_id, sequence) DO NOTHING
		`, f.RaffleID, f.Sequence, f.Classification, f.Creator, f.Error)
		if err != nil {
			return errors.Wrapf(err, "record registration failure %s", f.RaffleID)
		}
	}
	return nil
}

// latestInstances keeps the highest sequence per raffle, in first-seen order.
func latestInstances(instances []InstanceRow) []InstanceRow {
	index := make(map[uuid.UUID]int, len(instances))
	out := make([]InstanceRow, 0, len(instances))
	for _, inst := range instances {
		if i, ok := index[inst.RaffleID]; ok {
			if inst.Sequence > out[i].Sequence {
				out[i] = inst
			}
			continue
		}
		index[inst.RaffleID] = len(out)
		out = append(out, inst)
	}
	return out
}

func placeholders(base, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", base+i+1)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
