package persistence

import (
	"RaffleLedger/internal/core"
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// InstanceStore reads back what the persistence worker wrote: the latest
// snapshot of every raffle for warm restart, and per-raffle event history.
type InstanceStore struct {
	db *sql.DB
}

func NewInstanceStore(db *sql.DB) *InstanceStore {
	return &InstanceStore{db: db}
}

// LoadInstances returns the latest snapshot of every persisted raffle.
func (s *InstanceStore) LoadInstances(ctx context.Context) ([]*core.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT raffle_id, snapshot FROM raffle.instances ORDER BY raffle_id
	`)
	if err != nil {
		return nil, errors.Wrap(err, "query instances")
	}
	defer rows.Close()

	var snaps []*core.Snapshot
	for rows.Next() {
		var id uuid.UUID
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, errors.Wrap(err, "scan instance")
		}
		var snap core.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, errors.Wrapf(err, "decode snapshot %s", id)
		}
		snaps = append(snaps, &snap)
	}
	return snaps, rows.Err()
}

// LoadEvents returns up to limit events of one raffle starting at fromSequence.
func (s *InstanceStore) LoadEvents(ctx context.Context, raffleID uuid.UUID, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT raffle_id, sequence, event_type, command, idempotency_key, payload,
		       state_hash, prev_hash, timestamp
		FROM event_log.events
		WHERE raffle_id = $1 AND sequence >= $2
		ORDER BY sequence ASC
		LIMIT $3
	`, raffleID, fromSequence, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query events")
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.RaffleID, &e.Sequence, &e.EventType, &e.Command, &e.IdempotencyKey,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LatestSequence returns the highest persisted sequence of a raffle, or -1
// when it has no events.
func (s *InstanceStore) LatestSequence(ctx context.Context, raffleID uuid.UUID) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events WHERE raffle_id = $1
	`, raffleID).Scan(&seq)
	if err != nil {
		return 0, errors.Wrap(err, "latest sequence")
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// RegistrationFailure is an unresolved directory registration.
type RegistrationFailure struct {
	RaffleID       uuid.UUID
	Sequence       int64
	Classification string
	Creator        uuid.UUID
	Error          string
	RecordedAt     time.Time
}

// PendingFailures lists registrations that still need remediation.
func (s *InstanceStore) PendingFailures(ctx context.Context) ([]RegistrationFailure, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT raffle_id, sequence, classification, creator, error, recorded_at
		FROM raffle.registration_failures
		WHERE NOT resolved
		ORDER BY recorded_at
	`)
	if err != nil {
		return nil, errors.Wrap(err, "query registration failures")
	}
	defer rows.Close()

	var out []RegistrationFailure
	for rows.Next() {
		var f RegistrationFailure
		if err := rows.Scan(&f.RaffleID, &f.Sequence, &f.Classification, &f.Creator, &f.Error, &f.RecordedAt); err != nil {
			return nil, errors.Wrap(err, "scan registration failure")
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ResolveFailure marks a failure handled after a successful retry.
func (s *InstanceStore) ResolveFailure(ctx context.Context, raffleID uuid.UUID, sequence int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE raffle.registration_failures SET resolved = TRUE
		WHERE raffle_id = $1 AND sequence = $2
	`, raffleID, sequence)
	return errors.Wrap(err, "resolve registration failure")
}
