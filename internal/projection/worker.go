package projection

import (
	"RaffleLedger/internal/core"
	"RaffleLedger/internal/event"
	"RaffleLedger/internal/ledger"
	"RaffleLedger/internal/observability"
	"RaffleLedger/internal/state"
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ProjectionWorker updates read-model tables from engine outputs. Its channel
// is fed with non-blocking sends, so outputs may be dropped; a gap in a
// raffle's sequence is logged and RebuildProjections restores the tables from
// the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	lastSeq   map[uuid.UUID]int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		lastSeq:   make(map[uuid.UUID]int64),
		metrics:   metrics,
		logger:    logger.With().Str("component", "projection").Logger(),
	}
}

// Run blocks until ctx is cancelled or the input channel is closed.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if output.Envelope == nil {
				continue
			}

			seq := output.Envelope.Sequence
			if last, seen := pw.lastSeq[output.RaffleID]; seen && seq != last+1 {
				pw.logger.Warn().
					Str("raffle_id", output.RaffleID.String()).
					Int64("expected", last+1).
					Int64("got", seq).
					Msg("projection gap, rebuild required")
			}

			if err := pw.processOutput(ctx, output); err != nil {
				// Projections are eventually consistent and rebuildable.
				pw.logger.Warn().Err(err).
					Str("raffle_id", output.RaffleID.String()).
					Int64("sequence", seq).
					Msg("projection update failed")
			}
			pw.lastSeq[output.RaffleID] = seq
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	start := time.Now()
	seq := output.Envelope.Sequence

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			if err := updateBalanceProjection(ctx, tx, output.RaffleID, j, seq); err != nil {
				return errors.Wrap(err, "balance projection")
			}
		}
	}

	if snap := output.Snapshot; snap != nil {
		if err := upsertRaffle(ctx, tx, snap, seq); err != nil {
			return errors.Wrap(err, "raffle projection")
		}
		if output.Envelope.EventType == event.EventTypeEntriesPurchased {
			if err := upsertRanges(ctx, tx, snap.RaffleID, snap.Ranges); err != nil {
				return errors.Wrap(err, "entry range projection")
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (raffle_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (raffle_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, output.RaffleID, seq); err != nil {
		return errors.Wrap(err, "watermark update")
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues("raffle").Observe(time.Since(start).Seconds())
	}
	return nil
}

// updateBalanceProjection applies one journal: debits add, credits subtract.
func updateBalanceProjection(ctx context.Context, tx *sql.Tx, raffleID uuid.UUID, j ledger.Journal, seq int64) error {
	const upsert = `
		INSERT INTO projections.balances (raffle_id, account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (raffle_id, account_path)
		DO UPDATE SET balance = projections.balances.balance + $4, last_sequence = $5
	`
	if _, err := tx.ExecContext(ctx, upsert, raffleID, j.DebitAccount.AccountPath(), j.AssetID, j.Amount, seq); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, upsert, raffleID, j.CreditAccount.AccountPath(), j.AssetID, -j.Amount, seq)
	return err
}

func upsertRaffle(ctx context.Context, tx *sql.Tx, snap *core.Snapshot, seq int64) error {
	var winner *uuid.UUID
	if snap.Winner != nil {
		w := *snap.Winner
		winner = &w
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.raffles
			(raffle_id, state, total_sold, entry_price, prize_amount, deadline, organizer, winner, paused, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (raffle_id) DO UPDATE SET
			state = EXCLUDED.state,
			total_sold = EXCLUDED.total_sold,
			winner = EXCLUDED.winner,
			paused = EXCLUDED.paused,
			last_sequence = EXCLUDED.last_sequence,
			updated_at = NOW()
		WHERE projections.raffles.last_sequence < EXCLUDED.last_sequence
	`, snap.RaffleID, snap.State, int64(snap.TotalSold), snap.Config.EntryPrice, snap.Config.PrizeAmount,
		snap.Config.Deadline, snap.Config.Organizer, winner, snap.Paused, seq)
	return err
}

func upsertRanges(ctx context.Context, tx *sql.Tx, raffleID uuid.UUID, ranges []state.EntryRange) error {
	for _, row := range EntryRangeRows(ranges) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.entry_ranges (raffle_id, position, buyer, lower_bound, upper_bound)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (raffle_id, position) DO UPDATE SET upper_bound = EXCLUDED.upper_bound
		`, raffleID, row.Position, row.Buyer, int64(row.Lower), int64(row.Upper)); err != nil {
			return err
		}
	}
	return nil
}

// RangeRow is an entry range with explicit bounds: Buyer owns entries
// Lower through Upper-1.
type RangeRow struct {
	Position int
	Buyer    uuid.UUID
	Lower    uint64
	Upper    uint64
}

// EntryRangeRows expands cumulative upper bounds into explicit bounds.
func EntryRangeRows(ranges []state.EntryRange) []RangeRow {
	rows := make([]RangeRow, len(ranges))
	var lower uint64
	for i, r := range ranges {
		rows[i] = RangeRow{Position: i, Buyer: r.Buyer, Lower: lower, Upper: r.UpperBound}
		lower = r.UpperBound
	}
	return rows
}

// RebuildProjections rebuilds every projection table from the event log and
// the persisted instance snapshots.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.entry_ranges`,
		`TRUNCATE projections.raffles`,
		`TRUNCATE projections.watermark`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "rebuild: %s", stmt)
		}
	}

	// Debits add and credits subtract, summed per raffle account.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (raffle_id, account_path, asset_id, balance, last_sequence)
		SELECT raffle_id, account_path, MIN(asset_id), SUM(delta), MAX(sequence)
		FROM (
			SELECT raffle_id, debit_account AS account_path, asset_id, amount AS delta, sequence
			FROM event_log.journal
			UNION ALL
			SELECT raffle_id, credit_account, asset_id, -amount, sequence
			FROM event_log.journal
		) AS moves
		GROUP BY raffle_id, account_path
	`); err != nil {
		return errors.Wrap(err, "rebuild balances")
	}

	rows, err := tx.QueryContext(ctx, `SELECT snapshot FROM raffle.instances`)
	if err != nil {
		return errors.Wrap(err, "load instances")
	}
	var snaps []*core.Snapshot
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			rows.Close()
			return err
		}
		var snap core.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			rows.Close()
			return errors.Wrap(err, "decode snapshot")
		}
		snaps = append(snaps, &snap)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, snap := range snaps {
		last := snap.Sequence - 1
		if err := upsertRaffle(ctx, tx, snap, last); err != nil {
			return errors.Wrapf(err, "rebuild raffle %s", snap.RaffleID)
		}
		if err := upsertRanges(ctx, tx, snap.RaffleID, snap.Ranges); err != nil {
			return errors.Wrapf(err, "rebuild ranges %s", snap.RaffleID)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.watermark (raffle_id, last_sequence) VALUES ($1, $2)
		`, snap.RaffleID, last); err != nil {
			return errors.Wrap(err, "rebuild watermark")
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Info().Int("raffles", len(snaps)).Msg("projection rebuild complete")
	return nil
}
