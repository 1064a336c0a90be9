package query

import (
	"RaffleLedger/internal/core"
	"RaffleLedger/internal/external"
	"RaffleLedger/internal/ledger"
	"RaffleLedger/internal/observability"
	"context"
	"database/sql"
	"encoding/hex"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrNoHistory is returned by queries that need Postgres when the service
// runs without one.
var ErrNoHistory = errors.New("history store not configured")

// RaffleSource resolves hosted raffles. *core.Manager implements it.
type RaffleSource interface {
	Get(id uuid.UUID) (*core.Raffle, error)
	List() []uuid.UUID
}

// QueryService answers read-only queries. Live views come from the hosting
// engines; lists and history come from the projection tables and event log.
// Every response carries the sequence it reflects.
type QueryService struct {
	raffles RaffleSource
	token   external.CustodyToken
	bank    external.NativeBank
	db      *sql.DB
	metrics *observability.Metrics
}

// NewQueryService builds a query service. db may be nil.
func NewQueryService(raffles RaffleSource, token external.CustodyToken, bank external.NativeBank, db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{raffles: raffles, token: token, bank: bank, db: db, metrics: metrics}
}

func (qs *QueryService) observe(endpoint string, start time.Time, err error) {
	if qs.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// GetRaffle returns the live state of a raffle.
func (qs *QueryService) GetRaffle(ctx context.Context, raffleID uuid.UUID) (view *RaffleView, err error) {
	start := time.Now()
	defer func() { qs.observe("get_raffle", start, err) }()

	r, err := qs.raffles.Get(raffleID)
	if err != nil {
		return nil, err
	}
	return raffleView(r.Snapshot()), nil
}

func raffleView(snap *core.Snapshot) *RaffleView {
	view := &RaffleView{
		RaffleID:     snap.RaffleID,
		State:        snap.State,
		Paused:       snap.Paused,
		Organizer:    snap.Config.Organizer,
		Admin:        snap.Admin,
		EntryPrice:   FormatAmount(snap.Config.EntryPrice, ledger.AssetCustody),
		PrizeAmount:  FormatAmount(snap.Config.PrizeAmount, ledger.AssetCustody),
		FeePercent:   snap.Config.FeePercent,
		MinEntries:   snap.Config.MinEntries,
		MaxEntries:   snap.Config.EffectiveMaxEntries(),
		Deadline:     snap.Config.Deadline,
		TotalSold:    snap.TotalSold,
		Buyers:       len(snap.Owned),
		AsOfSequence: snap.Sequence - 1,
	}
	if snap.Winner != nil {
		w, idx := *snap.Winner, snap.WinningIndex
		view.Winner = &w
		view.WinningIndex = &idx
	}
	if snap.PendingDraw != nil {
		id := snap.PendingDraw.RequestID
		view.RequestID = &id
	}
	return view
}

// GetEntryRanges returns the ownership ranges of a raffle in entry order.
func (qs *QueryService) GetEntryRanges(ctx context.Context, raffleID uuid.UUID) (ranges []RangeView, err error) {
	start := time.Now()
	defer func() { qs.observe("get_entry_ranges", start, err) }()

	r, err := qs.raffles.Get(raffleID)
	if err != nil {
		return nil, err
	}
	var lower uint64
	for _, rng := range r.Snapshot().Ranges {
		ranges = append(ranges, RangeView{Buyer: rng.Buyer, Lower: lower, Upper: rng.UpperBound})
		lower = rng.UpperBound
	}
	return ranges, nil
}

// GetClaimable returns what a participant can withdraw from a raffle.
func (qs *QueryService) GetClaimable(ctx context.Context, raffleID, participant uuid.UUID) (resp *ClaimableResponse, err error) {
	start := time.Now()
	defer func() { qs.observe("get_claimable", start, err) }()

	r, err := qs.raffles.Get(raffleID)
	if err != nil {
		return nil, err
	}
	snap := r.Snapshot()
	custody, native := r.Claimable(participant)
	return &ClaimableResponse{
		RaffleID:     raffleID,
		Participant:  participant,
		Custody:      FormatAmount(custody, ledger.AssetCustody),
		Native:       FormatAmount(native, ledger.AssetNative),
		EntriesOwned: snap.Owned[participant],
		AsOfSequence: snap.Sequence - 1,
	}, nil
}

// GetReserves compares the recorded liabilities with the balances held.
func (qs *QueryService) GetReserves(ctx context.Context, raffleID uuid.UUID) (resp *ReserveResponse, err error) {
	start := time.Now()
	defer func() { qs.observe("get_reserves", start, err) }()

	b, err := qs.reserves(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	return &ReserveResponse{
		RaffleID:        raffleID,
		CustodyReserved: FormatAmount(b.custodyReserved, ledger.AssetCustody),
		CustodyHeld:     FormatAmount(b.custodyHeld, ledger.AssetCustody),
		CustodySurplus:  FormatAmount(b.custodyHeld-b.custodyReserved, ledger.AssetCustody),
		NativeReserved:  FormatAmount(b.nativeReserved, ledger.AssetNative),
		NativeHeld:      FormatAmount(b.nativeHeld, ledger.AssetNative),
		NativeSurplus:   FormatAmount(b.nativeHeld-b.nativeReserved, ledger.AssetNative),
	}, nil
}

type reserveBalances struct {
	custodyReserved, custodyHeld int64
	nativeReserved, nativeHeld   int64
}

func (b reserveBalances) solvent() bool {
	return b.custodyHeld >= b.custodyReserved && b.nativeHeld >= b.nativeReserved
}

func (qs *QueryService) reserves(ctx context.Context, raffleID uuid.UUID) (reserveBalances, error) {
	var b reserveBalances
	r, err := qs.raffles.Get(raffleID)
	if err != nil {
		return b, err
	}
	b.custodyReserved, b.nativeReserved = r.Reserved()

	if b.custodyHeld, err = qs.token.BalanceOf(ctx, raffleID); err != nil {
		return b, errors.Wrap(err, "custody balance")
	}
	if b.nativeHeld, err = qs.bank.BalanceOf(ctx, raffleID); err != nil {
		return b, errors.Wrap(err, "native balance")
	}
	return b, nil
}

// ListRaffles returns the raffle list projection, or the hosted raffles'
// live state when no database is configured.
func (qs *QueryService) ListRaffles(ctx context.Context, stateFilter string, limit int) (list []RaffleSummary, err error) {
	start := time.Now()
	defer func() { qs.observe("list_raffles", start, err) }()

	if qs.db == nil {
		return qs.listHosted(stateFilter, limit)
	}

	query := `
		SELECT raffle_id, state, total_sold, entry_price, prize_amount, deadline,
		       organizer, winner, paused, last_sequence
		FROM projections.raffles
		WHERE ($1 = '' OR state = $1)
		ORDER BY deadline ASC, raffle_id
		LIMIT $2
	`
	rows, err := qs.db.QueryContext(ctx, query, stateFilter, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list raffles")
	}
	defer rows.Close()

	for rows.Next() {
		var s RaffleSummary
		var price, prize int64
		var winner uuid.NullUUID
		if err := rows.Scan(&s.RaffleID, &s.State, &s.TotalSold, &price, &prize, &s.Deadline,
			&s.Organizer, &winner, &s.Paused, &s.AsOfSequence); err != nil {
			return nil, err
		}
		s.EntryPrice = FormatAmount(price, ledger.AssetCustody)
		s.PrizeAmount = FormatAmount(prize, ledger.AssetCustody)
		if winner.Valid {
			w := winner.UUID
			s.Winner = &w
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func (qs *QueryService) listHosted(stateFilter string, limit int) ([]RaffleSummary, error) {
	var list []RaffleSummary
	for _, id := range qs.raffles.List() {
		r, err := qs.raffles.Get(id)
		if err != nil {
			continue
		}
		v := raffleView(r.Snapshot())
		if stateFilter != "" && v.State != stateFilter {
			continue
		}
		list = append(list, RaffleSummary{
			RaffleID:     v.RaffleID,
			State:        v.State,
			TotalSold:    int64(v.TotalSold),
			EntryPrice:   v.EntryPrice,
			PrizeAmount:  v.PrizeAmount,
			Deadline:     v.Deadline,
			Organizer:    v.Organizer,
			Winner:       v.Winner,
			Paused:       v.Paused,
			AsOfSequence: v.AsOfSequence,
		})
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Deadline.Before(list[j].Deadline)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// GetEventHistory pages through a raffle's event log after a sequence.
func (qs *QueryService) GetEventHistory(ctx context.Context, raffleID uuid.UUID, afterSequence int64, limit int) (events []EventEntry, err error) {
	start := time.Now()
	defer func() { qs.observe("get_event_history", start, err) }()

	if qs.db == nil {
		return nil, ErrNoHistory
	}
	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, event_type, command, idempotency_key, payload, state_hash, prev_hash, timestamp
		FROM event_log.events
		WHERE raffle_id = $1 AND sequence > $2
		ORDER BY sequence ASC
		LIMIT $3
	`, raffleID, afterSequence, limit)
	if err != nil {
		return nil, errors.Wrap(err, "event history")
	}
	defer rows.Close()

	for rows.Next() {
		var e EventEntry
		var payload, stateHash, prevHash []byte
		if err := rows.Scan(&e.Sequence, &e.EventType, &e.Command, &e.IdempotencyKey,
			&payload, &stateHash, &prevHash, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Payload = string(payload)
		e.StateHash = hex.EncodeToString(stateHash)
		e.PrevHash = hex.EncodeToString(prevHash)
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetJournalHistory returns the journals touching a participant's accounts
// in one raffle, newest first.
func (qs *QueryService) GetJournalHistory(ctx context.Context, raffleID, participant uuid.UUID, beforeSequence *int64, limit int) (entries []JournalHistoryEntry, err error) {
	start := time.Now()
	defer func() { qs.observe("get_journal_history", start, err) }()

	if qs.db == nil {
		return nil, ErrNoHistory
	}
	prefix := "user:" + participant.String() + ":%"
	rows, err := qs.db.QueryContext(ctx, `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE raffle_id = $1
		  AND (debit_account LIKE $2 OR credit_account LIKE $2)
		  AND ($3::BIGINT IS NULL OR sequence < $3)
		ORDER BY sequence DESC
		LIMIT $4
	`, raffleID, prefix, beforeSequence, limit)
	if err != nil {
		return nil, errors.Wrap(err, "journal history")
	}
	defer rows.Close()

	for rows.Next() {
		var e JournalHistoryEntry
		var assetID uint16
		var amount int64
		var journalType int32
		if err := rows.Scan(&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &assetID, &amount, &journalType, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Asset, _ = ledger.GetAssetName(ledger.AssetID(assetID))
		e.Amount = FormatAmount(amount, ledger.AssetID(assetID))
		e.JournalType = ledger.JournalType(journalType).String()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// VerifyIntegrity checks a raffle's persisted hash chain, the zero-sum of its
// projected balances and its live solvency.
func (qs *QueryService) VerifyIntegrity(ctx context.Context, raffleID uuid.UUID) (report *IntegrityReport, err error) {
	start := time.Now()
	defer func() { qs.observe("verify_integrity", start, err) }()

	b, err := qs.reserves(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	report = &IntegrityReport{RaffleID: raffleID, Solvent: b.solvent()}

	if qs.db != nil {
		rows, err := qs.db.QueryContext(ctx, `
			SELECT e1.sequence
			FROM event_log.events e1
			JOIN event_log.events e2
			  ON e2.raffle_id = e1.raffle_id AND e2.sequence = e1.sequence - 1
			WHERE e1.raffle_id = $1 AND e1.prev_hash <> e2.state_hash
			ORDER BY e1.sequence
			LIMIT 10
		`, raffleID)
		if err != nil {
			return nil, errors.Wrap(err, "hash chain")
		}
		for rows.Next() {
			var seq int64
			if err := rows.Scan(&seq); err != nil {
				rows.Close()
				return nil, err
			}
			report.HashChainBreaks = append(report.HashChainBreaks, seq)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}

		balanceRows, err := qs.db.QueryContext(ctx, `
			SELECT asset_id FROM projections.balances
			WHERE raffle_id = $1
			GROUP BY asset_id
			HAVING SUM(balance) <> 0
		`, raffleID)
		if err != nil {
			return nil, errors.Wrap(err, "balance check")
		}
		for balanceRows.Next() {
			var assetID uint16
			if err := balanceRows.Scan(&assetID); err != nil {
				balanceRows.Close()
				return nil, err
			}
			name, _ := ledger.GetAssetName(ledger.AssetID(assetID))
			report.UnbalancedAssets = append(report.UnbalancedAssets, name)
		}
		balanceRows.Close()
		if err := balanceRows.Err(); err != nil {
			return nil, err
		}
	}

	report.IsHealthy = report.Solvent && len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}
