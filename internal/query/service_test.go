package query_test

import (
	"RaffleLedger/internal/core"
	"RaffleLedger/internal/external/sim"
	"RaffleLedger/internal/ledger"
	"RaffleLedger/internal/query"
	"RaffleLedger/internal/state"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	token *sim.Token
	bank  *sim.Bank
	mgr   *core.Manager
	qs    *query.QueryService
	r     *core.Raffle
	buyer uuid.UUID
}

// newFixture hosts one open raffle priced at 2.5 with a 100 prize and one
// buyer holding three entries.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	bank := sim.NewBank()
	f := &fixture{
		token: sim.NewToken(state.CustodyDecimals),
		bank:  bank,
		buyer: uuid.New(),
	}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	deps := core.Deps{
		Token:  f.token,
		Bank:   bank,
		Oracle: sim.NewOracle(uuid.New(), bank, 5),
		Clock:  func() time.Time { return now },
		Logger: zerolog.Nop(),
	}
	f.mgr = core.NewManager(deps, sim.NewDirectory(), nil)
	f.qs = query.NewQueryService(f.mgr, f.token, bank, nil, nil)

	organizer, operator := uuid.New(), uuid.New()
	cfg := state.RaffleConfig{
		EntryPrice:   2_500_000,
		PrizeAmount:  100_000_000,
		MinEntries:   1,
		MaxEntries:   10,
		Deadline:     now.Add(time.Hour),
		FeePercent:   10,
		Organizer:    organizer,
		FeeRecipient: uuid.New(),
	}
	f.token.Mint(organizer, cfg.PrizeAmount)
	f.token.Approve(organizer, operator, cfg.PrizeAmount)

	r, err := f.mgr.CreateRaffle(context.Background(), core.CreateParams{
		Config:   cfg,
		Operator: operator,
		Provider: uuid.New(),
	})
	require.NoError(t, err)
	f.r = r

	f.token.Mint(f.buyer, 7_500_000)
	f.token.Approve(f.buyer, r.ID(), 7_500_000)
	_, err = r.Purchase(context.Background(), f.buyer, 3)
	require.NoError(t, err)
	return f
}

func TestGetRaffle_LiveView(t *testing.T) {
	f := newFixture(t)

	view, err := f.qs.GetRaffle(context.Background(), f.r.ID())
	require.NoError(t, err)
	require.Equal(t, "Open", view.State)
	require.Equal(t, "2.5", view.EntryPrice)
	require.Equal(t, "100", view.PrizeAmount)
	require.Equal(t, uint64(3), view.TotalSold)
	require.Equal(t, 1, view.Buyers)
	require.Nil(t, view.Winner)
	require.Nil(t, view.RequestID)
	require.Equal(t, f.r.Snapshot().Sequence-1, view.AsOfSequence)
}

func TestGetRaffle_Unknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.qs.GetRaffle(context.Background(), uuid.New())
	require.Equal(t, state.ErrUnknownRaffle, errors.Cause(err))
}

func TestGetEntryRanges(t *testing.T) {
	f := newFixture(t)
	ranges, err := f.qs.GetEntryRanges(context.Background(), f.r.ID())
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	require.Equal(t, query.RangeView{Buyer: f.buyer, Lower: 0, Upper: 3}, ranges[0])
}

func TestGetClaimable_BeforeResolution(t *testing.T) {
	f := newFixture(t)
	resp, err := f.qs.GetClaimable(context.Background(), f.r.ID(), f.buyer)
	require.NoError(t, err)
	require.Equal(t, "0", resp.Custody)
	require.Equal(t, "0", resp.Native)
	require.Equal(t, uint64(3), resp.EntriesOwned)
}

func TestGetReserves_SurplusFromDonation(t *testing.T) {
	f := newFixture(t)
	f.token.Mint(f.r.ID(), 1_000_000)

	resp, err := f.qs.GetReserves(context.Background(), f.r.ID())
	require.NoError(t, err)
	require.Equal(t, "107.5", resp.CustodyReserved)
	require.Equal(t, "108.5", resp.CustodyHeld)
	require.Equal(t, "1", resp.CustodySurplus)
	require.Equal(t, "0", resp.NativeSurplus)
}

func TestVerifyIntegrity_WithoutHistory(t *testing.T) {
	f := newFixture(t)
	report, err := f.qs.VerifyIntegrity(context.Background(), f.r.ID())
	require.NoError(t, err)
	require.True(t, report.Solvent)
	require.True(t, report.IsHealthy)
}

func TestListRaffles_FallsBackToHosted(t *testing.T) {
	f := newFixture(t)

	list, err := f.qs.ListRaffles(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, f.r.ID(), list[0].RaffleID)

	list, err = f.qs.ListRaffles(context.Background(), "Completed", 10)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestHistoryQueries_RequireDatabase(t *testing.T) {
	f := newFixture(t)
	_, err := f.qs.GetEventHistory(context.Background(), f.r.ID(), -1, 10)
	require.Equal(t, query.ErrNoHistory, err)

	_, err = f.qs.GetJournalHistory(context.Background(), f.r.ID(), f.buyer, nil, 10)
	require.Equal(t, query.ErrNoHistory, err)
}

func TestFormatAmount_NativeScale(t *testing.T) {
	require.Equal(t, "0.000000005", query.FormatAmount(5, ledger.AssetNative))
}
