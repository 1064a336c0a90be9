package main

import (
	"RaffleLedger/internal/core"
	"RaffleLedger/internal/external/sim"
	"RaffleLedger/internal/state"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type restartFixture struct {
	now      time.Time
	oracleID uuid.UUID
	operator uuid.UUID
	provider uuid.UUID
	config   state.RaffleConfig
}

func newRestartFixture() *restartFixture {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &restartFixture{
		now:      now,
		oracleID: uuid.New(),
		operator: uuid.New(),
		provider: uuid.New(),
		config: state.RaffleConfig{
			EntryPrice:   10,
			PrizeAmount:  1000,
			MinEntries:   5,
			MaxEntries:   100,
			Deadline:     now.Add(time.Hour),
			FeePercent:   10,
			Organizer:    uuid.New(),
			FeeRecipient: uuid.New(),
		},
	}
}

// boot builds a manager over fresh simulators, as a new process would.
func (f *restartFixture) boot(clock func() time.Time) (*core.Manager, *sim.Token, *sim.Bank, *sim.Oracle) {
	token := sim.NewToken(state.CustodyDecimals)
	bank := sim.NewBank()
	oracle := sim.NewOracle(f.oracleID, bank, 5)
	deps := core.Deps{
		Token:  token,
		Bank:   bank,
		Oracle: oracle,
		Clock:  clock,
		Logger: zerolog.Nop(),
	}
	return core.NewManager(deps, sim.NewDirectory(), nil), token, bank, oracle
}

// open creates a raffle on the first boot and buys count entries for buyer.
func (f *restartFixture) open(t *testing.T, buyer uuid.UUID, count uint64) (*core.Manager, *sim.Token, *sim.Bank, *core.Raffle) {
	t.Helper()
	mgr, token, bank, _ := f.boot(func() time.Time { return f.now })
	token.Mint(f.config.Organizer, f.config.PrizeAmount)
	token.Approve(f.config.Organizer, f.operator, f.config.PrizeAmount)

	r, err := mgr.CreateRaffle(context.Background(), core.CreateParams{
		Config:   f.config,
		Operator: f.operator,
		Provider: f.provider,
	})
	require.NoError(t, err)

	cost := f.config.EntryPrice * int64(count)
	token.Mint(buyer, cost)
	token.Approve(buyer, r.ID(), cost)
	_, err = r.Purchase(context.Background(), buyer, count)
	require.NoError(t, err)
	return mgr, token, bank, r
}

// ============================================================================
// Test: Restart with fresh simulators
// ============================================================================

func TestSeedSimulators_RestoredRaffleCancelsAndPays(t *testing.T) {
	f := newRestartFixture()
	buyer := uuid.New()
	_, _, _, r := f.open(t, buyer, 2)
	snap := r.Snapshot()

	later := f.now.Add(2 * time.Hour)
	mgr, token, bank, _ := f.boot(func() time.Time { return later })
	n, err := mgr.Restore([]*core.Snapshot{snap})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	seedSimulators(mgr, token, bank, zerolog.Nop())
	held, err := token.BalanceOf(context.Background(), r.ID())
	require.NoError(t, err)
	require.Equal(t, int64(1020), held)

	restored, err := mgr.Get(r.ID())
	require.NoError(t, err)

	refunded, err := restored.CancelExpired(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Equal(t, int64(1000), refunded)

	_, err = restored.ClaimRefund(context.Background(), buyer)
	require.NoError(t, err)
	paid, err := restored.Withdraw(context.Background(), buyer)
	require.NoError(t, err)
	require.Equal(t, int64(20), paid)

	got, err := token.BalanceOf(context.Background(), buyer)
	require.NoError(t, err)
	require.Equal(t, int64(20), got)
}

func TestSeedSimulators_KeepsExistingHoldings(t *testing.T) {
	f := newRestartFixture()
	_, token, bank, r := f.open(t, uuid.New(), 3)

	mgr, _, _, _ := f.boot(func() time.Time { return f.now })
	_, err := mgr.Restore([]*core.Snapshot{r.Snapshot()})
	require.NoError(t, err)

	seedSimulators(mgr, token, bank, zerolog.Nop())
	held, err := token.BalanceOf(context.Background(), r.ID())
	require.NoError(t, err)
	require.Equal(t, int64(1030), held)
}

func TestResumeDraws_RestoredDrawingCompletes(t *testing.T) {
	f := newRestartFixture()
	buyer := uuid.New()
	_, _, bank, r := f.open(t, buyer, 5)

	f.now = f.config.Deadline
	caller := uuid.New()
	bank.Mint(caller, 5)
	fin, err := r.Finalize(context.Background(), caller, 5)
	require.NoError(t, err)
	require.False(t, fin.Canceled)
	snap := r.Snapshot()
	require.NotNil(t, snap.PendingDraw)

	mgr, token, freshBank, oracle := f.boot(func() time.Time { return f.now })
	_, err = mgr.Restore([]*core.Snapshot{snap})
	require.NoError(t, err)
	seedSimulators(mgr, token, freshBank, zerolog.Nop())

	type response struct {
		raffleID  uuid.UUID
		requestID uint64
		provider  uuid.UUID
		value     [32]byte
	}
	delivered := make(chan response, 1)
	oracle.AutoRespond(func(ctx context.Context, raffleID uuid.UUID, requestID uint64, provider uuid.UUID, value [32]byte) {
		delivered <- response{raffleID, requestID, provider, value}
	}, 0)

	resumeDraws(mgr, oracle, zerolog.Nop())

	var resp response
	select {
	case resp = <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("resumed draw was not answered")
	}
	require.Equal(t, r.ID(), resp.raffleID)
	require.Equal(t, fin.RequestID, resp.requestID)

	restored, err := mgr.Get(r.ID())
	require.NoError(t, err)
	outcome := restored.OnResponse(context.Background(), f.oracleID, resp.requestID, resp.provider, resp.value)
	require.Equal(t, core.ResponseAccepted, outcome)
	require.Equal(t, state.RaffleStateCompleted, restored.State())

	paid, err := restored.Withdraw(context.Background(), buyer)
	require.NoError(t, err)
	require.Equal(t, int64(900), paid)
}
