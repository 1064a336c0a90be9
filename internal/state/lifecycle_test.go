package state_test

import (
	"RaffleLedger/internal/state"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestRaffleState_Transitions(t *testing.T) {
	allowed := map[[2]state.RaffleState]bool{
		{state.RaffleStateFundingPending, state.RaffleStateOpen}: true,
		{state.RaffleStateOpen, state.RaffleStateDrawing}:         true,
		{state.RaffleStateOpen, state.RaffleStateCanceled}:        true,
		{state.RaffleStateDrawing, state.RaffleStateCompleted}:    true,
		{state.RaffleStateDrawing, state.RaffleStateCanceled}:     true,
	}

	for from := state.RaffleStateFundingPending; from <= state.RaffleStateCanceled; from++ {
		for to := state.RaffleStateFundingPending; to <= state.RaffleStateCanceled; to++ {
			require.Equal(t, allowed[[2]state.RaffleState{from, to}], from.CanTransitionTo(to),
				"%s -> %s", from, to)
		}
	}

	require.True(t, state.RaffleStateCanceled.IsTerminal())
	require.True(t, state.RaffleStateCompleted.IsTerminal())
	require.False(t, state.RaffleStateDrawing.IsTerminal())
}

func TestParseRaffleState(t *testing.T) {
	for s := state.RaffleStateFundingPending; s <= state.RaffleStateCanceled; s++ {
		got, ok := state.ParseRaffleState(s.String())
		require.True(t, ok)
		require.Equal(t, s, got)
	}
	_, ok := state.ParseRaffleState("Bogus")
	require.False(t, ok)
}

func validConfig(now time.Time) state.RaffleConfig {
	return state.RaffleConfig{
		EntryPrice:   1_000_000,
		PrizeAmount:  1_000_000_000,
		MinEntries:   2,
		MaxEntries:   100,
		Deadline:     now.Add(48 * time.Hour),
		FeePercent:   10,
		Organizer:    uuid.New(),
		FeeRecipient: uuid.New(),
	}
}

func TestRaffleConfig_Validate(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	require.NoError(t, validConfig(now).Validate(now))

	mutations := map[string]func(*state.RaffleConfig){
		"zero price":        func(c *state.RaffleConfig) { c.EntryPrice = 0 },
		"zero prize":        func(c *state.RaffleConfig) { c.PrizeAmount = 0 },
		"no organizer":      func(c *state.RaffleConfig) { c.Organizer = uuid.Nil },
		"no fee recipient":  func(c *state.RaffleConfig) { c.FeeRecipient = uuid.Nil },
		"fee too high":      func(c *state.RaffleConfig) { c.FeePercent = state.MaxFeePercent + 1 },
		"negative fee":      func(c *state.RaffleConfig) { c.FeePercent = -1 },
		"max below min":     func(c *state.RaffleConfig) { c.MaxEntries = 1 },
		"max above cap":     func(c *state.RaffleConfig) { c.MaxEntries = state.HardCapEntries + 1 },
		"past deadline":     func(c *state.RaffleConfig) { c.Deadline = now },
		"big min purchase":  func(c *state.RaffleConfig) { c.MinPurchaseEntries = state.MaxEntriesPerPurchase + 1 },
		"negative min cost": func(c *state.RaffleConfig) { c.MinNewRangeCost = -1 },
		"revenue overflow": func(c *state.RaffleConfig) {
			c.MaxEntries = 0
			c.EntryPrice = 1 << 40
		},
	}

	for name, mutate := range mutations {
		cfg := validConfig(now)
		mutate(&cfg)
		err := cfg.Validate(now)
		require.Error(t, err, name)
		require.Equal(t, state.ErrInvalidConfig, errors.Cause(err), name)
		require.Equal(t, state.KindConfiguration, state.KindOf(err), name)
	}
}

func TestRaffleConfig_EffectiveMaxEntries(t *testing.T) {
	cfg := state.RaffleConfig{}
	require.Equal(t, state.HardCapEntries, cfg.EffectiveMaxEntries())
	require.False(t, cfg.HasMaxEntries())

	cfg.MaxEntries = 10
	require.Equal(t, uint64(10), cfg.EffectiveMaxEntries())
	require.True(t, cfg.HasMaxEntries())
}

func TestDrawCoordinator_SingleOutstandingRequest(t *testing.T) {
	dc := state.NewDrawCoordinator()
	provider := uuid.New()
	at := time.Unix(1_700_000_000, 0)

	require.Equal(t, 0, dc.ActiveDrawings())
	require.ErrorIs(t, dc.Begin(state.DrawRequest{RequestID: 1, Provider: provider}), state.ErrNotEligible)

	require.NoError(t, dc.Begin(state.DrawRequest{RequestID: 7, RequestedAt: at, Provider: provider, SoldSnapshot: 5}))
	require.Equal(t, 1, dc.ActiveDrawings())
	require.ErrorIs(t, dc.Begin(state.DrawRequest{RequestID: 8, Provider: provider, SoldSnapshot: 5}), state.ErrDrawingInFlight)
	require.Equal(t, 1, dc.ActiveDrawings())

	idOK, provOK := dc.Matches(7, provider)
	require.True(t, idOK)
	require.True(t, provOK)
	idOK, provOK = dc.Matches(7, uuid.New())
	require.True(t, idOK)
	require.False(t, provOK)
	idOK, _ = dc.Matches(6, provider)
	require.False(t, idOK)

	req := dc.Clear()
	require.NotNil(t, req)
	require.Equal(t, uint64(5), req.SoldSnapshot)
	require.Equal(t, 0, dc.ActiveDrawings())
	require.Nil(t, dc.Clear())
	require.Equal(t, 0, dc.ActiveDrawings())
}

func TestDrawCoordinator_GracePeriods(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)
	dc := state.NewDrawCoordinator()
	require.False(t, dc.GraceElapsed(at.Add(30*24*time.Hour), false))

	require.NoError(t, dc.Begin(state.DrawRequest{RequestID: 1, RequestedAt: at, Provider: uuid.New(), SoldSnapshot: 1}))

	require.False(t, dc.GraceElapsed(at.Add(state.AdminGracePeriod-time.Second), true))
	require.True(t, dc.GraceElapsed(at.Add(state.AdminGracePeriod), true))
	require.False(t, dc.GraceElapsed(at.Add(state.AdminGracePeriod), false))
	require.False(t, dc.GraceElapsed(at.Add(state.PublicGracePeriod-time.Second), false))
	require.True(t, dc.GraceElapsed(at.Add(state.PublicGracePeriod), false))
}

func TestKindOf(t *testing.T) {
	require.Equal(t, state.KindAuthorization, state.KindOf(errors.Wrap(state.ErrNotAdmin, "pause")))
	require.Equal(t, state.KindState, state.KindOf(state.ErrNoSurplus))
	require.Equal(t, state.KindPayment, state.KindOf(errors.Wrapf(state.ErrPaymentFailed, "x")))
	require.Equal(t, state.KindUnknown, state.KindOf(errors.New("other")))
	require.Equal(t, state.KindUnknown, state.KindOf(nil))
}
