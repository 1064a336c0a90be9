package state_test

import (
	"RaffleLedger/internal/state"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestEntryBook_ScenarioA(t *testing.T) {
	x, y := uuid.New(), uuid.New()
	b := state.NewEntryBook()

	require.Equal(t, uint64(2), b.Append(x, 2))
	require.Equal(t, uint64(5), b.Append(y, 3))

	for i, want := range []uuid.UUID{x, x, y, y, y} {
		got, err := b.FindWinner(uint64(i))
		require.NoError(t, err)
		require.Equal(t, want, got, "index %d", i)
	}

	_, err := b.FindWinner(5)
	require.ErrorIs(t, err, state.ErrIndexOutOfRange)
}

func TestEntryBook_ConsecutivePurchasesExtendRange(t *testing.T) {
	x, y := uuid.New(), uuid.New()
	b := state.NewEntryBook()

	b.Append(x, 1)
	b.Append(x, 4)
	require.Equal(t, 1, b.RangeCount())
	require.Equal(t, uint64(5), b.Owned(x))

	b.Append(y, 1)
	b.Append(x, 1)
	require.Equal(t, 3, b.RangeCount())
	require.Equal(t, uint64(6), b.Owned(x))
	require.Equal(t, uint64(7), b.TotalSold())
}

func TestEntryBook_ClearOwnedKeepsRanges(t *testing.T) {
	x := uuid.New()
	b := state.NewEntryBook()
	b.Append(x, 3)

	require.Equal(t, uint64(3), b.ClearOwned(x))
	require.Equal(t, uint64(0), b.Owned(x))
	require.Equal(t, uint64(0), b.ClearOwned(x))
	require.Equal(t, uint64(3), b.TotalSold())

	winner, err := b.FindWinner(2)
	require.NoError(t, err)
	require.Equal(t, x, winner)
}

func TestEntryBook_RandomSequencesHoldInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	buyers := make([]uuid.UUID, 5)
	for i := range buyers {
		buyers[i] = uuid.New()
	}

	for round := 0; round < 50; round++ {
		b := state.NewEntryBook()
		var sizes uint64
		n := rng.Intn(40) + 1
		for i := 0; i < n; i++ {
			count := uint64(rng.Intn(10) + 1)
			b.Append(buyers[rng.Intn(len(buyers))], count)
			sizes += count
		}

		ranges := b.Ranges()
		require.Equal(t, sizes, b.TotalSold())

		var prev uint64
		var sum uint64
		for i, r := range ranges {
			require.Greater(t, r.UpperBound, prev, "round %d range %d", round, i)
			sum += r.UpperBound - prev
			if i > 0 {
				require.NotEqual(t, ranges[i-1].Buyer, r.Buyer, "adjacent ranges must differ in buyer")
			}
			prev = r.UpperBound
		}
		require.Equal(t, b.TotalSold(), sum)

		// Every index resolves to the range containing it, including both edges.
		var lower uint64
		for _, r := range ranges {
			for _, idx := range []uint64{lower, r.UpperBound - 1} {
				got, err := b.FindWinner(idx)
				require.NoError(t, err)
				require.Equal(t, r.Buyer, got, "index %d", idx)
			}
			lower = r.UpperBound
		}
		for idx := uint64(0); idx < b.TotalSold(); idx++ {
			_, err := b.FindWinner(idx)
			require.NoError(t, err)
		}
	}
}

func TestRestoreEntryBook_RejectsUnorderedRanges(t *testing.T) {
	x, y := uuid.New(), uuid.New()

	_, err := state.RestoreEntryBook([]state.EntryRange{
		{Buyer: x, UpperBound: 4},
		{Buyer: y, UpperBound: 4},
	}, nil)
	require.Error(t, err)

	b, err := state.RestoreEntryBook([]state.EntryRange{
		{Buyer: x, UpperBound: 4},
		{Buyer: y, UpperBound: 9},
	}, map[uuid.UUID]uint64{x: 4, y: 5})
	require.NoError(t, err)
	require.Equal(t, uint64(9), b.TotalSold())
	require.Equal(t, uint64(5), b.Owned(y))
}
