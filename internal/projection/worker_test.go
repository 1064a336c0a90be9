package projection_test

import (
	"RaffleLedger/internal/projection"
	"RaffleLedger/internal/state"
	"testing"

	"github.com/google/uuid"
)

func TestEntryRangeRows_ExplicitBounds(t *testing.T) {
	x, y := uuid.New(), uuid.New()
	rows := projection.EntryRangeRows([]state.EntryRange{
		{Buyer: x, UpperBound: 3},
		{Buyer: y, UpperBound: 5},
		{Buyer: x, UpperBound: 9},
	})

	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	want := []struct {
		buyer        uuid.UUID
		lower, upper uint64
	}{
		{x, 0, 3},
		{y, 3, 5},
		{x, 5, 9},
	}
	for i, w := range want {
		if rows[i].Position != i || rows[i].Buyer != w.buyer || rows[i].Lower != w.lower || rows[i].Upper != w.upper {
			t.Errorf("row %d: got %+v, want %+v", i, rows[i], w)
		}
	}
}

func TestEntryRangeRows_Empty(t *testing.T) {
	if rows := projection.EntryRangeRows(nil); len(rows) != 0 {
		t.Errorf("got %d rows, want 0", len(rows))
	}
}
