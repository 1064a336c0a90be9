package state

import (
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// EntryRange is a contiguous block of entries owned by one buyer.
// UpperBound is the exclusive cumulative entry count after this range.
type EntryRange struct {
	Buyer      uuid.UUID `json:"buyer"`
	UpperBound uint64    `json:"upper_bound"`
}

// EntryBook is the range-compressed ownership ledger of numbered entries.
// Consecutive purchases by the same buyer extend the last range, so the
// number of ranges grows only when the buyer changes.
type EntryBook struct {
	ranges []EntryRange
	owned  map[uuid.UUID]uint64 // buyer -> entries still eligible for refund
}

func NewEntryBook() *EntryBook {
	return &EntryBook{
		owned: make(map[uuid.UUID]uint64),
	}
}

// RestoreEntryBook rebuilds a book from persisted ranges and purchase records.
func RestoreEntryBook(ranges []EntryRange, owned map[uuid.UUID]uint64) (*EntryBook, error) {
	var prev uint64
	for i, r := range ranges {
		if r.UpperBound <= prev {
			return nil, errors.Errorf("range %d upper bound %d not above %d", i, r.UpperBound, prev)
		}
		prev = r.UpperBound
	}

	b := NewEntryBook()
	b.ranges = append(b.ranges, ranges...)
	for buyer, n := range owned {
		if n > 0 {
			b.owned[buyer] = n
		}
	}
	return b, nil
}

// TotalSold returns the cumulative entry count.
func (b *EntryBook) TotalSold() uint64 {
	if len(b.ranges) == 0 {
		return 0
	}
	return b.ranges[len(b.ranges)-1].UpperBound
}

// ExtendsLast reports whether a purchase by buyer would extend the last range
// instead of opening a new one.
func (b *EntryBook) ExtendsLast(buyer uuid.UUID) bool {
	return len(b.ranges) > 0 && b.ranges[len(b.ranges)-1].Buyer == buyer
}

// Append records count entries for buyer and returns the new total.
// Callers validate count and caps first; Append only keeps the ranges ordered.
func (b *EntryBook) Append(buyer uuid.UUID, count uint64) uint64 {
	total := b.TotalSold() + count

	if b.ExtendsLast(buyer) {
		b.ranges[len(b.ranges)-1].UpperBound = total
	} else {
		b.ranges = append(b.ranges, EntryRange{Buyer: buyer, UpperBound: total})
	}
	b.owned[buyer] += count

	return total
}

// FindWinner returns the buyer of the range containing index: the first
// range whose UpperBound is greater than index.
func (b *EntryBook) FindWinner(index uint64) (uuid.UUID, error) {
	if index >= b.TotalSold() {
		return uuid.Nil, errors.Wrapf(ErrIndexOutOfRange, "index %d, sold %d", index, b.TotalSold())
	}

	i := sort.Search(len(b.ranges), func(i int) bool {
		return b.ranges[i].UpperBound > index
	})
	return b.ranges[i].Buyer, nil
}

// Owned returns the refundable entry count recorded for buyer.
func (b *EntryBook) Owned(buyer uuid.UUID) uint64 {
	return b.owned[buyer]
}

// ClearOwned zeroes the purchase record for buyer and returns what it held.
// Ranges are left intact for audit.
func (b *EntryBook) ClearOwned(buyer uuid.UUID) uint64 {
	n := b.owned[buyer]
	delete(b.owned, buyer)
	return n
}

// RestoreOwned reinstates a purchase record cleared by ClearOwned.
func (b *EntryBook) RestoreOwned(buyer uuid.UUID, n uint64) {
	if n > 0 {
		b.owned[buyer] = n
	}
}

// RangeCount returns the number of stored ranges.
func (b *EntryBook) RangeCount() int {
	return len(b.ranges)
}

// Ranges returns a copy of the stored ranges.
func (b *EntryBook) Ranges() []EntryRange {
	out := make([]EntryRange, len(b.ranges))
	copy(out, b.ranges)
	return out
}

// OwnedSnapshot returns a copy of all purchase records.
func (b *EntryBook) OwnedSnapshot() map[uuid.UUID]uint64 {
	out := make(map[uuid.UUID]uint64, len(b.owned))
	for k, v := range b.owned {
		out[k] = v
	}
	return out
}
