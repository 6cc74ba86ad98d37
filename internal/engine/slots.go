package engine

import (
	"time"

	"weekplan/internal/domain"
)

// Buffer is the transition time kept free on each side of a commitment.
const Buffer = 300 * time.Second

// FreeSlots derives the open time between consecutive occupied intervals.
// Gaps of 2*Buffer or less are dropped; time before the first and after the
// last interval is never free. Overlapping input is tolerated: a gap is
// measured from the furthest end seen so far.
func FreeSlots(occupied []domain.Interval) []domain.Slot {
	if len(occupied) < 2 {
		return nil
	}
	var slots []domain.Slot
	reach := occupied[0].End
	for _, next := range occupied[1:] {
		delta := next.Start.Sub(reach)
		if delta > 2*Buffer {
			slots = append(slots, domain.Slot{
				Duration: int64((delta - 2*Buffer) / time.Second),
				Start:    reach.Add(Buffer),
				End:      next.Start.Add(-Buffer),
			})
		}
		if next.End.After(reach) {
			reach = next.End
		}
	}
	return slots
}
