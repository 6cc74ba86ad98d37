package engine

import (
	"fmt"
	"time"

	"weekplan/internal/domain"
	"weekplan/internal/timeutil"
)

// Assign places tasks first-fit in priority order. A slot takes a task only
// when its remaining duration is strictly larger than the task; the slot is
// then shrunk in place from the front by the task plus one Buffer so later,
// shorter tasks can still use what is left. Tasks that fit nowhere are
// returned in unplaced.
func Assign(tasks []domain.ScoredTask, slots []domain.Slot) (placed []domain.Placement, unplaced []string) {
	for _, t := range tasks {
		i := firstFit(slots, t.Duration)
		if i < 0 {
			unplaced = append(unplaced, t.ID)
			continue
		}
		s := &slots[i]
		start := s.Start
		end := start.Add(time.Duration(t.Duration) * time.Second)

		t.Scheduled = true
		placed = append(placed, domain.Placement{
			Task: t,
			Event: domain.Event{
				ID:          t.ID,
				Description: describe(t),
				Start:       start,
				End:         end,
				FromTask:    true,
			},
		})

		s.Start = end.Add(Buffer)
		s.Duration = max(0, int64(s.End.Sub(s.Start)/time.Second))
	}
	return placed, unplaced
}

func firstFit(slots []domain.Slot, duration int64) int {
	for i := range slots {
		if slots[i].Duration > duration {
			return i
		}
	}
	return -1
}

func describe(t domain.ScoredTask) string {
	return fmt.Sprintf("Due on %s at %s. Level %d urgency",
		timeutil.HumanDate(t.DueDate), timeutil.HumanHour(t.DueDate), t.Urgency)
}
