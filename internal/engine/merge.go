package engine

import (
	"sort"
	"time"

	"weekplan/internal/domain"
)

// Snapshot is everything one run reads from the store.
type Snapshot struct {
	Tasks     []domain.Task
	Events    []domain.Event
	Blocks    []domain.Block
	WeekStart time.Time
}

// Merge scores the tasks and folds availability and events into one
// chronologically sorted list of occupied intervals covering [now, now+horizon].
func Merge(now time.Time, horizon time.Duration, snap Snapshot) ([]domain.ScoredTask, []domain.Interval, error) {
	tasks, err := rankTasks(now, snap.Tasks)
	if err != nil {
		return nil, nil, err
	}

	end := now.Add(horizon)
	windows := projectBlocks(snap.Blocks, snap.WeekStart, now, end)
	occupied := unavailable(windows, now, end)
	for _, ev := range snap.Events {
		if ev.End.After(now) && ev.Start.Before(end) {
			occupied = append(occupied, domain.Interval{Start: ev.Start, End: ev.End})
		}
	}
	sort.SliceStable(occupied, func(i, j int) bool { return occupied[i].Start.Before(occupied[j].Start) })
	return tasks, occupied, nil
}

func rankTasks(now time.Time, tasks []domain.Task) ([]domain.ScoredTask, error) {
	out := make([]domain.ScoredTask, 0, len(tasks))
	for _, t := range tasks {
		if t.Scheduled || t.Completed {
			continue
		}
		score, urgency, err := Score(t, now)
		if err != nil {
			return nil, err
		}
		st := domain.ScoredTask{Task: t, Score: score}
		st.Urgency = urgency
		out = append(out, st)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// projectBlocks places the weekly templates on the current week only, drops
// windows already over at now, clips the rest to [now, end] and coalesces
// overlaps. Later weeks stay unavailable even when the horizon reaches them.
func projectBlocks(blocks []domain.Block, weekStart, now, end time.Time) []domain.Interval {
	var out []domain.Interval
	for _, b := range blocks {
		iv := domain.Interval{
			Start: weekStart.Add(time.Duration(b.Start) * time.Second),
			End:   weekStart.Add(time.Duration(b.End) * time.Second),
		}
		if !iv.End.After(now) || !iv.Start.Before(end) {
			continue
		}
		if iv.Start.Before(now) {
			iv.Start = now
		}
		if iv.End.After(end) {
			iv.End = end
		}
		out = append(out, iv)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })

	merged := out[:0]
	for _, iv := range out {
		if n := len(merged); n > 0 && !iv.Start.After(merged[n-1].End) {
			if iv.End.After(merged[n-1].End) {
				merged[n-1].End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// unavailable returns the complement of windows within [from, to] as occupied
// intervals. Each span is narrowed by one buffer on both sides so the slot
// finder's transition buffers cancel out at availability edges. No windows
// means the whole range is unavailable.
func unavailable(windows []domain.Interval, from, to time.Time) []domain.Interval {
	out := make([]domain.Interval, 0, len(windows)+1)
	cursor := from
	for _, w := range windows {
		out = append(out, narrow(cursor, w.Start))
		cursor = w.End
	}
	return append(out, narrow(cursor, to))
}

func narrow(start, end time.Time) domain.Interval {
	if end.Sub(start) < 2*Buffer {
		mid := start.Add(end.Sub(start) / 2)
		return domain.Interval{Start: mid, End: mid}
	}
	return domain.Interval{Start: start.Add(Buffer), End: end.Add(-Buffer)}
}
