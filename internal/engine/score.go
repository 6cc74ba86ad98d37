package engine

import (
	"time"

	"weekplan/internal/domain"
)

const (
	MinUrgency = 1
	MaxUrgency = 5

	daySeconds = 86400
)

// Score ranks a task for placement. It returns the score (roughly 0..100) and
// the urgency after overdue escalation; the caller's task is not modified.
func Score(t domain.Task, now time.Time) (float64, int, error) {
	if t.Duration <= 0 {
		return 0, 0, invalidf("task %q: duration must be positive, got %d", t.ID, t.Duration)
	}
	if t.Urgency < MinUrgency || t.Urgency > MaxUrgency {
		return 0, 0, invalidf("task %q: urgency must be within 1-5, got %d", t.ID, t.Urgency)
	}

	timeToDue := t.DueDate.Unix() - now.Unix()
	urgency := escalate(t.Urgency, timeToDue)

	score := clamp(deadlinePoints(timeToDue)) +
		clamp(urgencyPoints(urgency)) +
		clamp(durationPoints(t.Duration))
	return score, urgency, nil
}

// escalate raises the urgency of an overdue task by one level per started
// day overdue, capped at MaxUrgency. More than four days overdue is always
// MaxUrgency.
func escalate(urgency int, timeToDue int64) int {
	if timeToDue >= 0 {
		return urgency
	}
	for k := int64(1); k <= 4; k++ {
		if timeToDue >= -k*daySeconds {
			return min(MaxUrgency, urgency+int(k))
		}
	}
	return MaxUrgency
}

// deadlinePoints is a step function over whole-day buckets. Past the first
// day the bucket value is 30 - 35n/8, which goes negative in the seventh
// bucket; the caller clamps it.
func deadlinePoints(timeToDue int64) float64 {
	if timeToDue <= daySeconds {
		return 35
	}
	for n := int64(2); n <= 7; n++ {
		if timeToDue <= n*daySeconds {
			return 30 - (35*float64(n))/8
		}
	}
	return 0
}

func urgencyPoints(urgency int) float64 {
	return 12.5 * float64(urgency-MinUrgency)
}

func durationPoints(seconds int64) float64 {
	switch {
	case seconds <= 300:
		return 15
	case seconds <= 900:
		return 12
	case seconds <= 1800:
		return 9
	case seconds <= 3600:
		return 6
	case seconds <= 7200:
		return 3
	default:
		return 0
	}
}

func clamp(points float64) float64 {
	if points < 0 {
		return 0
	}
	return points
}
