package domain

import "time"

// Task is a unit of work with an estimated duration that still needs a place
// on the calendar.
type Task struct {
	ID        string
	Duration  int64 // seconds
	Urgency   int   // 1..5
	DueDate   time.Time
	Scheduled bool
	Completed bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Event struct {
	ID          string
	Description string
	Start       time.Time
	End         time.Time
	FromTask    bool
	Completed   bool
	CreatedAt   time.Time
}

// Block is a recurring weekly availability window. Start and End are offsets
// in seconds from Monday 00:00.
type Block struct {
	ID    string
	Start int64
	End   int64
}

const WeekSeconds = 7 * 24 * 60 * 60

type Interval struct {
	Start time.Time
	End   time.Time
}

type Slot struct {
	Duration int64 // seconds
	Start    time.Time
	End      time.Time
}

// ScoredTask carries the run-local view of a task: its score and the urgency
// after overdue escalation.
type ScoredTask struct {
	Task
	Score float64
}

type Placement struct {
	Task  ScoredTask
	Event Event
}

type RunReport struct {
	RunID      string
	Now        time.Time
	Horizon    string
	FreeSlots  int
	Placed     []Placement
	Unplaced   []string
	FinishedAt time.Time
}
