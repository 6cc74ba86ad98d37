package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"weekplan/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
	// ErrConflict is returned when a run's placements no longer match the
	// stored state: a task was scheduled meanwhile or its time got taken.
	ErrConflict = errors.New("placement conflict")
	ErrInvalid  = errors.New("invalid input")
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  duration INTEGER NOT NULL CHECK(duration > 0),
  urgency INTEGER NOT NULL CHECK(urgency BETWEEN 1 AND 5),
  due_at INTEGER NOT NULL,
  scheduled INTEGER NOT NULL DEFAULT 0,
  completed INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_open ON tasks(scheduled, completed);
CREATE TABLE IF NOT EXISTS events (
  id TEXT PRIMARY KEY,
  description TEXT NOT NULL DEFAULT '',
  start_at INTEGER NOT NULL,
  end_at INTEGER NOT NULL,
  from_task INTEGER NOT NULL DEFAULT 0,
  completed INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL,
  CHECK(end_at > start_at)
);
CREATE INDEX IF NOT EXISTS idx_events_window ON events(start_at, end_at);
CREATE TABLE IF NOT EXISTS blocks (
  id TEXT PRIMARY KEY,
  start_offset INTEGER NOT NULL,
  end_offset INTEGER NOT NULL,
  CHECK(start_offset >= 0 AND end_offset > start_offset AND end_offset <= 604800)
);
CREATE TABLE IF NOT EXISTS schedule_runs (
  id TEXT PRIMARY KEY,
  ran_at INTEGER NOT NULL,
  horizon TEXT NOT NULL,
  free_slots INTEGER NOT NULL,
  placed INTEGER NOT NULL,
  unplaced INTEGER NOT NULL,
  finished_at INTEGER NOT NULL
);
`
	_, err := db.Exec(schema)
	return err
}

type Repository interface {
	CreateTask(ctx context.Context, t domain.Task) (string, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	ListTasks(ctx context.Context, includeCompleted bool) ([]domain.Task, error)
	UpdateTask(ctx context.Context, t domain.Task) error
	CompleteTask(ctx context.Context, id string) error
	UnscheduleTask(ctx context.Context, id string) error
	DeleteTask(ctx context.Context, id string) error

	CreateEvent(ctx context.Context, e domain.Event) (string, error)
	GetEvent(ctx context.Context, id string) (domain.Event, error)
	DeleteEvent(ctx context.Context, id string) error
	EventsInWindow(ctx context.Context, start, end time.Time) ([]domain.Event, error)

	CreateBlock(ctx context.Context, b domain.Block) (string, error)
	DeleteBlock(ctx context.Context, id string) error
	Blocks(ctx context.Context) ([]domain.Block, error)

	// Scheduling run
	UnscheduledTasks(ctx context.Context) ([]domain.Task, error)
	CommitRun(ctx context.Context, run domain.RunReport) error
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

type RunRecord struct {
	ID         string    `json:"id"`
	RanAt      time.Time `json:"ran_at"`
	Horizon    string    `json:"horizon"`
	FreeSlots  int       `json:"free_slots"`
	Placed     int       `json:"placed"`
	Unplaced   int       `json:"unplaced"`
	FinishedAt time.Time `json:"finished_at"`
}

type sqliteRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db, now: time.Now} }

const taskCols = `id,duration,urgency,due_at,scheduled,completed,created_at,updated_at`

type scanner interface{ Scan(dest ...any) error }

func scanTask(s scanner) (domain.Task, error) {
	var t domain.Task
	var due, created, updated int64
	if err := s.Scan(&t.ID, &t.Duration, &t.Urgency, &due, &t.Scheduled, &t.Completed, &created, &updated); err != nil {
		return domain.Task{}, err
	}
	t.DueDate = time.Unix(due, 0)
	t.CreatedAt = time.Unix(created, 0)
	t.UpdatedAt = time.Unix(updated, 0)
	return t, nil
}

func (r *sqliteRepo) CreateTask(ctx context.Context, t domain.Task) (string, error) {
	id := t.ID
	if id == "" {
		id = "tsk_" + uuid.NewString()
	}
	if err := validateTask(t); err != nil {
		return "", err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var completed bool
	err = tx.QueryRowContext(ctx, `SELECT completed FROM tasks WHERE id=?`, id).Scan(&completed)
	switch {
	case err == nil && !completed:
		return "", fmt.Errorf("task %s: %w", id, ErrExists)
	case err == nil:
		// A completed task frees its ID for reuse, along with its event.
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id); err != nil {
			return "", err
		}
		if err := deleteDerivedEvent(ctx, tx, id); err != nil {
			return "", err
		}
	case !errors.Is(err, sql.ErrNoRows):
		return "", err
	}

	// The task's event will take the task ID, so it must not be held by an
	// unfinished event.
	now := r.now().Unix()
	var held int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE id=? AND end_at > ?`, id, now).Scan(&held); err != nil {
		return "", err
	}
	if held > 0 {
		return "", fmt.Errorf("task %s: id held by an event: %w", id, ErrExists)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO tasks (`+taskCols+`)
VALUES (?,?,?,?,0,0,?,?)`, id, t.Duration, t.Urgency, t.DueDate.Unix(), now, now)
	if err != nil {
		return "", err
	}
	return id, tx.Commit()
}

func (r *sqliteRepo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := scanTask(r.db.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, err
}

func (r *sqliteRepo) ListTasks(ctx context.Context, includeCompleted bool) ([]domain.Task, error) {
	q := `SELECT ` + taskCols + ` FROM tasks`
	if !includeCompleted {
		q += ` WHERE completed=0`
	}
	return r.queryTasks(ctx, q+` ORDER BY rowid`)
}

func (r *sqliteRepo) UnscheduledTasks(ctx context.Context) ([]domain.Task, error) {
	return r.queryTasks(ctx, `SELECT `+taskCols+` FROM tasks WHERE scheduled=0 AND completed=0 ORDER BY rowid`)
}

func (r *sqliteRepo) queryTasks(ctx context.Context, q string, args ...any) ([]domain.Task, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTask rewrites duration, urgency and due date. The task goes back to
// unscheduled and loses its derived event.
func (r *sqliteRepo) UpdateTask(ctx context.Context, t domain.Task) error {
	if err := validateTask(t); err != nil {
		return err
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE tasks SET duration=?,urgency=?,due_at=?,scheduled=0,updated_at=?
WHERE id=? AND completed=0`, t.Duration, t.Urgency, t.DueDate.Unix(), r.now().Unix(), t.ID)
		if err := expectRow(res, err, "task", t.ID); err != nil {
			return err
		}
		return deleteDerivedEvent(ctx, tx, t.ID)
	})
}

func (r *sqliteRepo) CompleteTask(ctx context.Context, id string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE tasks SET completed=1,updated_at=? WHERE id=?`, r.now().Unix(), id)
		if err := expectRow(res, err, "task", id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE events SET completed=1 WHERE id=? AND from_task=1`, id)
		return err
	})
}

func (r *sqliteRepo) UnscheduleTask(ctx context.Context, id string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE tasks SET scheduled=0,updated_at=? WHERE id=?`, r.now().Unix(), id)
		if err := expectRow(res, err, "task", id); err != nil {
			return err
		}
		return deleteDerivedEvent(ctx, tx, id)
	})
}

func (r *sqliteRepo) DeleteTask(ctx context.Context, id string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
		if err := expectRow(res, err, "task", id); err != nil {
			return err
		}
		return deleteDerivedEvent(ctx, tx, id)
	})
}

func deleteDerivedEvent(ctx context.Context, tx *sql.Tx, taskID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id=? AND from_task=1`, taskID)
	return err
}

const eventCols = `id,description,start_at,end_at,from_task,completed,created_at`

func scanEvent(s scanner) (domain.Event, error) {
	var e domain.Event
	var start, end, created int64
	if err := s.Scan(&e.ID, &e.Description, &start, &end, &e.FromTask, &e.Completed, &created); err != nil {
		return domain.Event{}, err
	}
	e.Start = time.Unix(start, 0)
	e.End = time.Unix(end, 0)
	e.CreatedAt = time.Unix(created, 0)
	return e, nil
}

func (r *sqliteRepo) CreateEvent(ctx context.Context, e domain.Event) (string, error) {
	id := e.ID
	if id == "" {
		id = "evt_" + uuid.NewString()
	}
	if !e.End.After(e.Start) {
		return "", fmt.Errorf("event %s: end must be after start: %w", id, ErrInvalid)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	now := r.now()
	var end int64
	err = tx.QueryRowContext(ctx, `SELECT end_at FROM events WHERE id=?`, id).Scan(&end)
	switch {
	case err == nil && end > now.Unix():
		return "", fmt.Errorf("event %s: %w", id, ErrExists)
	case err == nil:
		// Finished events free their ID for reuse.
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id=?`, id); err != nil {
			return "", err
		}
	case !errors.Is(err, sql.ErrNoRows):
		return "", err
	}

	// Open tasks reserve their ID for the event a run will give them.
	var open int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE id=? AND completed=0`, id).Scan(&open); err != nil {
		return "", err
	}
	if open > 0 {
		return "", fmt.Errorf("event %s: id held by an open task: %w", id, ErrExists)
	}

	if err := insertEvent(ctx, tx, domain.Event{
		ID: id, Description: e.Description, Start: e.Start, End: e.End, FromTask: e.FromTask,
	}, now); err != nil {
		return "", err
	}
	return id, tx.Commit()
}

func insertEvent(ctx context.Context, tx *sql.Tx, e domain.Event, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO events (`+eventCols+`)
VALUES (?,?,?,?,?,?,?)`, e.ID, e.Description, e.Start.Unix(), e.End.Unix(), e.FromTask, e.Completed, now.Unix())
	return err
}

func (r *sqliteRepo) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	e, err := scanEvent(r.db.QueryRowContext(ctx, `SELECT `+eventCols+` FROM events WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Event{}, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return e, err
}

func (r *sqliteRepo) DeleteEvent(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id=?`, id)
	return expectRow(res, err, "event", id)
}

func (r *sqliteRepo) EventsInWindow(ctx context.Context, start, end time.Time) ([]domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+eventCols+` FROM events
WHERE end_at > ? AND start_at < ?
ORDER BY start_at, rowid`, start.Unix(), end.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *sqliteRepo) CreateBlock(ctx context.Context, b domain.Block) (string, error) {
	id := b.ID
	if id == "" {
		id = "blk_" + uuid.NewString()
	}
	if b.Start < 0 || b.End <= b.Start || b.End > domain.WeekSeconds {
		return "", fmt.Errorf("block %s: offsets must satisfy 0 <= start < end <= %d: %w", id, domain.WeekSeconds, ErrInvalid)
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO blocks (id,start_offset,end_offset) VALUES (?,?,?)`, id, b.Start, b.End)
	return id, err
}

func (r *sqliteRepo) DeleteBlock(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM blocks WHERE id=?`, id)
	return expectRow(res, err, "block", id)
}

func (r *sqliteRepo) Blocks(ctx context.Context) ([]domain.Block, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id,start_offset,end_offset FROM blocks ORDER BY start_offset, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []domain.Block
	for rows.Next() {
		var b domain.Block
		if err := rows.Scan(&b.ID, &b.Start, &b.End); err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// CommitRun writes every placement of a run plus the run record in one
// transaction. Each placement is re-checked inside the transaction: the task
// must still be open and nothing stored may overlap the new event.
func (r *sqliteRepo) CommitRun(ctx context.Context, run domain.RunReport) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		now := r.now()
		for _, p := range run.Placed {
			res, err := tx.ExecContext(ctx, `
UPDATE tasks SET scheduled=1,updated_at=?
WHERE id=? AND scheduled=0 AND completed=0`, now.Unix(), p.Task.ID)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n != 1 {
				return fmt.Errorf("task %s is no longer open: %w", p.Task.ID, ErrConflict)
			}

			var overlapping int
			err = tx.QueryRowContext(ctx, `
SELECT COUNT(*) FROM events WHERE start_at < ? AND end_at > ?`, p.Event.End.Unix(), p.Event.Start.Unix()).Scan(&overlapping)
			if err != nil {
				return err
			}
			if overlapping > 0 {
				return fmt.Errorf("time for task %s was taken: %w", p.Task.ID, ErrConflict)
			}

			// Finished events and leftovers of completed tasks give up the ID.
			if _, err := tx.ExecContext(ctx, `
DELETE FROM events WHERE id=? AND (end_at <= ? OR (from_task=1 AND completed=1))`, p.Event.ID, now.Unix()); err != nil {
				return err
			}
			if err := insertEvent(ctx, tx, p.Event, now); err != nil {
				return fmt.Errorf("insert event %s: %v: %w", p.Event.ID, err, ErrConflict)
			}
		}

		_, err := tx.ExecContext(ctx, `
INSERT INTO schedule_runs (id,ran_at,horizon,free_slots,placed,unplaced,finished_at)
VALUES (?,?,?,?,?,?,?)`, run.RunID, run.Now.Unix(), run.Horizon, run.FreeSlots, len(run.Placed), len(run.Unplaced), run.FinishedAt.Unix())
		return err
	})
}

func (r *sqliteRepo) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,ran_at,horizon,free_slots,placed,unplaced,finished_at
FROM schedule_runs ORDER BY ran_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var rr RunRecord
		var ran, finished int64
		if err := rows.Scan(&rr.ID, &ran, &rr.Horizon, &rr.FreeSlots, &rr.Placed, &rr.Unplaced, &finished); err != nil {
			return nil, err
		}
		rr.RanAt = time.Unix(ran, 0)
		rr.FinishedAt = time.Unix(finished, 0)
		runs = append(runs, rr)
	}
	return runs, rows.Err()
}

func (r *sqliteRepo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func expectRow(res sql.Result, err error, kind, id string) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func validateTask(t domain.Task) error {
	if t.Duration <= 0 {
		return fmt.Errorf("task %s: duration must be positive: %w", t.ID, ErrInvalid)
	}
	if t.Urgency < 1 || t.Urgency > 5 {
		return fmt.Errorf("task %s: urgency must be within 1-5: %w", t.ID, ErrInvalid)
	}
	return nil
}
