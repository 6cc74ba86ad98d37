package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"weekplan/internal/domain"
	"weekplan/internal/lock"
	"weekplan/internal/observability"
	"weekplan/internal/timeutil"
)

// Store is the narrow record interface a scheduling run needs.
type Store interface {
	UnscheduledTasks(ctx context.Context) ([]domain.Task, error)
	EventsInWindow(ctx context.Context, start, end time.Time) ([]domain.Event, error)
	Blocks(ctx context.Context) ([]domain.Block, error)
	// CommitRun persists every placement of the run and the run record in
	// one transaction, or nothing.
	CommitRun(ctx context.Context, run domain.RunReport) error
}

// Reporter receives the report of every successful run.
type Reporter interface {
	Report(ctx context.Context, run domain.RunReport)
}

type Options struct {
	// Locker serializes runs; defaults to an in-process mutex.
	Locker   lock.Locker
	Reporter Reporter
	Clock    func() time.Time
}

type Scheduler struct {
	store    Store
	locker   lock.Locker
	reporter Reporter
	clock    func() time.Time
}

func NewScheduler(store Store, opts Options) *Scheduler {
	l := opts.Locker
	if l == nil {
		l = lock.NewMutex()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Scheduler{store: store, locker: l, reporter: opts.Reporter, clock: clock}
}

// ScheduleTasks places unscheduled tasks into the free time of the next
// horizon ("<days> D") and returns what was placed.
func (s *Scheduler) ScheduleTasks(ctx context.Context, horizon string) (domain.RunReport, error) {
	return s.ScheduleTasksAt(ctx, horizon, s.clock())
}

func (s *Scheduler) ScheduleTasksAt(ctx context.Context, horizon string, now time.Time) (domain.RunReport, error) {
	span, err := timeutil.ParseHorizon(horizon)
	if err != nil {
		return domain.RunReport{}, invalidf("%v", err)
	}

	ctx, tr := observability.StartSpan(ctx, "engine.schedule_tasks", attribute.String("horizon", horizon))
	defer tr.End()

	unlock, err := s.locker.Lock(ctx)
	if err != nil {
		// Lock timeouts and cancellation are not storage failures.
		if errors.Is(err, lock.ErrTimeout) || ctx.Err() != nil {
			return domain.RunReport{}, fmt.Errorf("acquire run lock: %w", err)
		}
		return domain.RunReport{}, storageError("acquire run lock", err)
	}
	defer unlock()

	run := domain.RunReport{RunID: "run_" + uuid.NewString(), Now: now, Horizon: horizon}
	logger := log.With().Str("run_id", run.RunID).Str("horizon", horizon).Logger()
	logger.Info().Time("now", now).Msg("scheduling run started")

	snap, err := s.snapshot(ctx, now, span)
	if err != nil {
		return domain.RunReport{}, err
	}

	tasks, occupied, err := Merge(now, span, snap)
	if err != nil {
		logger.Warn().Err(err).Msg("scheduling run aborted")
		return domain.RunReport{}, err
	}
	slots := FreeSlots(occupied)
	run.FreeSlots = len(slots)
	run.Placed, run.Unplaced = Assign(tasks, slots)
	run.FinishedAt = s.clock()

	for _, p := range run.Placed {
		logger.Debug().
			Str("task_id", p.Task.ID).
			Float64("score", p.Task.Score).
			Time("start", p.Event.Start).
			Time("end", p.Event.End).
			Msg("task placed")
	}
	if len(run.Unplaced) > 0 {
		logger.Info().Strs("task_ids", run.Unplaced).Msg("tasks left unscheduled")
	}

	if err := s.store.CommitRun(ctx, run); err != nil {
		logger.Error().Err(err).Msg("commit scheduling run")
		return domain.RunReport{}, storageError("commit run", err)
	}

	tr.SetAttributes(
		attribute.Int("tasks.placed", len(run.Placed)),
		attribute.Int("tasks.unplaced", len(run.Unplaced)),
		attribute.Int("slots.free", run.FreeSlots),
	)
	logger.Info().
		Int("placed", len(run.Placed)).
		Int("unplaced", len(run.Unplaced)).
		Int("free_slots", run.FreeSlots).
		Msg("scheduling run finished")

	if s.reporter != nil {
		s.reporter.Report(ctx, run)
	}
	return run, nil
}

func (s *Scheduler) snapshot(ctx context.Context, now time.Time, horizon time.Duration) (Snapshot, error) {
	tasks, err := s.store.UnscheduledTasks(ctx)
	if err != nil {
		return Snapshot{}, storageError("read tasks", err)
	}
	events, err := s.store.EventsInWindow(ctx, now, now.Add(horizon))
	if err != nil {
		return Snapshot{}, storageError("read events", err)
	}
	blocks, err := s.store.Blocks(ctx)
	if err != nil {
		return Snapshot{}, storageError("read blocks", err)
	}
	return Snapshot{Tasks: tasks, Events: events, Blocks: blocks, WeekStart: timeutil.WeekStart(now)}, nil
}
