package autorun

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"weekplan/internal/domain"
)

// Runner is satisfied by *engine.Scheduler.
type Runner interface {
	ScheduleTasks(ctx context.Context, horizon string) (domain.RunReport, error)
}

// Service triggers a scheduling run on a cron expression.
type Service struct {
	runner  Runner
	cron    *cron.Cron
	expr    string
	horizon string
	timeout time.Duration
}

func NewService(runner Runner, expr, horizon string) (*Service, error) {
	if err := ValidateCronExpression(expr); err != nil {
		return nil, err
	}
	return &Service{
		runner:  runner,
		cron:    cron.New(),
		expr:    expr,
		horizon: horizon,
		timeout: time.Minute,
	}, nil
}

// Start registers the job and runs the cron loop until ctx is done.
func (s *Service) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.expr, func() { s.trigger(ctx) }); err != nil {
		return err
	}
	s.cron.Start()

	next, _ := NextRunTime(s.expr, time.Now())
	log.Info().Str("cron_expr", s.expr).Str("horizon", s.horizon).Time("next_run", next).Msg("auto scheduling started")

	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

func (s *Service) trigger(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	c, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	run, err := s.runner.ScheduleTasks(c, s.horizon)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Error().Err(err).Str("horizon", s.horizon).Msg("auto scheduling run failed")
		return
	}
	log.Info().
		Str("run_id", run.RunID).
		Int("placed", len(run.Placed)).
		Int("unplaced", len(run.Unplaced)).
		Msg("auto scheduling run done")
}

// ValidateCronExpression validates a cron expression
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

// NextRunTime calculates the next run time for a cron expression
func NextRunTime(expr string, from time.Time) (time.Time, error) {
	cronSchedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return cronSchedule.Next(from), nil
}
