package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"weekplan/internal/domain"
)

type Sender interface {
	Send(ctx context.Context, run domain.RunReport) error
}

// Dispatcher delivers run reports in the background so a scheduling run never
// waits on the network. Failed deliveries are retried with exponential backoff.
type Dispatcher struct {
	sender      Sender
	queue       chan domain.RunReport
	sem         chan struct{}
	maxAttempts int
	timeout     time.Duration
	backoff     func(attempt int) time.Duration
	wg          sync.WaitGroup
}

func NewDispatcher(sender Sender, size, maxAttempts int) *Dispatcher {
	if size <= 0 {
		size = 1
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Dispatcher{
		sender:      sender,
		queue:       make(chan domain.RunReport, 64),
		sem:         make(chan struct{}, size),
		maxAttempts: maxAttempts,
		timeout:     30 * time.Second,
		backoff:     backoffExp,
	}
}

// Report queues run for delivery. It drops the report when the queue is full.
func (d *Dispatcher) Report(ctx context.Context, run domain.RunReport) {
	select {
	case d.queue <- run:
	default:
		log.Warn().Str("run_id", run.RunID).Msg("report queue full, dropping run report")
	}
}

func (d *Dispatcher) Run(ctx context.Context) {
	defer d.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case run := <-d.queue:
			select {
			case d.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			d.wg.Add(1)
			go func(run domain.RunReport) {
				defer d.wg.Done()
				defer func() { <-d.sem }()
				d.deliver(ctx, run)
			}(run)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, run domain.RunReport) {
	for attempt := 1; ; attempt++ {
		c, cancel := context.WithTimeout(ctx, d.timeout)
		err := d.sender.Send(c, run)
		cancel()
		if err == nil {
			log.Info().Str("run_id", run.RunID).Int("attempt", attempt).Msg("run report delivered")
			return
		}
		if attempt >= d.maxAttempts {
			log.Error().Err(err).Str("run_id", run.RunID).Int("attempts", attempt).Msg("run report delivery failed")
			return
		}
		next := d.backoff(attempt)
		log.Warn().Err(err).Str("run_id", run.RunID).Dur("retry_in", next).Msg("run report delivery failed, retrying")
		select {
		case <-ctx.Done():
			return
		case <-time.After(next):
		}
	}
}

func backoffExp(attempts int) time.Duration {
	if attempts <= 0 {
		return time.Second
	}
	d := 1 << (attempts - 1) // 1,2,4,8...
	if d > 60 {
		d = 60
	}
	return time.Duration(d) * time.Second
}
