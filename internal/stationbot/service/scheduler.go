package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RunFunc performs one run.
type RunFunc func(ctx context.Context) (RunReport, error)

// Scheduler repeats a run on a fixed interval. Runs are strictly sequential;
// a run never starts while another is in progress.
type Scheduler struct {
	run      RunFunc
	interval time.Duration
	observe  func(RunReport, error)
	logger   zerolog.Logger

	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

// SchedulerConfig holds the parameters for NewScheduler.
type SchedulerConfig struct {
	// Interval between the start of consecutive runs. Defaults to 15 minutes.
	Interval time.Duration

	// Observe, if set, is called after every run.
	Observe func(RunReport, error)
}

func NewScheduler(run RunFunc, cfg SchedulerConfig, logger zerolog.Logger) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scheduler{
		run:      run,
		interval: interval,
		observe:  cfg.Observe,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start runs once immediately and then on every tick until ctx is cancelled
// or Stop is called. Start must be called at most once.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)

	s.logger.Info().Dur("interval", s.interval).Msg("scheduler started")
}

// Stop signals the loop to exit and waits for the current run to finish.
// It is safe to call more than once, and before Start.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		s.once.Do(func() { close(s.done) })
		return
	}
	s.cancel()
	<-s.done
}

// Done is closed when the loop has exited.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

func (s *Scheduler) loop(ctx context.Context) {
	defer s.once.Do(func() { close(s.done) })

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	report, err := s.run(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("run_id", report.RunID).Msg("run failed; retrying on next tick")
	}
	if s.observe != nil {
		s.observe(report, err)
	}
}
