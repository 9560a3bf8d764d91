package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// OverdueFinisher closes sessions whose time ran out.
type OverdueFinisher interface {
	FinishOverdue(ctx context.Context, now time.Time, grace time.Duration) (int, error)
}

// OverdueSweeper periodically finalizes sessions abandoned past their
// duration plus grace.
type OverdueSweeper struct {
	finisher OverdueFinisher
	schedule string
	grace    time.Duration
	timeout  time.Duration
	log      zerolog.Logger
	cron     *cron.Cron
}

func NewOverdueSweeper(finisher OverdueFinisher, schedule string, grace time.Duration, log zerolog.Logger) *OverdueSweeper {
	return &OverdueSweeper{
		finisher: finisher,
		schedule: schedule,
		grace:    grace,
		timeout:  4 * time.Minute,
		log:      log.With().Str("component", "overdue_sweeper").Logger(),
	}
}

// Start registers the sweep and starts the scheduler. Overlapping runs are skipped.
func (s *OverdueSweeper) Start() error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(s.schedule, s.run); err != nil {
		return fmt.Errorf("add sweep schedule %q: %w", s.schedule, err)
	}
	s.cron = c
	c.Start()
	s.log.Info().Str("schedule", s.schedule).Dur("grace", s.grace).Msg("Overdue session sweeper started")
	return nil
}

// Stop halts scheduling and waits for a running sweep to return.
func (s *OverdueSweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.log.Info().Msg("Overdue session sweeper stopped")
}

func (s *OverdueSweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	closed, err := s.finisher.FinishOverdue(ctx, time.Now(), s.grace)
	if err != nil {
		s.log.Error().Err(err).Msg("Overdue sweep failed")
		return
	}
	if closed > 0 {
		s.log.Info().Int("closed", closed).Msg("Overdue sessions finished")
	}
}
