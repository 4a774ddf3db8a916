package service

import (
	"context"
	"time"

	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/logging"
	"github.com/robfig/cron/v3"
)

const convergeTimeout = 2 * time.Minute

// Converger is implemented by LifecycleService
type Converger interface {
	Converge(ctx context.Context) (*ConvergeResult, error)
}

// Scheduler runs the convergence sweep on a cron schedule
type Scheduler struct {
	cron      *cron.Cron
	converger Converger
	schedule  string
}

func NewScheduler(converger Converger, schedule string) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		converger: converger,
		schedule:  schedule,
	}
}

// Start registers the sweep and starts the cron loop. An empty schedule
// disables the sweeper.
func (s *Scheduler) Start() error {
	log := logging.Component("converge")
	if s.schedule == "" {
		log.Info().Msg("convergence sweeper disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, s.runOnce); err != nil {
		return err
	}
	s.cron.Start()
	log.Info().Str("schedule", s.schedule).Msg("convergence sweeper started")
	return nil
}

// Stop halts the cron loop and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runOnce() {
	log := logging.Component("converge")
	ctx, cancel := context.WithTimeout(context.Background(), convergeTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.converger.Converge(ctx)
	if err != nil {
		log.Error().Err(err).Msg("convergence sweep failed")
		return
	}
	log.Info().
		Int("groups", res.Groups).
		Strs("removed", res.Removed).
		Dur("took", time.Since(start)).
		Msg("convergence sweep finished")
}
