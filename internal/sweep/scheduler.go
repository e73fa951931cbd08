package sweep

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler drives the two sweeps on independent intervals. Each sweep is
// wrapped with SkipIfStillRunning so a slow tick suppresses the next one
// instead of overlapping it.
type Scheduler struct {
	cron *cron.Cron
}

func NewScheduler(metrics *MetricsSweep, reconcile *ReconcileSweep, metricsInterval, reconcileInterval time.Duration) (*Scheduler, error) {
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := c.AddFunc(fmt.Sprintf("@every %s", metricsInterval), func() {
		if err := metrics.Run(context.Background()); err != nil {
			log.Printf("[Scheduler] Metrics sweep skipped: %v", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule metrics sweep: %w", err)
	}

	_, err = c.AddFunc(fmt.Sprintf("@every %s", reconcileInterval), func() {
		if _, err := reconcile.Run(context.Background()); err != nil {
			log.Printf("[Scheduler] Reconcile sweep skipped: %v", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule reconcile sweep: %w", err)
	}

	return &Scheduler{cron: c}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Printf("[Scheduler] Sweeps scheduled")
}

// Stop waits for any in-flight tick to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Printf("[Scheduler] Sweeps stopped")
}
