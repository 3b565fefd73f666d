// Package scheduler runs the panel's periodic maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

type Scheduler struct {
	c *cron.Cron
}

func NewScheduler() *Scheduler {
	return &Scheduler{c: cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))}
}

// Add registers job under a standard cron spec or a descriptor such as
// "@every 30s". Jobs returning a positive count are logged.
func (s *Scheduler) Add(name, spec string, job func() int) error {
	_, err := s.c.AddFunc(spec, func() {
		if n := job(); n > 0 {
			log.Printf("[cron] job=%s affected=%d", name, n)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	log.Printf("[cron] job=%s scheduled (%s)", name, spec)
	return nil
}

func (s *Scheduler) Start() {
	s.c.Start()
	log.Println("[cron] scheduler started")
}

// Stop prevents new runs and waits for running jobs or ctx, whichever ends
// first.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
	}
}
