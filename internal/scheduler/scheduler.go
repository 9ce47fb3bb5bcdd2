// Package scheduler registers the recurring pipeline entry points on the
// process clock. Missed runs are skipped, not replayed.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron"
)

type Scheduler interface {
	Every(interval time.Duration, fn func()) error
	Daily(timeOfDay string, fn func()) error
	Start()
	Stop()
}

type cronScheduler struct {
	c *cron.Cron
}

func NewCronScheduler() Scheduler {
	return &cronScheduler{c: cron.New()}
}

func (s *cronScheduler) Every(interval time.Duration, fn func()) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", interval)
	}
	return s.c.AddFunc(fmt.Sprintf("@every %s", interval), fn)
}

// Daily runs fn once a day at HH:MM in process-local time.
func (s *cronScheduler) Daily(timeOfDay string, fn func()) error {
	at, err := time.Parse("15:04", timeOfDay)
	if err != nil {
		return fmt.Errorf("invalid time of day %q: %w", timeOfDay, err)
	}
	return s.c.AddFunc(fmt.Sprintf("0 %d %d * * *", at.Minute(), at.Hour()), fn)
}

func (s *cronScheduler) Start() {
	s.c.Start()
}

func (s *cronScheduler) Stop() {
	s.c.Stop()
}
