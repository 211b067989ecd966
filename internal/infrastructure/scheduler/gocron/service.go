package scheduler

import (
	"fmt"
	"time"

	"github.com/arkade-os/tokend/internal/core/ports"
	"github.com/go-co-op/gocron"
)

type service struct {
	scheduler *gocron.Scheduler
}

func NewScheduler() ports.SchedulerService {
	svc := gocron.NewScheduler(time.UTC)
	return &service{svc}
}

func (s *service) Start() {
	s.scheduler.StartAsync()
}

func (s *service) Stop() {
	s.scheduler.Stop()
}

// ScheduleTaskEvery runs the task at every interval, skipping a run if the previous one is still
// in progress.
func (s *service) ScheduleTaskEvery(interval time.Duration, task func()) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval %s, must be positive", interval)
	}
	_, err := s.scheduler.Every(interval).WaitForSchedule().SingletonMode().Do(task)
	return err
}
