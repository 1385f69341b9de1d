package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Task is one background maintenance job.
type Task struct {
	Name     string
	Schedule string
	Run      func() error
}

// Scheduler runs the service's periodic sweeps on cron schedules.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	tasks  []Task
}

// New creates an empty scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		logger: logger,
	}
}

// Register adds a task. Must be called before Start.
func (s *Scheduler) Register(task Task) error {
	_, err := s.cron.AddFunc(task.Schedule, func() {
		start := time.Now()
		if err := task.Run(); err != nil {
			s.logger.Error("Scheduled task failed",
				"task", task.Name,
				"error", err,
				"duration", time.Since(start))
			return
		}
		s.logger.Debug("Scheduled task completed",
			"task", task.Name,
			"duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("failed to schedule task %s: %w", task.Name, err)
	}
	s.tasks = append(s.tasks, task)
	return nil
}

// Start begins running registered tasks.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", "tasks", len(s.tasks))
}

// Stop halts scheduling and waits for any running task to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}
