// Package maintenance runs the recurring housekeeping jobs of the long-lived
// processes, like scratch-directory cleanup in the listener.
package maintenance

import (
	"fmt"
	"log"

	rcron "github.com/robfig/cron/v3"
)

// Job is one named housekeeping task. Run reports what it did; errors are
// logged and the schedule keeps going.
type Job struct {
	Name     string
	Schedule string
	Run      func() (string, error)
}

type Service struct {
	cron *rcron.Cron
	jobs []Job
}

func NewService() *Service {
	return &Service{cron: rcron.New()}
}

// Add registers a job. Must be called before Start.
func (s *Service) Add(job Job) error {
	_, err := s.cron.AddFunc(job.Schedule, func() {
		result, err := job.Run()
		if err != nil {
			log.Printf("[maintenance] %s: %v", job.Name, err)
			return
		}
		log.Printf("[maintenance] %s: %s", job.Name, result)
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%s): %w", job.Name, job.Schedule, err)
	}
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *Service) Start() {
	s.cron.Start()
	log.Printf("[maintenance] started with %d jobs", len(s.jobs))
}

// Stop halts the schedule. Jobs already running finish on their own.
func (s *Service) Stop() {
	s.cron.Stop()
	log.Printf("[maintenance] stopped")
}

func (s *Service) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for _, job := range s.jobs {
		names = append(names, job.Name)
	}
	return names
}
