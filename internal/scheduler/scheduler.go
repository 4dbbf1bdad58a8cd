// Package scheduler runs periodic maintenance jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/GDIPSA-Team2/ecoplate/internal/logging"
	"github.com/GDIPSA-Team2/ecoplate/internal/metrics"
)

// DefaultJobTimeout bounds a single job run.
const DefaultJobTimeout = 5 * time.Minute

var ErrUnknownJob = errors.New("unknown job")

// Job is a named unit of periodic work. Spec uses the standard five field
// cron syntax or descriptors such as "@every 15m".
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

type Scheduler struct {
	cron    *cron.Cron
	loc     *time.Location
	timeout time.Duration

	mu      sync.Mutex
	jobs    map[string]Job
	entries map[string]cron.EntryID
	// running guards against overlapping runs of the same job.
	running map[string]bool
	base    context.Context
}

func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		loc:     loc,
		timeout: DefaultJobTimeout,
		jobs:    make(map[string]Job),
		entries: make(map[string]cron.EntryID),
		running: make(map[string]bool),
		base:    context.Background(),
	}
}

// Add registers a job. Names must be unique.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job needs a name and a run func")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %q already registered", job.Name)
	}
	id, err := s.cron.AddFunc(job.Spec, func() { _ = s.run(job) })
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Spec, err)
	}
	s.jobs[job.Name] = job
	s.entries[job.Name] = id
	return nil
}

// NextRuns reports the next scheduled time of each job. Times are zero until
// the scheduler has started.
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.entries))
	for name, id := range s.entries {
		out[name] = s.cron.Entry(id).Next
	}
	return out
}

// RunNow executes a job synchronously, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(job)
}

func (s *Scheduler) run(job Job) error {
	s.mu.Lock()
	if s.running[job.Name] {
		s.mu.Unlock()
		logging.Warn().Str("job", job.Name).Msg("previous run still in progress, skipping")
		return nil
	}
	s.running[job.Name] = true
	base := s.base
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, job.Name)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(base, s.timeout)
	defer cancel()

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: %v", r)
			}
		}()
		return job.Run(ctx)
	}()
	metrics.RecordJob(job.Name, err)

	ev := logging.Info()
	if err != nil {
		ev = logging.Error().Err(err)
	}
	ev.Str("job", job.Name).Dur("duration", time.Since(start)).Msg("scheduled job finished")
	return err
}

// RunWithContext starts the cron loop and blocks until ctx is done. Running
// jobs see ctx cancellation and are waited for before it returns.
func (s *Scheduler) RunWithContext(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	logging.Info().Int("jobs", n).Str("time_zone", s.loc.String()).Msg("scheduler started")

	<-ctx.Done()
	<-s.cron.Stop().Done()
	logging.Info().Msg("scheduler stopped")
	return ctx.Err()
}
