// Package scheduler drives the periodic settlement jobs: the daily revenue
// share check, the withdrawal reconciliation sweep and the contributor
// payment sync.
package scheduler

import (
	"context"
	"sync"
	"time"

	"reseller/pkg/logger"
)

// Job is one recurring task. Run must be safe to call again after a failure.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
	// Timeout bounds a single run; zero means Interval.
	Timeout time.Duration

	nextRun time.Time
	running bool
}

type Scheduler struct {
	jobs   map[string]*Job
	mu     sync.Mutex
	logger logger.Logger
	tick   time.Duration
	now    func() time.Time

	wg     sync.WaitGroup
	stop   chan struct{}
	cancel context.CancelFunc
}

func NewScheduler(tick time.Duration, log logger.Logger) *Scheduler {
	if tick <= 0 {
		tick = time.Second
	}
	return &Scheduler{
		jobs:   make(map[string]*Job),
		logger: log,
		tick:   tick,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
}

// Schedule registers job. The first run happens on the first tick.
func (s *Scheduler) Schedule(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job.nextRun = s.now()
	s.jobs[job.Name] = job
	s.logger.Info("Scheduled job", map[string]interface{}{
		"job":      job.Name,
		"interval": job.Interval.String(),
	})
}

func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	ticker := time.NewTicker(s.tick)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.processTasks(ctx)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	s.logger.Info("Job scheduler started", map[string]interface{}{"jobs": len(s.jobs)})
}

// Stop halts the ticker, cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	close(s.stop)
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("Job scheduler stopped", nil)
}

// processTasks launches every due job that is not already running. A slow
// job never overlaps with itself.
func (s *Scheduler) processTasks(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, job := range s.jobs {
		if job.running || now.Before(job.nextRun) {
			continue
		}
		job.running = true
		job.nextRun = now.Add(job.Interval)
		s.wg.Add(1)
		go s.execute(ctx, job)
	}
}

func (s *Scheduler) execute(ctx context.Context, job *Job) {
	defer s.wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("Job panicked", map[string]interface{}{"job": job.Name, "panic": rec})
		}
		s.mu.Lock()
		job.running = false
		s.mu.Unlock()
	}()

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = job.Interval
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := job.Run(runCtx); err != nil {
		s.logger.Error("Job failed", map[string]interface{}{
			"job":         job.Name,
			"error":       err.Error(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return
	}
	s.logger.Debug("Job finished", map[string]interface{}{
		"job":         job.Name,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}
