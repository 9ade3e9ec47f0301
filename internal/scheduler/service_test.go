package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"reseller/pkg/errors"
	"reseller/pkg/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestProcessTasks_RunsDueJobsOnInterval(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC)}
	s := NewScheduler(time.Second, logger.NewNop())
	s.now = clock.Now

	var hourly, daily int32
	s.Schedule(&Job{Name: "hourly", Interval: time.Hour, Run: func(context.Context) error {
		atomic.AddInt32(&hourly, 1)
		return nil
	}})
	s.Schedule(&Job{Name: "daily", Interval: 24 * time.Hour, Run: func(context.Context) error {
		atomic.AddInt32(&daily, 1)
		return errors.New("report missing")
	}})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.processTasks(ctx)
		s.wg.Wait()
		clock.Advance(30 * time.Minute)
	}

	// t=0, 60m, 120m for the hourly job; only t=0 for the daily one.
	assert.Equal(t, int32(3), atomic.LoadInt32(&hourly))
	assert.Equal(t, int32(1), atomic.LoadInt32(&daily))
}

func TestProcessTasks_NoOverlap(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	s := NewScheduler(time.Second, logger.NewNop())
	s.now = clock.Now

	release := make(chan struct{})
	var runs int32
	s.Schedule(&Job{Name: "slow", Interval: time.Minute, Timeout: time.Hour, Run: func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		<-release
		return nil
	}})

	ctx := context.Background()
	s.processTasks(ctx)
	clock.Advance(5 * time.Minute)
	s.processTasks(ctx)
	close(release)
	s.wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestProcessTasks_RecoversPanics(t *testing.T) {
	s := NewScheduler(time.Second, logger.NewNop())
	s.Schedule(&Job{Name: "broken", Interval: time.Nanosecond, Run: func(context.Context) error {
		panic("nil map")
	}})

	s.processTasks(context.Background())
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.False(t, s.jobs["broken"].running)
}

func TestStartStop(t *testing.T) {
	s := NewScheduler(10*time.Millisecond, logger.NewNop())
	done := make(chan struct{})
	var once sync.Once
	s.Schedule(&Job{Name: "tick", Interval: time.Millisecond, Run: func(ctx context.Context) error {
		once.Do(func() { close(done) })
		return nil
	}})

	s.Start(context.Background())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.Fail(t, "job never ran")
	}
	s.Stop()
}
