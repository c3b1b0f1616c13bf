package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-posts/config"
	"go-posts/internal/scheduler"
	"go-posts/internal/service"
)

type countingIngester struct {
	calls    atomic.Int32
	deadline atomic.Bool
}

func (c *countingIngester) RunCycle(ctx context.Context) (service.CycleReport, error) {
	c.calls.Add(1)
	if _, ok := ctx.Deadline(); ok {
		c.deadline.Store(true)
	}
	return service.CycleReport{}, nil
}

// blockingIngester holds its cycle open until release is closed.
type blockingIngester struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingIngester) RunCycle(context.Context) (service.CycleReport, error) {
	close(b.started)
	<-b.release
	return service.CycleReport{}, nil
}

func cronConfig(interval string) config.CronConfig {
	return config.CronConfig{IngestInterval: interval, CycleTimeout: time.Minute}
}

func TestStartSchedulesIngestion(t *testing.T) {
	ingest := &countingIngester{}
	s := scheduler.NewScheduler(context.Background(), ingest, cronConfig("@hourly"))

	assert.True(t, s.GetNextIngestTime().IsZero())

	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)

	next := s.GetNextIngestTime()
	assert.True(t, next.After(time.Now()))
	assert.WithinDuration(t, time.Now(), next, time.Hour)
}

func TestStartRejectsInvalidSpec(t *testing.T) {
	s := scheduler.NewScheduler(context.Background(), &countingIngester{}, cronConfig("every now and then"))
	assert.Error(t, s.Start())
}

func TestRunOnStart(t *testing.T) {
	ingest := &countingIngester{}
	cfg := cronConfig("@hourly")
	cfg.RunOnStart = true

	s := scheduler.NewScheduler(context.Background(), ingest, cfg)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)

	assert.Eventually(t, func() bool { return ingest.calls.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestRunIngestionAppliesCycleTimeout(t *testing.T) {
	ingest := &countingIngester{}
	s := scheduler.NewScheduler(context.Background(), ingest, cronConfig("@hourly"))

	s.RunIngestion()
	assert.EqualValues(t, 1, ingest.calls.Load())
	assert.True(t, ingest.deadline.Load())
}

func TestStopWaitsForRunOnStartCycle(t *testing.T) {
	ingest := &blockingIngester{started: make(chan struct{}), release: make(chan struct{})}
	cfg := cronConfig("@hourly")
	cfg.RunOnStart = true

	s := scheduler.NewScheduler(context.Background(), ingest, cfg)
	require.NoError(t, s.Start())
	<-ingest.started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a cycle was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(ingest.release)
	assert.Eventually(t, func() bool {
		select {
		case <-stopped:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}
