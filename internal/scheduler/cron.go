package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"go-posts/config"
	"go-posts/internal/service"
)

type Ingester interface {
	RunCycle(ctx context.Context) (service.CycleReport, error)
}

type Scheduler struct {
	cron          *cron.Cron
	ingest        Ingester
	config        config.CronConfig
	ctx           context.Context
	ingestEntryID cron.EntryID
	// tracks cycles started outside cron, e.g. RunOnStart
	wg sync.WaitGroup
}

// NewScheduler creates a scheduler whose jobs derive their context from ctx.
// A tick that fires while the previous cycle is still running is skipped.
func NewScheduler(ctx context.Context, ingest Ingester, cfg config.CronConfig) *Scheduler {
	logger := cron.PrintfLogger(log.StandardLogger())

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		ingest: ingest,
		config: cfg,
		ctx:    ctx,
	}
}

func (s *Scheduler) Start() error {
	id, err := s.cron.AddFunc(s.config.IngestInterval, s.RunIngestion)
	if err != nil {
		return fmt.Errorf("schedule ingestion %q: %w", s.config.IngestInterval, err)
	}
	s.ingestEntryID = id

	s.cron.Start()
	log.WithFields(log.Fields{
		"interval": s.config.IngestInterval,
		"next":     s.GetNextIngestTime(),
	}).Info("[Cron] Scheduler started")

	if s.config.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.RunIngestion()
		}()
	}
	return nil
}

// RunIngestion runs one cycle bounded by the configured cycle timeout.
func (s *Scheduler) RunIngestion() {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.CycleTimeout)
	defer cancel()

	log.Info("[Cron] Running ingestion cycle")
	if _, err := s.ingest.RunCycle(ctx); errors.Is(err, service.ErrCycleInProgress) {
		log.Warn("[Cron] Previous ingestion cycle still running, skipping")
	}
}

// GetNextIngestTime returns the next scheduled run, or the zero time before
// Start.
func (s *Scheduler) GetNextIngestTime() time.Time {
	return s.cron.Entry(s.ingestEntryID).Next
}

// Stop halts scheduling and waits for running cycles to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
}
