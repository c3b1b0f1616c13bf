package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"go-posts/internal/metrics"
	"go-posts/internal/model"
	"go-posts/internal/store"
)

// Outcome classifies the result of inserting a single candidate post.
type Outcome int

const (
	OutcomeInserted Outcome = iota
	OutcomeDuplicateSkipped
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeDuplicateSkipped:
		return "duplicate"
	default:
		return "failed"
	}
}

// ClassifyInsert maps the error returned by a post insert to an Outcome.
func ClassifyInsert(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeInserted
	case errors.Is(err, store.ErrDuplicateLink):
		return OutcomeDuplicateSkipped
	default:
		return OutcomeFatal
	}
}

type ItemFetcher interface {
	Fetch(ctx context.Context) ([]model.RawFeedItem, error)
}

type PostCreator interface {
	Create(ctx context.Context, c model.CandidatePost) (model.Post, error)
}

type RunRecorder interface {
	RecordRun(ctx context.Context, run *model.IngestionRun) error
}

// CycleReport summarizes one ingestion cycle.
type CycleReport struct {
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Fetched    int       `json:"fetched"`
	Inserted   int       `json:"inserted"`
	Skipped    int       `json:"skipped"`
}

type IngestService struct {
	fetcher    ItemFetcher
	normalizer *Normalizer
	posts      PostCreator
	runs       RunRecorder
	metrics    *metrics.Metrics
	running    atomic.Bool
	now        func() time.Time
}

func NewIngestService(fetcher ItemFetcher, normalizer *Normalizer, posts PostCreator, runs RunRecorder, m *metrics.Metrics) *IngestService {
	return &IngestService{
		fetcher:    fetcher,
		normalizer: normalizer,
		posts:      posts,
		runs:       runs,
		metrics:    m,
		now:        time.Now,
	}
}

// Running reports whether a cycle is currently in flight.
func (s *IngestService) Running() bool {
	return s.running.Load()
}

// RunCycle fetches the feed and inserts every new item in document order.
// Items whose link is already stored are skipped. Any other failure aborts
// the cycle; posts inserted before the failure stay committed.
//
// Only one cycle runs at a time, a concurrent call gets ErrCycleInProgress.
func (s *IngestService) RunCycle(ctx context.Context) (CycleReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.CycleSkipped()
		return CycleReport{}, ErrCycleInProgress
	}
	defer s.running.Store(false)

	report := CycleReport{StartedAt: s.now()}
	err := s.runCycle(ctx, &report)
	report.FinishedAt = s.now()

	s.finish(ctx, report, err)
	return report, err
}

func (s *IngestService) runCycle(ctx context.Context, report *CycleReport) error {
	items, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch feed: %w", err)
	}
	report.Fetched = len(items)

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("ingest item %d: %w", i, err)
		}

		candidate, err := s.normalizer.Normalize(item)
		if err != nil {
			s.metrics.ItemProcessed("invalid")
			return fmt.Errorf("normalize item %d (link %q): %w", i, item.Link, err)
		}

		_, err = s.posts.Create(ctx, candidate)
		outcome := ClassifyInsert(err)
		s.metrics.ItemProcessed(outcome.String())

		switch outcome {
		case OutcomeInserted:
			report.Inserted++
		case OutcomeDuplicateSkipped:
			report.Skipped++
			log.WithField("link", candidate.Link).Debug("Post already stored, skipping")
		case OutcomeFatal:
			return fmt.Errorf("insert item %d (link %q): %w", i, candidate.Link, err)
		}
	}

	return nil
}

func (s *IngestService) finish(ctx context.Context, report CycleReport, cycleErr error) {
	fields := log.Fields{
		"fetched":  report.Fetched,
		"inserted": report.Inserted,
		"skipped":  report.Skipped,
		"duration": report.FinishedAt.Sub(report.StartedAt).String(),
	}

	run := &model.IngestionRun{
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Fetched:    report.Fetched,
		Inserted:   report.Inserted,
		Skipped:    report.Skipped,
	}

	if cycleErr != nil {
		run.Error = cycleErr.Error()
		s.metrics.CycleFinished("failure", report.StartedAt, report.FinishedAt)
		log.WithFields(fields).WithError(cycleErr).Error("Ingestion cycle failed")
	} else {
		s.metrics.CycleFinished("success", report.StartedAt, report.FinishedAt)
		log.WithFields(fields).Info("Ingestion cycle finished")
	}

	// The cycle context may already be cancelled or timed out
	if err := s.runs.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		log.WithError(err).Warn("Failed to record ingestion run")
	}
}
