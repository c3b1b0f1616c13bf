package service

import (
	"context"
	"time"

	"go-posts/internal/model"
	"go-posts/internal/query"
)

type StatusStore interface {
	Count(ctx context.Context, p query.Predicate) (int64, error)
	LastRun(ctx context.Context) (*model.IngestionRun, error)
}

type StatusService struct {
	store  StatusStore
	ingest *IngestService
}

type SystemStatus struct {
	TotalPosts       int64               `json:"total_posts"`
	IngestionRunning bool                `json:"ingestion_running"`
	LastRun          *model.IngestionRun `json:"last_run,omitempty"`

	// Zero when no scheduler is attached
	NextIngestTime time.Time `json:"next_ingest_time"`
}

func NewStatusService(store StatusStore, ingest *IngestService) *StatusService {
	return &StatusService{store: store, ingest: ingest}
}

// GetSystemStatus reports post totals and the state of ingestion.
func (s *StatusService) GetSystemStatus(ctx context.Context) (*SystemStatus, error) {
	status := &SystemStatus{}

	total, err := s.store.Count(ctx, query.Predicate{})
	if err != nil {
		return nil, err
	}
	status.TotalPosts = total

	status.LastRun, err = s.store.LastRun(ctx)
	if err != nil {
		return nil, err
	}

	if s.ingest != nil {
		status.IngestionRunning = s.ingest.Running()
	}

	return status, nil
}
