package model

import "time"

// IngestionRun records the outcome of one ingestion cycle.
type IngestionRun struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	StartedAt  time.Time `gorm:"not null;index" json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Fetched    int       `json:"fetched"`
	Inserted   int       `json:"inserted"`
	Skipped    int       `json:"skipped"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
}

func (r IngestionRun) Failed() bool {
	return r.Error != ""
}
