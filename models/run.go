package models

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// ScrapeRun is one execution of the discovery pass.
type ScrapeRun struct {
	ID          uuid.UUID  `json:"id"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Found       int        `json:"found"`
	Added       int        `json:"added"`
	Updated     int        `json:"updated"`
	Deactivated int        `json:"deactivated"`
	Skipped     int        `json:"skipped"`
	Status      RunStatus  `json:"status"`
	ErrorDetail *string    `json:"error_detail,omitempty"`
}

// NewScrapeRun starts a run record in the running state.
func NewScrapeRun(now time.Time) *ScrapeRun {
	return &ScrapeRun{
		ID:        uuid.New(),
		StartedAt: now,
		Status:    RunStatusRunning,
	}
}

// Succeed marks the run finished successfully.
func (r *ScrapeRun) Succeed(now time.Time) {
	r.Status = RunStatusSuccess
	r.CompletedAt = &now
	r.ErrorDetail = nil
}

// Fail marks the run failed with the given detail.
func (r *ScrapeRun) Fail(now time.Time, err error) {
	r.Status = RunStatusFailed
	r.CompletedAt = &now
	if err != nil {
		msg := err.Error()
		r.ErrorDetail = &msg
	}
}
