package models

import (
	"time"
)

// JobState enumerates lifecycle states kept in the job queue.
type JobState string

const (
	StateWaiting   JobState = "waiting"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Progress checkpoints set by the orchestrator.
const (
	ProgressStarted = 10
	ProgressFetched = 70
	ProgressDone    = 100
)

// Job is one aggregation request for a (location, query) pair.
type Job struct {
	ID          string    `json:"jobId"`
	Location    string    `json:"location"`
	Query       string    `json:"query"`
	SubmittedAt time.Time `json:"submittedAt"`
	State       JobState  `json:"state"`
	Progress    int       `json:"progress"`
	Attempts    int       `json:"attempts"`
	Owner       string    `json:"-"`
	Error       string    `json:"error,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// JobStateView is what pollers see.
type JobStateView struct {
	JobID    string   `json:"jobId"`
	State    JobState `json:"state"`
	Progress int      `json:"progress"`
	Error    string   `json:"error,omitempty"`
}

// View projects a job onto its pollable state.
func (j Job) View() JobStateView {
	return JobStateView{
		JobID:    j.ID,
		State:    j.State,
		Progress: j.Progress,
		Error:    j.Error,
	}
}

// AuditLog is a simple audit event row.
type AuditLog struct {
	JobID    string    `json:"job_id"`
	Event    string    `json:"event"`
	Detail   string    `json:"detail"`
	Recorded time.Time `json:"recorded_at"`
}
