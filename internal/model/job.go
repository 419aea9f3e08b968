package model

import "time"

// Job status values as reported by the job collaborator.
const (
	JobStatusOpen       = "open"
	JobStatusAssigned   = "assigned"
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
	JobStatusCancelled  = "cancelled"
)

// Job is the read-only view of a work item owned by the job collaborator.
// Messaging only uses it to resolve participants and to denormalize the
// title and status into conversations.
type Job struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Status           string    `json:"status"`
	EmployerID       string    `json:"employer_id"`
	AssignedWorkerID string    `json:"assigned_worker_id,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}
