package model

import "time"

// Role identifies which side of a conversation a participant is on.
type Role string

const (
	// RoleEmployer is the job owner (party A).
	RoleEmployer Role = "employer"
	// RoleWorker is the counterpart working on or bidding for the job (party B).
	RoleWorker Role = "worker"
)

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleEmployer || r == RoleWorker
}

// Counterpart returns the opposite role.
func (r Role) Counterpart() Role {
	if r == RoleEmployer {
		return RoleWorker
	}
	return RoleEmployer
}

// Message is one entry of the append-only log kept per job.
// Only the two read flags ever change after creation, and only false to true.
type Message struct {
	// ID is the unique identifier for this message.
	ID string `json:"id"`

	// JobID is the work item the message is tied to.
	JobID string `json:"job_id"`

	// EmployerID and WorkerID identify the conversation within the job.
	EmployerID string `json:"employer_id"`
	WorkerID   string `json:"worker_id"`

	// FromRole is the role of the author.
	FromRole Role `json:"from_role"`

	// SenderID is the author's user id.
	SenderID string `json:"sender_id"`

	// Text is the trimmed message body.
	Text string `json:"text"`

	// CreatedAt is when the message was appended.
	CreatedAt time.Time `json:"created_at"`

	// Seq is the insertion sequence, used to break CreatedAt ties.
	Seq int64 `json:"seq"`

	ReadByEmployer bool `json:"read_by_employer"`
	ReadByWorker   bool `json:"read_by_worker"`
}

// Key returns the conversation the message belongs to.
func (m Message) Key() ConversationKey {
	return ConversationKey{JobID: m.JobID, EmployerID: m.EmployerID, WorkerID: m.WorkerID}
}

// ReadBy reports the read flag for the given role.
func (m Message) ReadBy(role Role) bool {
	if role == RoleEmployer {
		return m.ReadByEmployer
	}
	return m.ReadByWorker
}
