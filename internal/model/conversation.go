package model

import "time"

// ConversationKey identifies a two-party conversation about one job.
// The identifiers are kept in separate fields, placed by role, so no
// delimiter is ever needed and the key does not depend on who sent first.
type ConversationKey struct {
	JobID      string `json:"job_id"`
	EmployerID string `json:"employer_id"`
	WorkerID   string `json:"worker_id"`
}

// KeyFor derives the conversation key from a sender and its counterpart.
// KeyFor(j, RoleEmployer, e, w) == KeyFor(j, RoleWorker, w, e).
func KeyFor(jobID string, role Role, senderID, counterpartID string) ConversationKey {
	if role == RoleEmployer {
		return ConversationKey{JobID: jobID, EmployerID: senderID, WorkerID: counterpartID}
	}
	return ConversationKey{JobID: jobID, EmployerID: counterpartID, WorkerID: senderID}
}

// ParticipantID returns the user id holding the given role.
func (k ConversationKey) ParticipantID(role Role) string {
	if role == RoleEmployer {
		return k.EmployerID
	}
	return k.WorkerID
}

// MessageSnapshot is the denormalized copy of the latest message.
type MessageSnapshot struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	SenderID  string    `json:"sender_id"`
}

// Conversation is the cached summary used for inbox listing and unread badges.
type Conversation struct {
	ConversationKey

	LastMessage MessageSnapshot `json:"last_message"`

	// UnreadForEmployer counts worker messages the employer has not read,
	// UnreadForWorker the reverse.
	UnreadForEmployer int `json:"unread_for_employer"`
	UnreadForWorker   int `json:"unread_for_worker"`

	JobTitle  string    `json:"job_title"`
	JobStatus string    `json:"job_status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UnreadFor returns the unread counter of the given role.
func (c Conversation) UnreadFor(role Role) int {
	if role == RoleEmployer {
		return c.UnreadForEmployer
	}
	return c.UnreadForWorker
}

// SetUnread overwrites the unread counter of the given role.
func (c *Conversation) SetUnread(role Role, n int) {
	if n < 0 {
		n = 0
	}
	if role == RoleEmployer {
		c.UnreadForEmployer = n
		return
	}
	c.UnreadForWorker = n
}
