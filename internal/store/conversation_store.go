package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/jobchat/internal/model"
)

const conversationColumns = `job_id, employer_id, worker_id,
	last_message_text, last_message_at, last_message_sender_id,
	unread_employer, unread_worker, job_title, job_status, created_at, updated_at`

// conversationRow mirrors the conversations table.
type conversationRow struct {
	JobID               string `db:"job_id"`
	EmployerID          string `db:"employer_id"`
	WorkerID            string `db:"worker_id"`
	LastMessageText     string `db:"last_message_text"`
	LastMessageAt       int64  `db:"last_message_at"`
	LastMessageSenderID string `db:"last_message_sender_id"`
	UnreadEmployer      int    `db:"unread_employer"`
	UnreadWorker        int    `db:"unread_worker"`
	JobTitle            string `db:"job_title"`
	JobStatus           string `db:"job_status"`
	CreatedAt           int64  `db:"created_at"`
	UpdatedAt           int64  `db:"updated_at"`
}

func (r conversationRow) toModel() model.Conversation {
	return model.Conversation{
		ConversationKey: model.ConversationKey{
			JobID:      r.JobID,
			EmployerID: r.EmployerID,
			WorkerID:   r.WorkerID,
		},
		LastMessage: model.MessageSnapshot{
			Text:      r.LastMessageText,
			CreatedAt: fromNanos(r.LastMessageAt),
			SenderID:  r.LastMessageSenderID,
		},
		UnreadForEmployer: r.UnreadEmployer,
		UnreadForWorker:   r.UnreadWorker,
		JobTitle:          r.JobTitle,
		JobStatus:         r.JobStatus,
		CreatedAt:         fromNanos(r.CreatedAt),
		UpdatedAt:         fromNanos(r.UpdatedAt),
	}
}

// GetConversation returns the summary for key or ErrNotFound.
func (r *repos) GetConversation(
	ctx context.Context,
	key model.ConversationKey,
) (*model.Conversation, error) {
	var row conversationRow
	err := sqlx.GetContext(ctx, r.q, &row,
		"SELECT "+conversationColumns+` FROM conversations
		WHERE job_id = ? AND employer_id = ? AND worker_id = ?`,
		key.JobID, key.EmployerID, key.WorkerID,
	)
	if err != nil {
		return nil, fmt.Errorf("getting conversation %v: %w", key, notFound(err))
	}
	c := row.toModel()
	return &c, nil
}

// CreateConversation inserts a new summary record.
func (r *repos) CreateConversation(ctx context.Context, c model.Conversation) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO conversations (
			job_id, employer_id, worker_id,
			last_message_text, last_message_at, last_message_sender_id,
			unread_employer, unread_worker, job_title, job_status,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.JobID, c.EmployerID, c.WorkerID,
		c.LastMessage.Text, toNanos(c.LastMessage.CreatedAt), c.LastMessage.SenderID,
		c.UnreadForEmployer, c.UnreadForWorker, c.JobTitle, c.JobStatus,
		toNanos(c.CreatedAt), toNanos(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("creating conversation %v: %w", c.ConversationKey, err)
	}
	return nil
}

// UpdateConversation overwrites every mutable field of an existing record.
func (r *repos) UpdateConversation(ctx context.Context, c model.Conversation) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE conversations SET
			last_message_text = ?, last_message_at = ?, last_message_sender_id = ?,
			unread_employer = ?, unread_worker = ?,
			job_title = ?, job_status = ?, updated_at = ?
		WHERE job_id = ? AND employer_id = ? AND worker_id = ?`,
		c.LastMessage.Text, toNanos(c.LastMessage.CreatedAt), c.LastMessage.SenderID,
		c.UnreadForEmployer, c.UnreadForWorker,
		c.JobTitle, c.JobStatus, toNanos(c.UpdatedAt),
		c.JobID, c.EmployerID, c.WorkerID,
	)
	if err != nil {
		return fmt.Errorf("updating conversation %v: %w", c.ConversationKey, err)
	}
	return requireRow(res, "conversation")
}

// UpdateUnreadCounts stores both counters without touching updated_at.
func (r *repos) UpdateUnreadCounts(
	ctx context.Context,
	key model.ConversationKey,
	employer, worker int,
) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE conversations SET unread_employer = ?, unread_worker = ?
		WHERE job_id = ? AND employer_id = ? AND worker_id = ?`,
		employer, worker, key.JobID, key.EmployerID, key.WorkerID,
	)
	if err != nil {
		return fmt.Errorf("updating unread counts for %v: %w", key, err)
	}
	return requireRow(res, "conversation")
}

// ListConversations returns the conversations where userID holds role,
// most recently updated first.
func (r *repos) ListConversations(
	ctx context.Context,
	userID string,
	role model.Role,
) ([]model.Conversation, error) {
	var column string
	switch role {
	case model.RoleEmployer:
		column = "employer_id"
	case model.RoleWorker:
		column = "worker_id"
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}

	var rows []conversationRow
	err := sqlx.SelectContext(ctx, r.q, &rows,
		"SELECT "+conversationColumns+" FROM conversations WHERE "+column+
			" = ? ORDER BY updated_at DESC, job_id ASC",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing conversations for %s: %w", userID, err)
	}

	conversations := make([]model.Conversation, 0, len(rows))
	for _, row := range rows {
		conversations = append(conversations, row.toModel())
	}
	return conversations, nil
}

// ListConversationKeys returns the key of every conversation.
func (r *repos) ListConversationKeys(ctx context.Context) ([]model.ConversationKey, error) {
	var rows []struct {
		JobID      string `db:"job_id"`
		EmployerID string `db:"employer_id"`
		WorkerID   string `db:"worker_id"`
	}
	err := sqlx.SelectContext(ctx, r.q, &rows,
		"SELECT job_id, employer_id, worker_id FROM conversations ORDER BY job_id, employer_id, worker_id",
	)
	if err != nil {
		return nil, fmt.Errorf("listing conversation keys: %w", err)
	}

	keys := make([]model.ConversationKey, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, model.ConversationKey{
			JobID:      row.JobID,
			EmployerID: row.EmployerID,
			WorkerID:   row.WorkerID,
		})
	}
	return keys, nil
}
