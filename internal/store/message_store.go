package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/jobchat/internal/model"
)

const messageColumns = `seq, id, job_id, employer_id, worker_id, sender_role, sender_id,
	text, created_at, read_by_employer, read_by_worker`

// messageRow mirrors the messages table.
type messageRow struct {
	Seq            int64  `db:"seq"`
	ID             string `db:"id"`
	JobID          string `db:"job_id"`
	EmployerID     string `db:"employer_id"`
	WorkerID       string `db:"worker_id"`
	SenderRole     string `db:"sender_role"`
	SenderID       string `db:"sender_id"`
	Text           string `db:"text"`
	CreatedAt      int64  `db:"created_at"`
	ReadByEmployer bool   `db:"read_by_employer"`
	ReadByWorker   bool   `db:"read_by_worker"`
}

func (r messageRow) toModel() model.Message {
	return model.Message{
		ID:             r.ID,
		JobID:          r.JobID,
		EmployerID:     r.EmployerID,
		WorkerID:       r.WorkerID,
		FromRole:       model.Role(r.SenderRole),
		SenderID:       r.SenderID,
		Text:           r.Text,
		CreatedAt:      fromNanos(r.CreatedAt),
		Seq:            r.Seq,
		ReadByEmployer: r.ReadByEmployer,
		ReadByWorker:   r.ReadByWorker,
	}
}

// readColumn returns the read-flag column for role. Only these two names
// are ever interpolated into SQL.
func readColumn(role model.Role) (string, error) {
	switch role {
	case model.RoleEmployer:
		return "read_by_employer", nil
	case model.RoleWorker:
		return "read_by_worker", nil
	default:
		return "", fmt.Errorf("unknown role %q", role)
	}
}

// AppendMessage inserts m, generating its ID and timestamp when unset, and
// fills in the assigned sequence number.
func (r *repos) AppendMessage(ctx context.Context, m *model.Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	res, err := r.q.ExecContext(ctx, `
		INSERT INTO messages (
			id, job_id, employer_id, worker_id, sender_role, sender_id,
			text, created_at, read_by_employer, read_by_worker
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.JobID, m.EmployerID, m.WorkerID, string(m.FromRole), m.SenderID,
		m.Text, toNanos(m.CreatedAt), boolToInt(m.ReadByEmployer), boolToInt(m.ReadByWorker),
	)
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading message sequence: %w", err)
	}
	m.Seq = seq
	return nil
}

// ListMessages returns every message of a job, oldest first.
func (r *repos) ListMessages(ctx context.Context, jobID string) ([]model.Message, error) {
	var rows []messageRow
	err := sqlx.SelectContext(ctx, r.q, &rows,
		"SELECT "+messageColumns+" FROM messages WHERE job_id = ? ORDER BY created_at ASC, seq ASC",
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing messages for job %s: %w", jobID, err)
	}
	return toMessages(rows), nil
}

// ListConversationMessages returns the messages of one conversation, oldest first.
func (r *repos) ListConversationMessages(
	ctx context.Context,
	key model.ConversationKey,
) ([]model.Message, error) {
	var rows []messageRow
	err := sqlx.SelectContext(ctx, r.q, &rows,
		"SELECT "+messageColumns+` FROM messages
		WHERE job_id = ? AND employer_id = ? AND worker_id = ?
		ORDER BY created_at ASC, seq ASC`,
		key.JobID, key.EmployerID, key.WorkerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing messages for conversation %v: %w", key, err)
	}
	return toMessages(rows), nil
}

// MarkMessagesRead flips the role's read flag on the counterpart's unread messages.
func (r *repos) MarkMessagesRead(
	ctx context.Context,
	key model.ConversationKey,
	role model.Role,
) (int64, error) {
	col, err := readColumn(role)
	if err != nil {
		return 0, err
	}

	res, err := r.q.ExecContext(ctx,
		fmt.Sprintf(`UPDATE messages SET %s = 1
		WHERE job_id = ? AND employer_id = ? AND worker_id = ?
		AND sender_role <> ? AND %s = 0`, col, col),
		key.JobID, key.EmployerID, key.WorkerID, string(role),
	)
	if err != nil {
		return 0, fmt.Errorf("marking messages read for %s: %w", role, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return n, nil
}

// CountUnread counts the counterpart's messages the role has not read.
func (r *repos) CountUnread(
	ctx context.Context,
	key model.ConversationKey,
	role model.Role,
) (int, error) {
	col, err := readColumn(role)
	if err != nil {
		return 0, err
	}

	var n int
	err = sqlx.GetContext(ctx, r.q, &n,
		fmt.Sprintf(`SELECT COUNT(*) FROM messages
		WHERE job_id = ? AND employer_id = ? AND worker_id = ?
		AND sender_role <> ? AND %s = 0`, col),
		key.JobID, key.EmployerID, key.WorkerID, string(role),
	)
	if err != nil {
		return 0, fmt.Errorf("counting unread for %s: %w", role, err)
	}
	return n, nil
}

func toMessages(rows []messageRow) []model.Message {
	messages := make([]model.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, row.toModel())
	}
	return messages
}
