package store

import (
	"context"
	"errors"

	"github.com/nhle/jobchat/internal/model"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("not found")

// MessageRepo persists the append-only message log.
type MessageRepo interface {
	AppendMessage(ctx context.Context, m *model.Message) error
	ListMessages(ctx context.Context, jobID string) ([]model.Message, error)
	ListConversationMessages(ctx context.Context, key model.ConversationKey) ([]model.Message, error)

	// MarkMessagesRead sets the role's read flag on every message of the
	// conversation authored by the other role, returning the rows changed.
	MarkMessagesRead(ctx context.Context, key model.ConversationKey, role model.Role) (int64, error)

	// CountUnread derives the role's unread count from the log.
	CountUnread(ctx context.Context, key model.ConversationKey, role model.Role) (int, error)
}

// ConversationRepo persists the per-conversation summary records.
type ConversationRepo interface {
	GetConversation(ctx context.Context, key model.ConversationKey) (*model.Conversation, error)
	CreateConversation(ctx context.Context, c model.Conversation) error
	UpdateConversation(ctx context.Context, c model.Conversation) error
	UpdateUnreadCounts(ctx context.Context, key model.ConversationKey, employer, worker int) error
	ListConversations(ctx context.Context, userID string, role model.Role) ([]model.Conversation, error)
	ListConversationKeys(ctx context.Context) ([]model.ConversationKey, error)
}

// NotificationRepo persists recipient-addressed alerts.
type NotificationRepo interface {
	CreateNotification(ctx context.Context, n *model.Notification) error
	GetNotification(ctx context.Context, id string) (*model.Notification, error)
	ListNotifications(ctx context.Context, filter NotificationFilter) ([]model.Notification, error)
	CountUnreadNotifications(ctx context.Context, recipientID string) (int, error)

	// MarkNotificationRead reports whether the flag actually changed.
	MarkNotificationRead(ctx context.Context, id string) (bool, error)
	MarkAllNotificationsRead(ctx context.Context, recipientID string) (int64, error)
}

// JobRepo is the read side of the job collaborator, plus an upsert used
// for seeding.
type JobRepo interface {
	GetJob(ctx context.Context, id string) (*model.Job, error)
	UpsertJob(ctx context.Context, job model.Job) error
}

// NotificationFilter narrows notification listings.
type NotificationFilter struct {
	RecipientID string
	Category    model.Category
	UnreadOnly  bool
	Limit       int
}

// Repos groups every repository so a unit of work can use them together.
type Repos interface {
	MessageRepo
	ConversationRepo
	NotificationRepo
	JobRepo
}

// Store is the persistence entry point. InTx runs fn against repositories
// bound to a single transaction, committing only if fn returns nil.
type Store interface {
	Repos
	InTx(ctx context.Context, fn func(r Repos) error) error
	Close() error
}
