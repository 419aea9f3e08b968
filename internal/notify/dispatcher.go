// Package notify creates and acknowledges recipient-addressed alerts.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nhle/jobchat/internal/model"
	"github.com/nhle/jobchat/internal/store"
	"github.com/nhle/jobchat/internal/sync"
)

// ErrInvalidInput is wrapped by every input validation failure.
var ErrInvalidInput = errors.New("invalid notification input")

// SectionMessages is the deep-link section used by newMessage alerts.
const SectionMessages = "messages"

// Input describes a notification to create.
type Input struct {
	RecipientID string
	Type        model.NotificationType
	JobID       string
	Section     string
	Payload     map[string]string
}

// Dispatcher creates notifications and publishes their events.
type Dispatcher struct {
	repo   store.NotificationRepo
	events sync.Publisher
	now    func() time.Time
	logger *slog.Logger
}

// NewDispatcher builds a Dispatcher. A nil publisher drops events and a nil
// logger uses slog.Default.
func NewDispatcher(repo store.NotificationRepo, events sync.Publisher, logger *slog.Logger) *Dispatcher {
	if events == nil {
		events = sync.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		repo:   repo,
		events: events,
		now:    time.Now,
		logger: logger,
	}
}

// Dispatch creates a notification and announces it to the recipient.
func (d *Dispatcher) Dispatch(ctx context.Context, in Input) (*model.Notification, error) {
	n, err := d.DispatchWith(ctx, d.repo, in)
	if err != nil {
		return nil, err
	}
	d.Announce(ctx, n)
	return n, nil
}

// DispatchWith creates the notification through repo, which may be bound to
// a caller's transaction. It does not publish; call Announce after commit.
func (d *Dispatcher) DispatchWith(
	ctx context.Context,
	repo store.NotificationRepo,
	in Input,
) (*model.Notification, error) {
	if in.RecipientID == "" {
		return nil, fmt.Errorf("%w: recipient is required", ErrInvalidInput)
	}
	if in.Type == "" {
		return nil, fmt.Errorf("%w: type is required", ErrInvalidInput)
	}

	n := &model.Notification{
		RecipientID: in.RecipientID,
		Type:        in.Type,
		Category:    model.CategoryFor(in.Type),
		JobID:       in.JobID,
		Section:     in.Section,
		Payload:     in.Payload,
		CreatedAt:   d.now().UTC(),
	}
	if err := repo.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("dispatching %s to %s: %w", in.Type, in.RecipientID, err)
	}
	return n, nil
}

// Announce publishes the creation event for n. Publish failures are logged;
// the recipient's bell loop picks the notification up on its next tick.
func (d *Dispatcher) Announce(ctx context.Context, n *model.Notification) {
	d.publish(ctx, sync.Event{
		Kind:           sync.EventNotificationCreated,
		UserID:         n.RecipientID,
		JobID:          n.JobID,
		NotificationID: n.ID,
		At:             n.CreatedAt,
	})
}

// Get returns one notification.
func (d *Dispatcher) Get(ctx context.Context, id string) (*model.Notification, error) {
	return d.repo.GetNotification(ctx, id)
}

// List returns the user's notifications newest first, optionally limited to
// one category.
func (d *Dispatcher) List(
	ctx context.Context,
	userID string,
	category model.Category,
) ([]model.Notification, error) {
	if category != "" && !model.ValidCategory(category) {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidInput, category)
	}
	return d.repo.ListNotifications(ctx, store.NotificationFilter{
		RecipientID: userID,
		Category:    category,
	})
}

// ListUnread returns the user's unread notifications newest first.
func (d *Dispatcher) ListUnread(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	return d.repo.ListNotifications(ctx, store.NotificationFilter{
		RecipientID: userID,
		UnreadOnly:  true,
		Limit:       limit,
	})
}

// UnreadCount counts the user's unread notifications.
func (d *Dispatcher) UnreadCount(ctx context.Context, userID string) (int, error) {
	return d.repo.CountUnreadNotifications(ctx, userID)
}

// MarkRead acknowledges one notification. It reports false when the
// notification was already read.
func (d *Dispatcher) MarkRead(ctx context.Context, id string) (bool, error) {
	changed, err := d.repo.MarkNotificationRead(ctx, id)
	if err != nil {
		return false, err
	}
	if changed {
		n, err := d.repo.GetNotification(ctx, id)
		if err != nil {
			d.logger.Warn("reading acknowledged notification", "id", id, "error", err)
			return true, nil
		}
		d.publish(ctx, sync.Event{
			Kind:           sync.EventNotificationRead,
			UserID:         n.RecipientID,
			JobID:          n.JobID,
			NotificationID: n.ID,
			At:             d.now().UTC(),
		})
	}
	return changed, nil
}

// MarkAllRead acknowledges every unread notification of the user and
// returns how many changed.
func (d *Dispatcher) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := d.repo.MarkAllNotificationsRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		d.publish(ctx, sync.Event{
			Kind:   sync.EventNotificationRead,
			UserID: userID,
			At:     d.now().UTC(),
		})
	}
	return n, nil
}

func (d *Dispatcher) publish(ctx context.Context, e sync.Event) {
	if err := d.events.Publish(ctx, e); err != nil {
		d.logger.Warn("publishing notification event",
			"kind", e.Kind, "user_id", e.UserID, "error", err)
	}
}
