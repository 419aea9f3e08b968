package sync

import (
	"context"
	"time"

	"github.com/nhle/jobchat/internal/model"
)

// EventKind names a state change that open views may want to re-read.
type EventKind string

const (
	EventMessageSent         EventKind = "message.sent"
	EventConversationRead    EventKind = "conversation.read"
	EventNotificationCreated EventKind = "notification.created"
	EventNotificationRead    EventKind = "notification.read"
)

// Event is addressed to a single user. It carries identifiers only; views
// re-read the stores to get the actual data.
type Event struct {
	Kind           EventKind              `json:"kind"`
	UserID         string                 `json:"user_id"`
	JobID          string                 `json:"job_id,omitempty"`
	Key            *model.ConversationKey `json:"key,omitempty"`
	NotificationID string                 `json:"notification_id,omitempty"`
	At             time.Time              `json:"at"`
}

// Publisher delivers events after the write that produced them has committed.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Subscriber hands out per-user event streams. The returned cancel func
// releases the subscription and closes the channel.
type Subscriber interface {
	Subscribe(userID string) (<-chan Event, func())
}

// Bus is a transport that can both publish and subscribe.
type Bus interface {
	Publisher
	Subscriber
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, Event) error { return nil }

// ConversationEvents builds one event per participant of key.
func ConversationEvents(kind EventKind, key model.ConversationKey, at time.Time) []Event {
	k := key
	return []Event{
		{Kind: kind, UserID: key.EmployerID, JobID: key.JobID, Key: &k, At: at},
		{Kind: kind, UserID: key.WorkerID, JobID: key.JobID, Key: &k, At: at},
	}
}
