package model

import "time"

// NotificationType identifies the event that produced a notification.
type NotificationType string

const (
	NotificationNewOffer      NotificationType = "newOffer"
	NotificationOfferAccepted NotificationType = "offerAccepted"
	NotificationOfferRejected NotificationType = "offerRejected"
	NotificationNewMessage    NotificationType = "newMessage"
	NotificationJobReminder   NotificationType = "jobReminder"
	NotificationJobUpdated    NotificationType = "jobUpdated"
	NotificationInvitation    NotificationType = "invitation"
)

// Category is the coarse grouping used for filtering in the UI.
type Category string

const (
	CategoryOffers   Category = "offers"
	CategoryMessages Category = "messages"
	CategoryJobs     Category = "jobs"
	CategorySystem   Category = "system"
)

// categories maps each known type to its category. Types missing here,
// invitation included, fall into CategorySystem.
var categories = map[NotificationType]Category{
	NotificationNewOffer:      CategoryOffers,
	NotificationOfferAccepted: CategoryOffers,
	NotificationOfferRejected: CategoryOffers,
	NotificationNewMessage:    CategoryMessages,
	NotificationJobReminder:   CategoryJobs,
	NotificationJobUpdated:    CategoryJobs,
}

// CategoryFor returns the category of a notification type.
func CategoryFor(t NotificationType) Category {
	if c, ok := categories[t]; ok {
		return c
	}
	return CategorySystem
}

// ValidCategory reports whether c is one of the four categories.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryOffers, CategoryMessages, CategoryJobs, CategorySystem:
		return true
	}
	return false
}

// Notification is a recipient-addressed alert. Only IsRead changes after
// creation, and only from false to true.
type Notification struct {
	// ID is the unique identifier for this notification.
	ID string `json:"id"`

	// RecipientID is the user the alert is addressed to.
	RecipientID string `json:"recipient_id"`

	Type     NotificationType `json:"type"`
	Category Category         `json:"category"`

	// JobID and Section let a client resolve a deep link back to the
	// originating job or conversation.
	JobID   string `json:"job_id"`
	Section string `json:"section,omitempty"`

	// Payload holds type-specific display data.
	Payload map[string]string `json:"payload,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	IsRead    bool      `json:"is_read"`
}
