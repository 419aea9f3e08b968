package chat

import (
	"errors"
	"fmt"

	"github.com/nhle/jobchat/internal/model"
)

// ValidationError rejects a request before anything is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a missing job or conversation.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ConsistencyError reports a stored unread counter that disagrees with the
// message log.
type ConsistencyError struct {
	Key     model.ConversationKey
	Role    model.Role
	Stored  int
	Derived int
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf(
		"conversation %s/%s/%s: unread counter for %s is %d, log says %d",
		e.Key.JobID, e.Key.EmployerID, e.Key.WorkerID, e.Role, e.Stored, e.Derived,
	)
}

// IsValidation reports whether err (or any error in its chain) is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err (or any error in its chain) is a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsConsistency reports whether err (or any error in its chain) is a ConsistencyError.
func IsConsistency(err error) bool {
	var target *ConsistencyError
	return errors.As(err, &target)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
