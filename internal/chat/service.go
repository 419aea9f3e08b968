// Package chat implements job-scoped two-party messaging: sending, listing,
// read receipts and the per-conversation unread counters.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nhle/jobchat/internal/model"
	"github.com/nhle/jobchat/internal/notify"
	"github.com/nhle/jobchat/internal/store"
	"github.com/nhle/jobchat/internal/sync"
)

// DefaultMaxMessageLength caps message text, in runes, when no limit is configured.
const DefaultMaxMessageLength = 2000

// previewLength is how many runes of a message a newMessage alert carries.
const previewLength = 80

// Service is the messaging entry point shared by the HTTP API and the
// terminal client.
type Service struct {
	store    store.Store
	notifier *notify.Dispatcher
	events   sync.Publisher
	locks    *keyLocker
	maxLen   int
	now      func() time.Time
	logger   *slog.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithPublisher sets where message events go after commit.
func WithPublisher(p sync.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxMessageLength sets the text limit in runes. Non-positive values
// keep the default.
func WithMaxMessageLength(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxLen = n
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires a Service over st, sending alerts through d.
func NewService(st store.Store, d *notify.Dispatcher, opts ...Option) *Service {
	s := &Service{
		store:    st,
		notifier: d,
		events:   sync.Discard,
		locks:    newKeyLocker(),
		maxLen:   DefaultMaxMessageLength,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendInput is a message about to be sent.
type SendInput struct {
	JobID    string
	FromRole model.Role
	SenderID string
	Text     string

	// CounterpartID selects the worker an employer is writing to. When empty
	// the job's assigned worker is used. Workers always write to the job's
	// employer, so for them it may be empty or must match.
	CounterpartID string
}

// SendResult holds everything a send wrote.
type SendResult struct {
	Message      model.Message
	Conversation model.Conversation
	Notification *model.Notification
	Created      bool
}

// Send appends a message, upserts its conversation and alerts the
// counterpart, all in one transaction.
func (s *Service) Send(ctx context.Context, in SendInput) (*SendResult, error) {
	text := strings.TrimSpace(in.Text)
	if err := s.validateSend(in, text); err != nil {
		return nil, err
	}

	job, err := s.job(ctx, in.JobID)
	if err != nil {
		return nil, err
	}
	key, err := resolveKey(job, in.FromRole, in.SenderID, in.CounterpartID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(key)
	defer unlock()

	now := s.now().UTC()
	counterpart := in.FromRole.Counterpart()
	result := &SendResult{}

	err = s.store.InTx(ctx, func(r store.Repos) error {
		msg := model.Message{
			JobID:      key.JobID,
			EmployerID: key.EmployerID,
			WorkerID:   key.WorkerID,
			FromRole:   in.FromRole,
			SenderID:   in.SenderID,
			Text:       text,
			CreatedAt:  now,
		}
		if in.FromRole == model.RoleEmployer {
			msg.ReadByEmployer = true
		} else {
			msg.ReadByWorker = true
		}
		if err := r.AppendMessage(ctx, &msg); err != nil {
			return err
		}

		conv, err := r.GetConversation(ctx, key)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// First contact.
			conv = &model.Conversation{ConversationKey: key, CreatedAt: now}
			conv.SetUnread(counterpart, 1)
			applySend(conv, msg, job)
			if err := r.CreateConversation(ctx, *conv); err != nil {
				return err
			}
			result.Created = true
		case err != nil:
			return err
		default:
			conv.SetUnread(counterpart, conv.UnreadFor(counterpart)+1)
			applySend(conv, msg, job)
			if err := r.UpdateConversation(ctx, *conv); err != nil {
				return err
			}
		}

		n, err := s.notifier.DispatchWith(ctx, r, notify.Input{
			RecipientID: key.ParticipantID(counterpart),
			Type:        model.NotificationNewMessage,
			JobID:       key.JobID,
			Section:     notify.SectionMessages,
			Payload: map[string]string{
				"sender_id":   in.SenderID,
				"sender_role": string(in.FromRole),
				"job_title":   job.Title,
				"preview":     preview(text),
			},
		})
		if err != nil {
			return err
		}

		result.Message = msg
		result.Conversation = *conv
		result.Notification = n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sending message on job %s: %w", in.JobID, err)
	}

	s.publish(ctx, sync.ConversationEvents(sync.EventMessageSent, key, now)...)
	s.notifier.Announce(ctx, result.Notification)
	return result, nil
}

// MarkReadInput identifies the conversation a participant has opened.
type MarkReadInput struct {
	JobID  string
	Role   model.Role
	UserID string

	// CounterpartID picks the worker when an employer has several
	// conversations on the job; see SendInput.CounterpartID.
	CounterpartID string
}

// MarkRead flips the reader's flag on the counterpart's messages and
// recomputes the reader's unread counter from the log. It reports whether any
// message flag changed. A conversation that does not exist yet is a no-op.
func (s *Service) MarkRead(ctx context.Context, in MarkReadInput) (*model.Conversation, bool, error) {
	if in.JobID == "" {
		return nil, false, invalid("job_id", "is required")
	}
	if !in.Role.Valid() {
		return nil, false, invalid("role", fmt.Sprintf("unknown role %q", in.Role))
	}
	if in.UserID == "" {
		return nil, false, invalid("user_id", "is required")
	}

	job, err := s.job(ctx, in.JobID)
	if err != nil {
		return nil, false, err
	}
	key, err := resolveKey(job, in.Role, in.UserID, in.CounterpartID)
	if err != nil {
		return nil, false, err
	}

	unlock := s.locks.lock(key)
	defer unlock()

	var (
		conv    *model.Conversation
		changed bool
	)
	err = s.store.InTx(ctx, func(r store.Repos) error {
		c, err := r.GetConversation(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		n, err := r.MarkMessagesRead(ctx, key, in.Role)
		if err != nil {
			return err
		}
		changed = n > 0

		derived, err := r.CountUnread(ctx, key, in.Role)
		if err != nil {
			return err
		}
		if c.UnreadFor(in.Role) != derived {
			c.SetUnread(in.Role, derived)
			if err := r.UpdateUnreadCounts(ctx, key, c.UnreadForEmployer, c.UnreadForWorker); err != nil {
				return err
			}
		}
		conv = c
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("marking job %s read for %s: %w", in.JobID, in.Role, err)
	}

	if changed {
		s.publish(ctx, sync.ConversationEvents(sync.EventConversationRead, key, s.now().UTC())...)
	}
	return conv, changed, nil
}

// ListMessages returns every message of a job, oldest first.
func (s *Service) ListMessages(ctx context.Context, jobID string) ([]model.Message, error) {
	if jobID == "" {
		return nil, invalid("job_id", "is required")
	}
	return s.store.ListMessages(ctx, jobID)
}

// ListConversationMessages returns one conversation's messages, oldest first.
func (s *Service) ListConversationMessages(ctx context.Context, key model.ConversationKey) ([]model.Message, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	return s.store.ListConversationMessages(ctx, key)
}

// ListConversations returns the user's conversations in the given role,
// most recently active first.
func (s *Service) ListConversations(ctx context.Context, userID string, role model.Role) ([]model.Conversation, error) {
	if userID == "" {
		return nil, invalid("user_id", "is required")
	}
	if !role.Valid() {
		return nil, invalid("role", fmt.Sprintf("unknown role %q", role))
	}
	return s.store.ListConversations(ctx, userID, role)
}

// GetConversation returns one conversation after checking its counters
// against the log. Divergent counters are repaired before returning.
func (s *Service) GetConversation(ctx context.Context, key model.ConversationKey) (*model.Conversation, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	conv, err := s.verify(ctx, key)
	if err == nil {
		return conv, nil
	}
	if !IsConsistency(err) {
		return nil, err
	}

	s.logger.Warn("repairing unread counters", "error", err)
	conv, _, err = s.Reconcile(ctx, key)
	return conv, err
}

// ResolveKey returns the conversation key userID has on jobID in role.
func (s *Service) ResolveKey(ctx context.Context, jobID string, role model.Role, userID, counterpartID string) (model.ConversationKey, error) {
	if !role.Valid() {
		return model.ConversationKey{}, invalid("role", fmt.Sprintf("unknown role %q", role))
	}
	job, err := s.job(ctx, jobID)
	if err != nil {
		return model.ConversationKey{}, err
	}
	return resolveKey(job, role, userID, counterpartID)
}

func (s *Service) validateSend(in SendInput, text string) error {
	if in.JobID == "" {
		return invalid("job_id", "is required")
	}
	if !in.FromRole.Valid() {
		return invalid("from_role", fmt.Sprintf("unknown role %q", in.FromRole))
	}
	if in.SenderID == "" {
		return invalid("sender_id", "is required")
	}
	if text == "" {
		return invalid("text", "must not be empty")
	}
	if n := utf8.RuneCountInString(text); n > s.maxLen {
		return invalid("text", fmt.Sprintf("is %d characters, limit is %d", n, s.maxLen))
	}
	return nil
}

// job loads a job, mapping a missing one to NotFoundError.
func (s *Service) job(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Resource: "job", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Service) publish(ctx context.Context, events ...sync.Event) {
	for _, e := range events {
		if err := s.events.Publish(ctx, e); err != nil {
			s.logger.Warn("publishing message event",
				"kind", e.Kind, "user_id", e.UserID, "error", err)
		}
	}
}

// resolveKey works out the conversation from the job and the acting user.
// The employer is always the job's owner; the worker is either the user
// (worker role) or the chosen counterpart, defaulting to the assignee.
func resolveKey(job *model.Job, role model.Role, userID, counterpartID string) (model.ConversationKey, error) {
	switch role {
	case model.RoleEmployer:
		if userID != job.EmployerID {
			return model.ConversationKey{}, invalid("sender_id", "is not the job's employer")
		}
		worker := counterpartID
		if worker == "" {
			worker = job.AssignedWorkerID
		}
		if worker == "" {
			return model.ConversationKey{}, invalid("counterpart_id", "job has no assigned worker")
		}
		if worker == userID {
			return model.ConversationKey{}, invalid("counterpart_id", "cannot message yourself")
		}
		return model.KeyFor(job.ID, role, userID, worker), nil
	case model.RoleWorker:
		if userID == job.EmployerID {
			return model.ConversationKey{}, invalid("sender_id", "the employer cannot act as worker on their own job")
		}
		if counterpartID != "" && counterpartID != job.EmployerID {
			return model.ConversationKey{}, invalid("counterpart_id", "is not the job's employer")
		}
		return model.KeyFor(job.ID, role, userID, job.EmployerID), nil
	default:
		return model.ConversationKey{}, invalid("role", fmt.Sprintf("unknown role %q", role))
	}
}

func validateKey(key model.ConversationKey) error {
	if key.JobID == "" || key.EmployerID == "" || key.WorkerID == "" {
		return invalid("conversation", "job, employer and worker are required")
	}
	return nil
}

// applySend refreshes the fields every send overwrites.
func applySend(conv *model.Conversation, msg model.Message, job *model.Job) {
	conv.LastMessage = model.MessageSnapshot{
		Text:      msg.Text,
		CreatedAt: msg.CreatedAt,
		SenderID:  msg.SenderID,
	}
	conv.JobTitle = job.Title
	conv.JobStatus = job.Status
	conv.UpdatedAt = msg.CreatedAt
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:previewLength]) + "…"
}
