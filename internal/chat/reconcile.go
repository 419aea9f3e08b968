package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/jobchat/internal/model"
	"github.com/nhle/jobchat/internal/store"
)

var roles = [...]model.Role{model.RoleEmployer, model.RoleWorker}

// Verify checks both unread counters of a conversation against the log and
// returns a ConsistencyError for the first one that differs.
func (s *Service) Verify(ctx context.Context, key model.ConversationKey) error {
	if err := validateKey(key); err != nil {
		return err
	}
	_, err := s.verify(ctx, key)
	return err
}

// verify reads the conversation and the derived counts in one transaction so
// a concurrent send cannot produce a false mismatch.
func (s *Service) verify(ctx context.Context, key model.ConversationKey) (*model.Conversation, error) {
	var conv *model.Conversation
	err := s.store.InTx(ctx, func(r store.Repos) error {
		c, err := s.conversation(ctx, r, key)
		if err != nil {
			return err
		}
		for _, role := range roles {
			derived, err := r.CountUnread(ctx, key, role)
			if err != nil {
				return err
			}
			if stored := c.UnreadFor(role); stored != derived {
				return &ConsistencyError{Key: key, Role: role, Stored: stored, Derived: derived}
			}
		}
		conv = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// Reconcile recomputes both unread counters of a conversation from the log.
// It reports whether anything had to change. Safe to call at any time.
func (s *Service) Reconcile(ctx context.Context, key model.ConversationKey) (*model.Conversation, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}

	unlock := s.locks.lock(key)
	defer unlock()

	var (
		conv     *model.Conversation
		repaired bool
	)
	err := s.store.InTx(ctx, func(r store.Repos) error {
		c, err := s.conversation(ctx, r, key)
		if err != nil {
			return err
		}
		for _, role := range roles {
			derived, err := r.CountUnread(ctx, key, role)
			if err != nil {
				return err
			}
			if c.UnreadFor(role) != derived {
				c.SetUnread(role, derived)
				repaired = true
			}
		}
		if repaired {
			if err := r.UpdateUnreadCounts(ctx, key, c.UnreadForEmployer, c.UnreadForWorker); err != nil {
				return err
			}
		}
		conv = c
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("reconciling conversation on job %s: %w", key.JobID, err)
	}

	if repaired {
		s.logger.Info("reconciled unread counters",
			"job_id", key.JobID,
			"employer_id", key.EmployerID,
			"worker_id", key.WorkerID,
			"unread_employer", conv.UnreadForEmployer,
			"unread_worker", conv.UnreadForWorker,
		)
	}
	return conv, repaired, nil
}

// ReconcileAll reconciles every conversation and returns how many needed
// repair. It keeps going past individual failures and returns them joined.
func (s *Service) ReconcileAll(ctx context.Context) (int, error) {
	keys, err := s.store.ListConversationKeys(ctx)
	if err != nil {
		return 0, err
	}

	var (
		repaired int
		errs     []error
	)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		_, changed, err := s.Reconcile(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if changed {
			repaired++
		}
	}
	return repaired, errors.Join(errs...)
}

func (s *Service) conversation(ctx context.Context, r store.Repos, key model.ConversationKey) (*model.Conversation, error) {
	c, err := r.GetConversation(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{
			Resource: "conversation",
			ID:       key.JobID + "/" + key.EmployerID + "/" + key.WorkerID,
		}
	}
	return c, err
}
