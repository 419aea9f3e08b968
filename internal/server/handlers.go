package server

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nhle/jobchat/internal/chat"
	"github.com/nhle/jobchat/internal/model"
	"github.com/nhle/jobchat/internal/notify"
	"github.com/nhle/jobchat/internal/reminder"
	"github.com/nhle/jobchat/internal/store"
)

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// fail maps domain errors to HTTP responses.
func (s *Server) fail(c echo.Context, err error) error {
	switch {
	case chat.IsValidation(err), errors.Is(err, notify.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	case chat.IsNotFound(err), errors.Is(err, store.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorBody(err.Error()))
	default:
		s.logger.Error("request failed",
			"method", c.Request().Method, "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, errorBody("internal error"))
	}
}

type sendRequest struct {
	Role          model.Role `json:"role"`
	Text          string     `json:"text"`
	CounterpartID string     `json:"counterpart_id"`
}

// POST /api/v1/jobs/:job_id/messages
func (s *Server) sendMessage(c echo.Context) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	res, err := s.chat.Send(c.Request().Context(), chat.SendInput{
		JobID:         c.Param("job_id"),
		FromRole:      req.Role,
		SenderID:      userID(c),
		Text:          req.Text,
		CounterpartID: req.CounterpartID,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"message":      res.Message,
		"conversation": res.Conversation,
	})
}

// GET /api/v1/jobs/:job_id/messages
//
// The job's employer sees every conversation on the job; anyone else only
// the messages of their own conversation.
func (s *Server) listMessages(c echo.Context) error {
	ctx := c.Request().Context()
	jobID := c.Param("job_id")
	user := userID(c)

	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return s.fail(c, err)
	}

	msgs, err := s.chat.ListMessages(ctx, jobID)
	if err != nil {
		return s.fail(c, err)
	}
	if user != job.EmployerID {
		own := msgs[:0]
		for _, m := range msgs {
			if m.WorkerID == user {
				own = append(own, m)
			}
		}
		msgs = own
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": msgs})
}

type markReadRequest struct {
	Role          model.Role `json:"role"`
	CounterpartID string     `json:"counterpart_id"`
}

// POST /api/v1/jobs/:job_id/read
func (s *Server) markRead(c echo.Context) error {
	var req markReadRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	conv, changed, err := s.chat.MarkRead(c.Request().Context(), chat.MarkReadInput{
		JobID:         c.Param("job_id"),
		Role:          req.Role,
		UserID:        userID(c),
		CounterpartID: req.CounterpartID,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"conversation": conv,
		"changed":      changed,
	})
}

// GET /api/v1/conversations?role=
//
// Without a role both lists are merged, still most recently active first.
func (s *Server) listConversations(c echo.Context) error {
	ctx := c.Request().Context()
	user := userID(c)

	role := model.Role(c.QueryParam("role"))
	if role != "" {
		convs, err := s.chat.ListConversations(ctx, user, role)
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"conversations": convs})
	}

	var all []model.Conversation
	for _, r := range []model.Role{model.RoleEmployer, model.RoleWorker} {
		convs, err := s.chat.ListConversations(ctx, user, r)
		if err != nil {
			return s.fail(c, err)
		}
		all = append(all, convs...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].UpdatedAt.After(all[j].UpdatedAt)
	})
	if all == nil {
		all = []model.Conversation{}
	}
	return c.JSON(http.StatusOK, map[string]any{"conversations": all})
}

// GET /api/v1/conversations/:job_id/:employer_id/:worker_id
func (s *Server) getConversation(c echo.Context) error {
	key := model.ConversationKey{
		JobID:      c.Param("job_id"),
		EmployerID: c.Param("employer_id"),
		WorkerID:   c.Param("worker_id"),
	}
	if user := userID(c); user != key.EmployerID && user != key.WorkerID {
		return c.JSON(http.StatusForbidden, errorBody("not a participant"))
	}

	conv, err := s.chat.GetConversation(c.Request().Context(), key)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, conv)
}

// GET /api/v1/notifications?category=
func (s *Server) listNotifications(c echo.Context) error {
	ns, err := s.notify.List(c.Request().Context(), userID(c), model.Category(c.QueryParam("category")))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"notifications": ns})
}

// GET /api/v1/notifications/unread-count
func (s *Server) unreadCount(c echo.Context) error {
	n, err := s.notify.UnreadCount(c.Request().Context(), userID(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"count": n})
}

// PUT /api/v1/notifications/:id/read
func (s *Server) markNotificationRead(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	n, err := s.notify.Get(ctx, id)
	if err != nil {
		return s.fail(c, err)
	}
	if n.RecipientID != userID(c) {
		// Someone else's notification is reported as missing.
		return c.JSON(http.StatusNotFound, errorBody("notification not found"))
	}

	changed, err := s.notify.MarkRead(ctx, id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"changed": changed})
}

// PUT /api/v1/notifications/read-all
func (s *Server) markAllNotificationsRead(c echo.Context) error {
	n, err := s.notify.MarkAllRead(c.Request().Context(), userID(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"updated": n})
}

type dispatchRequest struct {
	RecipientID string                 `json:"recipient_id"`
	Type        model.NotificationType `json:"type"`
	JobID       string                 `json:"job_id"`
	Section     string                 `json:"section"`
	Payload     map[string]string      `json:"payload"`
}

// POST /api/v1/internal/notifications
func (s *Server) dispatchNotification(c echo.Context) error {
	var req dispatchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	n, err := s.notify.Dispatch(c.Request().Context(), notify.Input{
		RecipientID: req.RecipientID,
		Type:        req.Type,
		JobID:       req.JobID,
		Section:     req.Section,
		Payload:     req.Payload,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, n)
}

// POST /api/v1/internal/jobs
func (s *Server) upsertJob(c echo.Context) error {
	var job model.Job
	if err := c.Bind(&job); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	if job.ID == "" || job.EmployerID == "" {
		return c.JSON(http.StatusBadRequest, errorBody("id and employer_id are required"))
	}

	if err := s.jobs.UpsertJob(c.Request().Context(), job); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type reminderRequest struct {
	RecipientID string    `json:"recipient_id"`
	JobID       string    `json:"job_id"`
	Note        string    `json:"note"`
	At          time.Time `json:"at"`
}

// POST /api/v1/internal/reminders
func (s *Server) scheduleReminder(c echo.Context) error {
	if s.reminders == nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody("reminders are disabled"))
	}

	var req reminderRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	if req.At.IsZero() {
		return c.JSON(http.StatusBadRequest, errorBody("at is required"))
	}

	id, err := s.reminders.Schedule(c.Request().Context(), reminder.Payload{
		RecipientID: req.RecipientID,
		JobID:       req.JobID,
		Note:        req.Note,
	}, req.At)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"task_id": id})
}

// POST /api/v1/internal/reconcile
func (s *Server) reconcile(c echo.Context) error {
	n, err := s.chat.ReconcileAll(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"repaired": n})
}
