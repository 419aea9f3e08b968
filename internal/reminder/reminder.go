// Package reminder schedules job reminders on an asynq queue and turns them
// into jobReminder notifications when they come due.
package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/nhle/jobchat/internal/model"
	"github.com/nhle/jobchat/internal/notify"
)

// TypeJobReminder is the asynq task type for job reminders.
const TypeJobReminder = "reminder:job"

// Payload is the body of a reminder task.
type Payload struct {
	RecipientID string `json:"recipient_id"`
	JobID       string `json:"job_id"`
	Note        string `json:"note,omitempty"`
}

func (p Payload) validate() error {
	if p.RecipientID == "" {
		return errors.New("reminder: recipient is required")
	}
	if p.JobID == "" {
		return errors.New("reminder: job is required")
	}
	return nil
}

// NewTask encodes p as an asynq task.
func NewTask(p Payload) (*asynq.Task, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("reminder: encoding payload: %w", err)
	}
	return asynq.NewTask(TypeJobReminder, data), nil
}

// Scheduler enqueues reminders.
type Scheduler struct {
	client *asynq.Client
	queue  string
}

// NewScheduler connects an asynq client to the Redis server at redisURL.
func NewScheduler(redisURL, queue string) (*Scheduler, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	return &Scheduler{client: asynq.NewClient(opt), queue: queue}, nil
}

// Schedule enqueues a reminder to fire at the given time and returns the
// task id.
func (s *Scheduler) Schedule(ctx context.Context, p Payload, at time.Time) (string, error) {
	task, err := NewTask(p)
	if err != nil {
		return "", err
	}
	opts := []asynq.Option{asynq.ProcessAt(at), asynq.MaxRetry(5)}
	if s.queue != "" {
		opts = append(opts, asynq.Queue(s.queue))
	}
	info, err := s.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return "", fmt.Errorf("asynq: enqueue reminder for job %s: %w", p.JobID, err)
	}
	return info.ID, nil
}

// Close releases the client connection.
func (s *Scheduler) Close() error {
	return s.client.Close()
}

// Notifier is the part of the dispatcher the handler needs.
type Notifier interface {
	Dispatch(ctx context.Context, in notify.Input) (*model.Notification, error)
}

// Handler processes due reminders.
type Handler struct {
	notifier Notifier
	logger   *slog.Logger
}

var _ asynq.Handler = (*Handler)(nil)

// NewHandler builds a Handler. A nil logger uses slog.Default.
func NewHandler(n Notifier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{notifier: n, logger: logger}
}

// ProcessTask dispatches the reminder notification. Malformed payloads are
// not retried.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("reminder: decoding payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := p.validate(); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	payload := map[string]string{}
	if p.Note != "" {
		payload["note"] = p.Note
	}
	n, err := h.notifier.Dispatch(ctx, notify.Input{
		RecipientID: p.RecipientID,
		Type:        model.NotificationJobReminder,
		JobID:       p.JobID,
		Payload:     payload,
	})
	if err != nil {
		return fmt.Errorf("reminder: dispatching for job %s: %w", p.JobID, err)
	}
	h.logger.Info("reminder delivered", "job_id", p.JobID, "recipient_id", p.RecipientID, "notification_id", n.ID)
	return nil
}

// Worker runs the asynq server that consumes reminder tasks.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewWorker builds a worker listening on queue.
func NewWorker(redisURL, queue string, concurrency int, h *Handler, logger *slog.Logger) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = 5
	}
	if queue == "" {
		queue = "default"
	}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("reminder task failed", "type", task.Type(), "error", err)
		}),
	})
	mux := asynq.NewServeMux()
	mux.Handle(TypeJobReminder, h)
	return &Worker{server: srv, mux: mux}, nil
}

// Run starts the worker and blocks until ctx is cancelled, then shuts down.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("asynq: starting worker: %w", err)
	}
	<-ctx.Done()
	w.server.Shutdown()
	return nil
}
