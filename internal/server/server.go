// Package server exposes the messaging core over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/nhle/jobchat/internal/chat"
	"github.com/nhle/jobchat/internal/notify"
	"github.com/nhle/jobchat/internal/reminder"
	"github.com/nhle/jobchat/internal/store"
	"github.com/nhle/jobchat/internal/sync"
)

// ReminderScheduler enqueues job reminders.
type ReminderScheduler interface {
	Schedule(ctx context.Context, p reminder.Payload, at time.Time) (string, error)
}

// Deps are the collaborators the server routes to.
type Deps struct {
	Chat      *chat.Service
	Notify    *notify.Dispatcher
	Jobs      store.JobRepo
	Events    sync.Subscriber
	Reminders ReminderScheduler // optional
	Secret    []byte
	Logger    *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	echo      *echo.Echo
	chat      *chat.Service
	notify    *notify.Dispatcher
	jobs      store.JobRepo
	events    sync.Subscriber
	reminders ReminderScheduler
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

// New builds the server and registers its routes.
func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("request",
				"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))

	s := &Server{
		echo:      e,
		chat:      d.Chat,
		notify:    d.Notify,
		jobs:      d.Jobs,
		events:    d.Events,
		reminders: d.Reminders,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
	s.registerRoutes(d.Secret)
	return s
}

func (s *Server) registerRoutes(secret []byte) {
	s.echo.GET("/health", s.health)

	api := s.echo.Group("/api/v1", jwtAuth(secret))

	api.POST("/jobs/:job_id/messages", s.sendMessage)
	api.GET("/jobs/:job_id/messages", s.listMessages)
	api.POST("/jobs/:job_id/read", s.markRead)

	api.GET("/conversations", s.listConversations)
	api.GET("/conversations/:job_id/:employer_id/:worker_id", s.getConversation)

	api.GET("/notifications", s.listNotifications)
	api.GET("/notifications/unread-count", s.unreadCount)
	api.PUT("/notifications/:id/read", s.markNotificationRead)
	api.PUT("/notifications/read-all", s.markAllNotificationsRead)

	api.GET("/ws", s.websocket)

	internal := api.Group("/internal", requireScope(ScopeInternal))
	internal.POST("/notifications", s.dispatchNotification)
	internal.POST("/jobs", s.upsertJob)
	internal.POST("/reminders", s.scheduleReminder)
	internal.POST("/reconcile", s.reconcile)
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("http server listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "service": "jobchat"})
}
