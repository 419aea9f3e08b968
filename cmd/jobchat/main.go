// Command jobchat is the terminal client: inbox, conversation threads and
// the notification bell over a local database.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/jobchat/internal/app"
	"github.com/nhle/jobchat/internal/chat"
	"github.com/nhle/jobchat/internal/model"
	"github.com/nhle/jobchat/internal/notify"
	"github.com/nhle/jobchat/internal/store"
	"github.com/nhle/jobchat/internal/sync"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "jobchat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := model.DefaultConfigPath()
	cfg, err := model.LoadConfig(cfgPath)
	if err != nil {
		return err
	}

	// The alt screen owns stdout, so logs go next to the config file.
	logger, closeLog, err := openLog(filepath.Join(filepath.Dir(cfgPath), "jobchat.log"))
	if err != nil {
		return err
	}
	defer closeLog()

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	var bus sync.Bus = sync.NewBroker(logger)
	if cfg.Redis.Enabled {
		rb, err := sync.NewRedisBus(context.Background(), cfg.Redis.URL, logger)
		if err != nil {
			return err
		}
		defer rb.Close()
		bus = rb
	}

	d := notify.NewDispatcher(st, bus, logger)
	svc := chat.NewService(st, d,
		chat.WithPublisher(bus),
		chat.WithLogger(logger),
		chat.WithMaxMessageLength(cfg.Messaging.MaxMessageLength),
	)

	m := app.New(app.Options{
		Chat:       svc,
		Notify:     d,
		Events:     bus,
		Config:     cfg,
		ConfigPath: cfgPath,
	})

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithReportFocus())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running program: %w", err)
	}
	return nil
}

func openLog(path string) (*slog.Logger, func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo}))
	return logger, func() { f.Close() }, nil
}
