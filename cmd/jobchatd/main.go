// Command jobchatd serves the messaging API and runs background work.
//
// Usage:
//
//	jobchatd [serve]                    run the HTTP/WebSocket API and reminder worker
//	jobchatd token -user ID [-scope S]  print a bearer token
//	jobchatd digest -user ID -to ADDR   append an unread digest to the IMAP mailbox
//	jobchatd reconcile                  recompute every conversation summary
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nhle/jobchat/internal/chat"
	"github.com/nhle/jobchat/internal/credential"
	"github.com/nhle/jobchat/internal/digest"
	"github.com/nhle/jobchat/internal/model"
	"github.com/nhle/jobchat/internal/notify"
	"github.com/nhle/jobchat/internal/reminder"
	"github.com/nhle/jobchat/internal/server"
	"github.com/nhle/jobchat/internal/store"
	"github.com/nhle/jobchat/internal/sync"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "serve":
		err = serve(ctx, logger, args)
	case "token":
		err = token(args)
	case "digest":
		err = sendDigest(ctx, logger, args)
	case "reconcile":
		err = reconcile(ctx, logger, args)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		logger.Error("jobchatd failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

// env bundles what every subcommand needs.
type env struct {
	cfg   *model.AppConfig
	store *store.SQLiteStore
	bus   sync.Bus
	chat  *chat.Service
	disp  *notify.Dispatcher
	close func()
}

func setup(ctx context.Context, logger *slog.Logger, cfgPath string) (*env, error) {
	cfg, err := model.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	closers := []func(){func() { st.Close() }}
	var bus sync.Bus = sync.NewBroker(logger)
	if cfg.Redis.Enabled {
		rb, err := sync.NewRedisBus(ctx, cfg.Redis.URL, logger)
		if err != nil {
			st.Close()
			return nil, err
		}
		closers = append(closers, func() { rb.Close() })
		bus = rb
	}

	d := notify.NewDispatcher(st, bus, logger)
	svc := chat.NewService(st, d,
		chat.WithPublisher(bus),
		chat.WithLogger(logger),
		chat.WithMaxMessageLength(cfg.Messaging.MaxMessageLength),
	)
	return &env{
		cfg:   cfg,
		store: st,
		bus:   bus,
		chat:  svc,
		disp:  d,
		close: func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		},
	}, nil
}

func jwtSecret(cfg *model.AppConfig) ([]byte, error) {
	if cfg.Server.JWTSecret != "" {
		return []byte(cfg.Server.JWTSecret), nil
	}
	s, err := credential.Lookup(credential.KeyJWTSecret)
	if err != nil {
		return nil, fmt.Errorf("jwt secret: %w", err)
	}
	return []byte(s), nil
}

func serve(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	cfgPath := fs.String("config", model.DefaultConfigPath(), "path to config file")
	addr := fs.String("addr", "", "listen address (overrides server.addr)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := setup(ctx, logger, *cfgPath)
	if err != nil {
		return err
	}
	defer e.close()

	secret, err := jwtSecret(e.cfg)
	if err != nil {
		return err
	}

	// Summaries drift if a previous run died mid-write; repair before serving.
	if n, err := e.chat.ReconcileAll(ctx); err != nil {
		logger.Warn("startup reconcile failed", "error", err)
	} else if n > 0 {
		logger.Info("startup reconcile repaired conversations", "count", n)
	}

	deps := server.Deps{
		Chat:   e.chat,
		Notify: e.disp,
		Jobs:   e.store,
		Events: e.bus,
		Secret: secret,
		Logger: logger,
	}

	errc := make(chan error, 2)
	if e.cfg.Redis.Enabled {
		sched, err := reminder.NewScheduler(e.cfg.Redis.URL, e.cfg.Reminders.Queue)
		if err != nil {
			return err
		}
		defer sched.Close()
		deps.Reminders = sched

		w, err := reminder.NewWorker(e.cfg.Redis.URL, e.cfg.Reminders.Queue,
			e.cfg.Reminders.Concurrency, reminder.NewHandler(e.disp, logger), logger)
		if err != nil {
			return err
		}
		go func() { errc <- w.Run(ctx) }()
	} else {
		logger.Info("redis disabled, reminders unavailable")
	}

	srv := server.New(deps)
	listen := e.cfg.Server.Addr
	if *addr != "" {
		listen = *addr
	}
	go func() { errc <- srv.Start(listen) }()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			return err
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func token(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	cfgPath := fs.String("config", model.DefaultConfigPath(), "path to config file")
	user := fs.String("user", "", "user id the token is issued to")
	scope := fs.String("scope", "", "token scope, e.g. "+server.ScopeInternal)
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return errors.New("-user is required")
	}

	cfg, err := model.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	secret, err := jwtSecret(cfg)
	if err != nil {
		return err
	}
	tok, err := server.GenerateToken(secret, *user, *scope, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func sendDigest(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("digest", flag.ContinueOnError)
	cfgPath := fs.String("config", model.DefaultConfigPath(), "path to config file")
	user := fs.String("user", "", "recipient user id")
	to := fs.String("to", "", "recipient email address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" || *to == "" {
		return errors.New("-user and -to are required")
	}

	e, err := setup(ctx, logger, *cfgPath)
	if err != nil {
		return err
	}
	defer e.close()

	dc := e.cfg.Digest
	if dc.IMAPHost == "" {
		return errors.New("digest.imap_host is not configured")
	}
	pass, err := credential.Lookup(credential.KeyIMAPPassword)
	if err != nil {
		return fmt.Errorf("imap password: %w", err)
	}

	deliverer := digest.NewIMAPDeliverer(dc.IMAPHost, dc.IMAPPort, dc.IMAPUsername, pass, dc.IMAPTLS, dc.Mailbox)
	n, err := digest.NewBuilder(e.disp, deliverer, dc.From).Run(ctx, *user, *to)
	if errors.Is(err, digest.ErrEmpty) {
		logger.Info("nothing unread, digest skipped", "user", *user)
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("digest delivered", "user", *user, "notifications", n, "mailbox", dc.Mailbox)
	return nil
}

func reconcile(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	cfgPath := fs.String("config", model.DefaultConfigPath(), "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := setup(ctx, logger, *cfgPath)
	if err != nil {
		return err
	}
	defer e.close()

	n, err := e.chat.ReconcileAll(ctx)
	if err != nil {
		return err
	}
	logger.Info("reconcile finished", "repaired", n)
	return nil
}
