// Command stockwatch polls product pages and alerts when a configured
// content marker shows up on the rendered page.
//
// Usage:
//
//	stockwatch -config pages.json,info.json       # loop forever
//	stockwatch -config stockwatch.yaml -once      # single sweep
//	stockwatch -config stockwatch.yaml -http :8080 -db stockwatch.db
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/stockwatch/api"
	"github.com/hazyhaar/stockwatch/config"
	"github.com/hazyhaar/stockwatch/internal/browser"
	"github.com/hazyhaar/stockwatch/match"
	"github.com/hazyhaar/stockwatch/notify"
	"github.com/hazyhaar/stockwatch/stabilize"
	"github.com/hazyhaar/stockwatch/store"
	"github.com/hazyhaar/stockwatch/sweep"
)

func main() {
	configPaths := flag.String("config", "pages.json,info.json", "comma separated config files, merged in order")
	once := flag.Bool("once", false, "run a single sweep and exit")
	httpAddr := flag.String("http", "", "status API listen address (overrides config)")
	dbPath := flag.String("db", "", "check history database (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(splitPaths(*configPaths)...)
	if err != nil {
		logger.Error("stockwatch: load config", "error", err)
		os.Exit(1)
	}
	if *httpAddr != "" {
		cfg.HTTP = *httpAddr
	}
	if *dbPath != "" {
		cfg.DB = *dbPath
	}

	if err := run(ctx, logger, cfg, *once); err != nil {
		logger.Error("stockwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, once bool) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	policies, errs := cfg.Policies(logger)
	hosts := policies.Hosts()
	slices.Sort(hosts)
	logger.Info("stockwatch: policies loaded", "count", policies.Len(), "hosts", hosts, "skipped", len(errs))

	notifier, err := buildNotifier(cfg, logger)
	if err != nil {
		return err
	}
	defer notifier.Close()

	runCfg := sweep.Config{
		Links:     cfg.Links,
		Evaluator: match.New(policies, logger),
		Notifier:  notifier,
		Subject:   cfg.Subject,
		Interval:  cfg.Sweep.Interval.D(),
		Once:      once,
		Logger:    logger,
	}

	if cfg.DB != "" {
		st, err := store.Open(cfg.DB)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer st.Close()
		runCfg.History = st

		if cfg.HTTP != "" {
			srv := serveAPI(cfg.HTTP, st, logger)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
		}
	} else if cfg.HTTP != "" {
		logger.Warn("stockwatch: status API needs a history database, not serving", "addr", cfg.HTTP)
	}

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		Headful:          cfg.Browser.Headful,
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		NoXvfb:           cfg.Browser.NoXvfb,
		Stealth:          cfg.Browser.Stealth,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		NavigateTimeout:  cfg.Browser.NavigateTimeout.D(),
		RecycleInterval:  cfg.Browser.RecycleInterval.D(),
		Logger:           logger,
	})
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer mgr.Close()

	runCfg.Boundary = mgr
	runCfg.Monitor = stabilize.New(stabilize.Config{
		Session:     mgr,
		Interval:    cfg.Stabilize.Interval.D(),
		MaxAttempts: cfg.Stabilize.MaxAttempts,
		Timeout:     cfg.Stabilize.Timeout.D(),
		Logger:      logger,
	})

	return sweep.NewRunner(runCfg).Run(ctx)
}

func buildNotifier(cfg *config.Config, logger *slog.Logger) (*notify.Router, error) {
	var notifiers []notify.Notifier
	if cfg.EmailEnabled() {
		m, err := notify.NewEmail(notify.SMTPConfig{
			Host:       cfg.SMTPHost,
			Port:       cfg.SMTPPort,
			Sender:     cfg.SenderAddress,
			Password:   cfg.SenderPassword,
			Recipients: cfg.Recipients,
		})
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, m)
	}
	for _, u := range cfg.Webhooks {
		notifiers = append(notifiers, notify.NewWebhook(u, notify.WithWebhookLogger(logger)))
	}
	if cfg.Stdout {
		notifiers = append(notifiers, notify.NewStdout(os.Stdout))
	}
	if len(notifiers) == 0 {
		logger.Warn("stockwatch: no notifier configured, alerts are only logged")
	}
	return notify.NewRouter(logger, notifiers...), nil
}

func serveAPI(addr string, st *store.Store, logger *slog.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(st, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("stockwatch: status API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("stockwatch: status API", "error", err)
		}
	}()
	return srv
}

func splitPaths(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
