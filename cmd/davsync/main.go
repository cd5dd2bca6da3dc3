// Command davsync keeps local copies of CalDAV calendars in sync with
// their Nextcloud servers, on a schedule or as a one-shot run.
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

	"github.com/robfig/cron/v3"

	"davsync/internal/config"
	"davsync/store"
	"davsync/store/sqlite"
	"davsync/sync"
)

func main() {
	var (
		configPath = flag.String("config", "davsync.yaml", "path to the configuration file")
		once       = flag.Bool("once", false, "run a single sync pass and exit")
		accountID  = flag.Int64("account", 0, "sync only this account id (0 = all)")
		force      = flag.Bool("force", false, "re-run discovery even when the account is already set up")
	)
	flag.Parse()

	if err := run(*configPath, *once, *accountID, *force); err != nil {
		fmt.Fprintln(os.Stderr, "davsync:", err)
		os.Exit(1)
	}
}

func run(configPath string, once bool, accountID int64, force bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	st, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	creds := &configCredentials{accounts: cfg.Accounts}
	engine := sync.NewEngine(st, logger)
	engine.SetNotifier(&logNotifier{logger: logger}, cfg.ReminderLead())
	orch := sync.NewOrchestrator(sync.OrchestratorConfig{
		Store:         st,
		Credentials:   creds,
		Engine:        engine,
		Logger:        logger,
		AllowInsecure: cfg.AllowInsecure,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ensureAccounts(ctx, st, cfg); err != nil {
		return err
	}

	if once {
		return runOnce(ctx, orch, logger, accountID, force)
	}

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.RefreshCron, func() {
		if err := runOnce(ctx, orch, logger, accountID, force); err != nil {
			logger.Error("scheduled sync failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", cfg.RefreshCron, err)
	}

	logger.Info("scheduler started", "cron", cfg.RefreshCron)
	scheduler.Start()
	<-ctx.Done()
	logger.Info("shutting down")
	<-scheduler.Stop().Done()
	return nil
}

func runOnce(ctx context.Context, orch *sync.Orchestrator, logger *slog.Logger, accountID int64, force bool) error {
	var results []*sync.SyncResult
	if accountID != 0 {
		res, err := orch.RunSync(ctx, accountID, force)
		if err != nil {
			return err
		}
		results = append(results, res)
	} else {
		var err error
		results, err = orch.SyncAll(ctx, force)
		if err != nil {
			return err
		}
	}

	var failed bool
	for _, res := range results {
		logger.Info("account synced",
			"account", res.AccountID,
			"pulled", res.Pulled,
			"pushed", res.Pushed,
			"conflicts", res.Conflicts,
			"failed", res.Failed,
			"duration", res.Duration)
		for _, f := range res.Failures {
			logger.Error("calendar failed", "account", res.AccountID, "detail", f)
			failed = true
		}
	}
	if failed {
		return errors.New("some calendars failed to sync")
	}
	return nil
}

// ensureAccounts mirrors the config's account list into the store so a
// freshly configured account syncs without a separate setup step.
func ensureAccounts(ctx context.Context, st store.Store, cfg *config.Config) error {
	existing, err := st.ListAccounts(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(existing))
	for _, a := range existing {
		known[a.BaseURL+"\x00"+a.Username] = true
	}

	for _, a := range cfg.Accounts {
		if known[a.URL+"\x00"+a.Username] {
			continue
		}
		if err := st.UpsertAccount(ctx, &store.Account{
			BaseURL:  a.URL,
			Username: a.Username,
			Default:  a.Default,
		}); err != nil {
			return err
		}
	}
	return nil
}

// configCredentials serves passwords straight from the configuration
// file. The desktop build replaces this with the OS keychain.
type configCredentials struct {
	accounts []config.AccountConfig
}

var _ store.CredentialStore = (*configCredentials)(nil)

func (c *configCredentials) GetPassword(_ context.Context, baseURL, username string) (string, error) {
	for _, a := range c.accounts {
		if a.URL == baseURL && a.Username == username && a.Password != "" {
			return a.Password, nil
		}
	}
	return "", store.ErrNotFound
}

func (c *configCredentials) SaveCredentials(_ context.Context, baseURL, username, password string) error {
	return errors.New("config-backed credentials are read-only, edit the config file")
}

func (c *configCredentials) DeleteCredentials(context.Context, string, string) error {
	return nil
}

// logNotifier logs upcoming reminders. A desktop build hands them to
// the platform notification service instead.
type logNotifier struct {
	logger *slog.Logger
}

func (n *logNotifier) ScheduleReminder(_ context.Context, r sync.Reminder) error {
	n.logger.Info("upcoming event",
		"uid", r.UID,
		"summary", r.Summary,
		"occurrence", r.Occurrence,
		"remind_at", r.FireAt)
	return nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
