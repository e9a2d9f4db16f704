package cli

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/config"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/credential"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/db"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/execution"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/github"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/logging"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/notify"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/pipeline"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/poller"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/realtime"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/reconcile"
	"github.com/kiranbakale1talentica/AutoFlow-AI/internal/webhook"
)

// loadConfig loads --config or the default search path and applies --db.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.Load(configFile)
	} else {
		cfg, _, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if dsnFlag != "" {
		cfg.Database.DSN = dsnFlag
	}
	return cfg, nil
}

// openDB opens and migrates the configured database, returning it with a cleanup func.
func openDB(cfg *config.Config) (*db.DB, func(), error) {
	dsn := cfg.Database.DSN
	if dsn == "" {
		var err error
		dsn, err = db.DefaultDBPath()
		if err != nil {
			return nil, nil, err
		}
	}
	d, err := db.OpenWithOptions(context.Background(), dsn, db.Options{PingTimeout: 5 * time.Second})
	if err != nil {
		return nil, nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return d, func() { d.Close() }, nil
}

// openStore loads config and opens the database for one-shot commands.
func openStore() (*config.Config, *db.DB, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	d, cleanup, err := openDB(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, d, cleanup, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
}

func newGitHubClient(cfg *config.Config) *github.Client {
	return github.NewClient(github.Config{
		BaseURL: cfg.GitHub.APIURL,
		Timeout: cfg.GitHub.TimeoutDuration(),
	})
}

func newMailer(cfg *config.Config) (notify.Mailer, error) {
	if !cfg.Mail.Enabled() {
		return notify.NopMailer{}, nil
	}
	return notify.NewSMTPMailer(notify.SMTPConfig{
		Host:        cfg.Mail.Host,
		Port:        cfg.Mail.Port,
		Username:    cfg.Mail.Username,
		Password:    cfg.Mail.Password,
		From:        cfg.Mail.From,
		ImplicitTLS: cfg.Mail.ImplicitTLS,
		Timeout:     cfg.Mail.TimeoutDuration(),
	})
}

// app is the fully wired engine shared by serve, poll, and webhook replay.
type app struct {
	cfg         *config.Config
	logger      *zap.Logger
	db          *db.DB
	executions  *execution.Store
	github      *github.Client
	credentials *credential.Store
	broadcaster *realtime.Broadcaster
	reconciler  *reconcile.Reconciler
	webhooks    *webhook.Handler
	poller      *poller.Poller
}

// newApp wires the engine. The returned cleanup drains pending
// notifications before closing the database.
func newApp() (*app, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, nil, fmt.Errorf("invalid config: %v", errs[0])
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	d, closeDB, err := openDB(cfg)
	if err != nil {
		return nil, nil, err
	}

	mailer, err := newMailer(cfg)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	dispatcher, err := notify.NewDispatcher(d, d, mailer, logger.Named("notify"), notify.Options{
		TemplateDir: cfg.Mail.TemplateDir,
		Location:    cfg.Mail.Location(),
	})
	if err != nil {
		closeDB()
		return nil, nil, err
	}

	a := &app{
		cfg:         cfg,
		logger:      logger,
		db:          d,
		executions:  execution.NewStore(d, logger.Named("execution")),
		github:      newGitHubClient(cfg),
		credentials: credential.NewStore(),
		broadcaster: realtime.NewBroadcaster(logger.Named("realtime")),
	}
	a.reconciler = reconcile.New(a.executions, dispatcher, a.broadcaster, logger.Named("reconcile"), 0)
	a.reconciler.Start()
	sources := pipeline.NewRegistry(github.NewSource(a.github))
	a.webhooks = webhook.NewHandler(cfg.GitHub.WebhookSecret, d, sources, a.reconciler, logger.Named("webhook"))
	a.poller = poller.New(d, sources, a.credentials, a.reconciler, logger, poller.Config{
		Interval: cfg.Polling.IntervalDuration(),
		Limit:    cfg.Polling.Limit,
	})

	cleanup := func() {
		a.reconciler.Close()
		_ = logger.Sync()
		closeDB()
	}
	return a, cleanup, nil
}

// seedCredentials loads token (or the configured default token) as the
// credential for every active pipeline. It returns how many were set.
func (a *app) seedCredentials(ctx context.Context, token string) (int, error) {
	if token == "" {
		token = a.cfg.GitHub.Token
	}
	if token == "" {
		return 0, nil
	}
	pipelines, err := a.db.ListPipelines(ctx, true)
	if err != nil {
		return 0, err
	}
	for _, p := range pipelines {
		a.credentials.Set(p.ID, token)
	}
	return len(pipelines), nil
}
