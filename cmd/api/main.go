package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"notegate/api/internal/app"
	"notegate/api/internal/archive"
	"notegate/api/internal/auth"
	"notegate/api/internal/authpw"
	"notegate/api/internal/comments"
	"notegate/api/internal/config"
	"notegate/api/internal/email"
	"notegate/api/internal/gitrepo"
	"notegate/api/internal/grants"
	"notegate/api/internal/ledger"
	"notegate/api/internal/membership"
	"notegate/api/internal/rbac"
	"notegate/api/internal/search"
	"notegate/api/internal/session"
	"notegate/api/internal/store"
	"notegate/api/internal/sweeper"
)

func main() {
	var (
		configPath  string
		migrateOnly bool
	)
	flagSet := pflag.NewFlagSet("notegate-api", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", os.Getenv("NOTEGATE_CONFIG"), "path to an ini config file")
	flagSet.BoolVar(&migrateOnly, "migrate-only", false, "apply database migrations and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		logrus.WithError(err).Fatal("invalid flags")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	logger := cfg.NewLogger()
	log := logrus.NewEntry(logger).WithField("service", "notegate-api")

	if err := run(cfg, migrateOnly, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func run(cfg config.Config, migrateOnly bool, log *logrus.Entry) error {
	ctx := context.Background()

	db, dialect, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, store.Migrations()); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	if migrateOnly {
		log.Info("migrations applied")
		return nil
	}

	dataStore := store.NewSQLStore(db, dialect)
	specs, err := dataStore.ListRoleSpecs(ctx)
	if err != nil {
		return fmt.Errorf("load roles: %w", err)
	}
	registry, err := rbac.NewRegistry(specs)
	if err != nil {
		return fmt.Errorf("role registry: %w", err)
	}

	metrics := app.NewMetrics()
	authz := rbac.NewEvaluator(registry).WithLogger(log)
	authz.OnDecision(metrics.ObserveDecision)

	sessions, err := openSessions(cfg, log)
	if err != nil {
		return err
	}
	defer sessions.Close()

	mailer := email.NewService(email.Config{
		Host:      cfg.SMTPHost,
		Port:      cfg.SMTPPort,
		Username:  cfg.SMTPUsername,
		Password:  cfg.SMTPPassword,
		From:      cfg.SMTPFrom,
		FromName:  cfg.SMTPFromName,
		PublicURL: cfg.PublicURL,
	})
	var (
		notifier grants.Notifier
		welcomer authpw.Welcomer
	)
	if cfg.EmailEnabled() {
		notifier, welcomer = mailer, mailer
		log.WithField("smtp_host", cfg.SMTPHost).Info("email delivery enabled")
	} else {
		log.Warn("email delivery disabled, invitation tokens are returned to the inviter")
	}

	var engine search.Engine
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meili.Close()
		engine = meili
	}
	searchService := search.NewService(engine, search.NewSQLSearch(db), log)
	hooks := []ledger.Hook{searchService}
	if engine != nil {
		go func() {
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := searchService.ReindexAll(rctx); err != nil {
				log.WithError(err).Warn("initial reindex failed")
			}
		}()
	}

	var mirror *gitrepo.Service
	if strings.TrimSpace(cfg.ReposDir) != "" {
		if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
			return fmt.Errorf("create repos dir: %w", err)
		}
		mirror = gitrepo.New(cfg.ReposDir, log)
		hooks = append(hooks, mirror)
	}

	var archiver ledger.Archiver
	if cfg.ArchiveEnabled() {
		minioArchiver, err := archive.NewMinioArchiver(ctx, archive.Config{
			Endpoint:  cfg.ArchiveEndpoint,
			AccessKey: cfg.ArchiveAccessKey,
			SecretKey: cfg.ArchiveSecretKey,
			Bucket:    cfg.ArchiveBucket,
			UseSSL:    cfg.ArchiveUseSSL,
		})
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		archiver = minioArchiver
	}

	notes := ledger.New(dataStore, authz, ledger.Options{Hooks: hooks, Archiver: archiver, Logger: log})
	members := membership.NewService(dataStore, authz, cfg.OwnershipPolicy, nil)
	grantService := grants.NewService(dataStore, authz, auth.NewInviteSigner(cfg.InviteSecret, nil), grants.Options{
		InviteTTL:         cfg.InviteTTL,
		ShareLinkTTL:      cfg.ShareLinkTTL,
		RequireEmailMatch: cfg.RequireInviteEmailMatch,
		OwnershipPolicy:   cfg.OwnershipPolicy,
		Notifier:          notifier,
		Logger:            log,
	})
	passwords := authpw.NewService(dataStore, welcomer)
	passwords.OnWelcomeError(func(err error) {
		log.WithError(err).Warn("welcome email failed")
	})

	sweep := sweeper.New(dataStore, nil, log)
	sweep.OnSweep(metrics.ObserveSweep)
	if cfg.SweepSchedule != "" {
		if err := sweep.Start(cfg.SweepSchedule); err != nil {
			return fmt.Errorf("sweeper: %w", err)
		}
		defer func() { <-sweep.Stop().Done() }()
	}

	service := app.NewService(app.Deps{
		DB:        dataStore,
		Notes:     notes,
		Members:   members,
		Grants:    grantService,
		Comments:  comments.NewService(dataStore, authz, grantService, nil),
		Search:    searchService,
		Mirror:    mirror,
		Passwords: passwords,
		Sessions:  sessions,
		SessionCfg: app.SessionConfig{
			Secret:     cfg.SessionSecret,
			AccessTTL:  cfg.AccessTTL,
			RefreshTTL: cfg.RefreshTTL,
		},
		OpTimeout:   cfg.OperationTimeout,
		EmailActive: cfg.EmailEnabled(),
		Logger:      log,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin, metrics, log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":             cfg.Addr,
			"dialect":          dialect,
			"ownership_policy": cfg.OwnershipPolicy,
		}).Info("notegate api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openSessions(cfg config.Config, log *logrus.Entry) (session.Store, error) {
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		log.Info("using redis for refresh sessions")
		return redisStore, nil
	}
	log.Warn("REDIS_URL not set, refresh sessions are kept in memory")
	return session.NewMemoryStore(cfg.SessionCacheSize, cfg.RefreshTTL), nil
}
