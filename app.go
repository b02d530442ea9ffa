package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tonimelisma/linedrive-go/internal/archive"
	"github.com/tonimelisma/linedrive-go/internal/auth"
	"github.com/tonimelisma/linedrive-go/internal/config"
	"github.com/tonimelisma/linedrive-go/internal/fanout"
	"github.com/tonimelisma/linedrive-go/internal/graph"
	"github.com/tonimelisma/linedrive-go/internal/line"
	"github.com/tonimelisma/linedrive-go/internal/server"
	"github.com/tonimelisma/linedrive-go/internal/store"
)

// dataDirPermissions keeps the SQLite file (which holds refresh tokens)
// private to the owner.
const dataDirPermissions = 0o700

// redisPingTimeout bounds the startup check of the consent state backend.
const redisPingTimeout = 5 * time.Second

// app is the assembled bot: every component built from one Config.
type app struct {
	store      store.Backend
	redis      *redis.Client // nil unless state.backend = redis
	orch       *fanout.Orchestrator
	dispatcher *server.Dispatcher
	server     *server.Server
	logger     *slog.Logger
}

// newApp wires the components described by cfg. httpClient is used for
// every outbound call (LINE, Graph, the identity platform).
func newApp(ctx context.Context, cfg *config.Config, httpClient *http.Client, logger *slog.Logger) (*app, error) {
	backend, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{store: backend, logger: logger}

	states, err := a.openStateStore(ctx, &cfg.State)
	if err != nil {
		a.Close()
		return nil, err
	}

	provider := auth.NewOAuthProvider(auth.ProviderConfig{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		Tenant:       cfg.OAuth.Tenant,
		RedirectURL:  redirectURL(cfg.Server.PublicURL),
		Scopes:       cfg.OAuth.Scopes,
	}, httpClient, logger)

	timings := cfg.Fanout.Timings()
	refresher := auth.NewRefresher(backend, provider, timings.RefreshMargin, logger)
	consent := auth.NewConsent(provider, states, backend, cfg.OAuth.StateTTLDuration(), logger)

	lineClient, err := line.NewClient(line.ClientConfig{
		ChannelToken:   cfg.Line.ChannelToken,
		MaxContentSize: cfg.Line.MaxContentBytes(),
		HTTPClient:     httpClient,
	}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	arch, err := archive.New(ctx, archiveConfig(&cfg.Archive), logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	notifier := fanout.NewNotifier(lineClient, timings.NotifyTimeout, logger)
	resolver := fanout.NewResolver(backend, logger)

	a.orch = fanout.NewOrchestrator(&fanout.OrchestratorConfig{
		Resolver: resolver,
		Tokens:   refresher,
		Consent:  consent,
		Uploader: newDriveUploader(graph.NewClient(cfg.Drive.APIBaseURL, httpClient, nil, logger), cfg.Drive.Folder),
		Notifier: notifier,
		Options:  fanoutOptions(timings),
		Logger:   logger,
	})

	a.dispatcher = server.NewDispatcher(&server.DispatcherConfig{
		Content:        lineClient,
		Fanout:         a.orch,
		Observer:       resolver,
		Consent:        consent,
		Credentials:    backend,
		Tokens:         refresher,
		Notifier:       notifier,
		Archive:        arch,
		MaxContentSize: cfg.Line.MaxContentBytes(),
		FanoutDeadline: timings.FanoutDeadline,
		Logger:         logger,
	})

	a.server = server.New(server.Config{
		Listen:        cfg.Server.Listen,
		ChannelSecret: cfg.Line.ChannelSecret,
	}, a.dispatcher, consent, backend, logger)

	return a, nil
}

// applyConfig swaps in the tunables that can change without a restart.
func (a *app) applyConfig(cfg *config.Config) {
	t := cfg.Fanout.Timings()
	a.orch.SetOptions(fanoutOptions(t))
	a.dispatcher.SetFanoutDeadline(t.FanoutDeadline)

	a.logger.Info("fanout settings updated",
		slog.Int("workers", t.Workers),
		slog.Duration("upload_timeout", t.UploadTimeout),
		slog.Duration("fanout_deadline", t.FanoutDeadline),
	)
}

// Close releases the store and the Redis connection.
func (a *app) Close() error {
	var errs []error

	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}

	errs = append(errs, a.store.Close())

	return errors.Join(errs...)
}

func (a *app) openStateStore(ctx context.Context, sc *config.StateConfig) (auth.StateStore, error) {
	if sc.Backend != config.BackendRedis {
		return auth.NewMemoryStateStore(), nil
	}

	a.redis = redis.NewClient(&redis.Options{
		Addr:     sc.RedisAddr,
		Password: sc.RedisPassword,
		DB:       sc.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()

	if err := a.redis.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", sc.RedisAddr, err)
	}

	a.logger.Info("consent state stored in redis", slog.String("addr", sc.RedisAddr))

	return auth.NewRedisStateStore(a.redis), nil
}

// openStore opens the configured credential and membership backend.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Backend, error) {
	sc := cfg.Storage

	var driver string

	switch sc.Backend {
	case config.BackendMemory:
		logger.Warn("using in-memory store, credentials are lost on restart")
		return store.NewMemory(), nil

	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(sc.DSN), dataDirPermissions); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}

		driver = store.DriverSQLite

	case config.BackendPostgres:
		driver = store.DriverPostgres

	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}

	db, err := store.OpenSQL(ctx, store.SQLConfig{
		Driver:    driver,
		DSN:       sc.DSN,
		OpTimeout: sc.StoreTimeoutDuration(),
	}, logger)
	if err != nil {
		return nil, err
	}

	return db, nil
}

func redirectURL(publicURL string) string {
	if publicURL == "" {
		return ""
	}

	return strings.TrimRight(publicURL, "/") + server.ConsentCallbackPath
}

func fanoutOptions(t config.FanoutTimings) fanout.Options {
	return fanout.Options{
		Workers:        t.Workers,
		RefreshTimeout: t.RefreshTimeout,
		UploadTimeout:  t.UploadTimeout,
		NotifyTimeout:  t.NotifyTimeout,
	}
}

func archiveConfig(ac *config.ArchiveConfig) *archive.Config {
	return &archive.Config{
		Backend:   ac.Backend,
		Dir:       ac.Dir,
		Endpoint:  ac.Endpoint,
		AccessKey: ac.AccessKey,
		SecretKey: ac.SecretKey,
		Bucket:    ac.Bucket,
		Region:    ac.Region,
	}
}
