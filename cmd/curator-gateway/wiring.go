package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/davidahmann/curator/internal/api"
	"github.com/davidahmann/curator/internal/auth"
	"github.com/davidahmann/curator/internal/catalog"
	"github.com/davidahmann/curator/internal/config"
	"github.com/davidahmann/curator/internal/crypto"
	"github.com/davidahmann/curator/internal/ledger"
	"github.com/davidahmann/curator/internal/ledger/pgstore"
	"github.com/davidahmann/curator/internal/ledger/sqlstore"
	"github.com/davidahmann/curator/internal/moderation"
	"github.com/davidahmann/curator/internal/outbox"
	"github.com/davidahmann/curator/internal/receipts"
	"github.com/davidahmann/curator/internal/wallet"
)

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

type closer func()

// openStore returns the configured store, migrated when SQL backed.
func openStore(cfg config.DBConfig, logger *slog.Logger) (ledger.Store, closer, error) {
	switch cfg.Driver {
	case "", "memory":
		return ledger.NewInMemoryStore(), func() {}, nil
	case "sqlite":
		s, err := sqlstore.OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		applied, err := ledger.Migrate(s.DB(), ledger.DBSQLite)
		if err != nil {
			_ = s.Close()
			return nil, nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		logger.Info("store ready", "driver", "sqlite", "migrations_applied", len(applied))
		return s, func() { _ = s.Close() }, nil
	case "postgres":
		s, err := pgstore.OpenPostgres(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		applied, err := ledger.Migrate(s.DB(), ledger.DBPostgres)
		if err != nil {
			_ = s.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		logger.Info("store ready", "driver", "postgres", "migrations_applied", len(applied))
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported db.driver: %s", cfg.Driver)
	}
}

func newLocker(cfg config.ModerationConfig, logger *slog.Logger) (moderation.Locker, closer, error) {
	if cfg.LockBackend != "redis" {
		return moderation.NewKeyedMutex(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return moderation.NewRedisLocker(client, cfg.LockTTL, logger), func() { _ = client.Close() }, nil
}

func loadSigner(cfg config.SigningKeyConfig, store ledger.Store) (crypto.Signer, error) {
	if cfg.PrivateKeyPath == "" {
		return nil, nil
	}
	kp, err := crypto.LoadKeyPair(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}
	if err := receipts.RegisterKey(store, kp, time.Now()); err != nil {
		return nil, fmt.Errorf("register signing key: %w", err)
	}
	return kp, nil
}

func newServer(cfg config.Config, logger *slog.Logger) (*http.Server, func(), error) {
	var cleanups []closer
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*http.Server, func(), error) {
		cleanup()
		return nil, nil, err
	}

	store, closeStore, err := openStore(cfg.DB, logger)
	if err != nil {
		return fail(err)
	}
	cleanups = append(cleanups, closeStore)

	locker, closeLocker, err := newLocker(cfg.Moderation, logger)
	if err != nil {
		return fail(err)
	}
	cleanups = append(cleanups, closeLocker)

	signer, err := loadSigner(cfg.SigningKey, store)
	if err != nil {
		return fail(err)
	}

	var cat *catalog.Catalog
	if cfg.CatalogPath != "" {
		cat, err = catalog.Load(cfg.CatalogPath)
		if err != nil {
			return fail(err)
		}
		logger.Info("catalog loaded", "species", cat.Len(), "hash", cat.Hash)
	}

	subject := ""
	if cfg.Events.Enabled {
		subject = cfg.Events.Subject
		pub, err := outbox.NewNATSPublisher(outbox.NATSConfig{URL: cfg.Events.NATSURL, Name: "curator-gateway", MaxReconnects: -1})
		if err != nil {
			return fail(err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			outbox.RunWorker(ctx, store, pub, cfg.Events.PollInterval, logger)
		}()
		cleanups = append(cleanups, func() {
			cancel()
			<-done
			pub.Close()
		})
	}

	proc, err := moderation.NewProcessor(moderation.Config{
		Store:        store,
		Signer:       signer,
		Locker:       locker,
		EventSubject: subject,
		Parallelism:  cfg.Moderation.BatchParallelism,
		Logger:       logger,
	})
	if err != nil {
		return fail(err)
	}

	var catalogRef moderation.Catalog
	if cat != nil {
		catalogRef = cat
	}
	h := &api.Handler{
		Auth: &auth.MultiAuthenticator{
			DevToken:  cfg.Auth.DevToken,
			JWTSecret: []byte(cfg.Auth.JWTSecret),
			Issuer:    cfg.Auth.Issuer,
		},
		Store:     store,
		Processor: proc,
		Submitter: moderation.NewSubmitter(store, catalogRef, logger),
		Wallets:   wallet.New(store),
		Catalog:   cat,
		Logger:    logger,
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(h),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server, cleanup, nil
}
