package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/davidahmann/curator/internal/config"
)

func main() {
	if err := runFn(os.Args[1:], os.Getenv, listenAndServe, newServer); err != nil {
		fatalf("server error: %v", err)
	}
}

var runFn = run
var fatalf = log.Fatalf

type envFn func(string) string
type listenFn func(*http.Server) error

// serverFactory builds the server and returns a cleanup func that stops
// background workers and closes the store.
type serverFactory func(cfg config.Config, logger *slog.Logger) (*http.Server, func(), error)

func run(args []string, getenv envFn, listen listenFn, factory serverFactory) error {
	fs := flag.NewFlagSet("curator-gateway", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to curator config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfgFile := *configPath
	if cfgFile == "" {
		cfgFile = getenv("CURATOR_CONFIG_PATH")
	}

	var cfg config.Config
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	cfg.ListenAddr = firstNonEmpty(getenv("CURATOR_LISTEN_ADDR"), cfg.ListenAddr, ":8080")
	cfg.DB.Driver = firstNonEmpty(getenv("CURATOR_DB_DRIVER"), cfg.DB.Driver)
	cfg.DB.DSN = firstNonEmpty(getenv("CURATOR_DB_DSN"), cfg.DB.DSN)
	cfg.CatalogPath = firstNonEmpty(getenv("CURATOR_CATALOG_PATH"), cfg.CatalogPath)
	cfg.SigningKey.PrivateKeyPath = firstNonEmpty(getenv("CURATOR_SIGNING_KEY_PATH"), cfg.SigningKey.PrivateKeyPath)
	cfg.Auth.DevToken = firstNonEmpty(getenv("CURATOR_DEV_TOKEN"), cfg.Auth.DevToken)
	cfg.Auth.JWTSecret = firstNonEmpty(getenv("CURATOR_JWT_SECRET"), cfg.Auth.JWTSecret)
	cfg.Moderation.LockBackend = firstNonEmpty(getenv("CURATOR_LOCK_BACKEND"), cfg.Moderation.LockBackend)
	cfg.Moderation.RedisAddr = firstNonEmpty(getenv("CURATOR_REDIS_ADDR"), cfg.Moderation.RedisAddr)
	cfg.Events.NATSURL = firstNonEmpty(getenv("CURATOR_NATS_URL"), cfg.Events.NATSURL)
	if enabled, err := strconv.ParseBool(getenv("CURATOR_EVENTS_ENABLED")); err == nil {
		cfg.Events.Enabled = enabled
	}
	cfg.Log.Level = firstNonEmpty(getenv("CURATOR_LOG_LEVEL"), cfg.Log.Level)
	cfg.Log.Format = firstNonEmpty(getenv("CURATOR_LOG_FORMAT"), cfg.Log.Format)

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	server, cleanup, err := factory(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Info("curator-gateway listening", "addr", cfg.ListenAddr, "db", cfg.DB.Driver, "lock_backend", cfg.Moderation.LockBackend, "events", cfg.Events.Enabled)
	if err := listen(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("curator-gateway stopped")
	return nil
}

// listenAndServe serves until SIGINT or SIGTERM, then drains in-flight
// requests.
func listenAndServe(server *http.Server) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
