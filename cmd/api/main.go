package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"vestry.org/internal/config"
	"vestry.org/internal/httpapi"
	"vestry.org/internal/obs"
	"vestry.org/internal/store/pg"
	"vestry.org/internal/stream"
	"vestry.org/internal/token"
	"vestry.org/internal/vesting"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	obs.InitLogger(cfg.LogLevel)
	defer obs.Sync()
	obs.Init()
	obs.InitBuildInfo(version, commit)
	logger := obs.Logger()

	// Backing store: Postgres when a DSN is configured, otherwise the
	// in-memory engine (useful for local development and smoke runs).
	var (
		svc    vesting.Service
		tokens token.Ledger
		probe  httpapi.ReadyProbe
	)
	if cfg.PGDSN != "" {
		store, err := pg.Open(cfg.PGDSN)
		if err != nil {
			logger.Fatal("open store", zap.Error(err))
		}
		defer store.Close()
		svc = store
		tokens = store
		probe = httpapi.ReadyProbe{DB: store.DB()}
		logger.Info("using postgres store")
	} else {
		mem := token.NewInMemory()
		svc = vesting.NewInMemory(mem)
		tokens = mem
		logger.Info("using in-memory store")
	}

	claims := stream.New()
	api := httpapi.New(probe, version, svc, tokens, claims)
	api.SetRateLimit(cfg.RateBurst, cfg.RatePerSec)
	api.SetMaxBodyBytes(cfg.MaxBodyBytes)
	if cfg.DevTokens {
		api.EnableDevTokens(cfg.TokenTTL)
		logger.Warn("dev token endpoints enabled")
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting vestry-api",
		zap.String("version", version),
		zap.String("addr", srv.Addr))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	logger.Info("stopped")
}
