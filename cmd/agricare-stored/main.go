package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/celerix-dev/agricare/internal/activity"
	"github.com/celerix-dev/agricare/internal/api"
	"github.com/celerix-dev/agricare/internal/config"
	"github.com/celerix-dev/agricare/internal/engine"
	"github.com/celerix-dev/agricare/internal/farm"
	"github.com/celerix-dev/agricare/internal/identity"
	"github.com/celerix-dev/agricare/internal/logger"
	"github.com/celerix-dev/agricare/internal/metrics"
	"github.com/celerix-dev/agricare/internal/records"
	"github.com/celerix-dev/agricare/internal/server"
	"github.com/celerix-dev/agricare/internal/storage"
	"github.com/celerix-dev/agricare/internal/vault"
	"github.com/celerix-dev/agricare/pkg/sdk"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "agricare-stored:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Development())
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infow("starting store daemon", "backend", cfg.Backend, "env", cfg.Env)

	db, err := storage.OpenLocal(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Errorw("close store", "error", err)
		}
		log.Infow("persistence complete")
	}()

	if cfg.ImportDir != "" {
		if err := importDir(ctx, cfg.ImportDir, db, log); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	auditLog := activity.New(db, activity.WithLogger(log))
	storeOpts := []records.Option{
		records.WithHook(activity.Hook(auditLog)),
		records.WithLogger(log),
		records.WithMetrics(m),
	}

	provider, err := identity.NewProvider(db, []byte(cfg.JWTSecret), cfg.TokenTTL,
		identity.WithActivityLog(auditLog),
		identity.WithRevocationList(storage.Revocations(db)),
		identity.WithVaultKey(cfg.VaultKey),
		identity.WithAdminEmails(cfg.AdminEmails...),
		identity.WithLogger(log),
		identity.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("identity provider: %w", err)
	}

	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}
	h := &api.Handler{
		Store:     db,
		Identity:  provider,
		Crops:     records.CropEntries(db, storeOpts...),
		Diseases:  records.DiseaseDetections(db, storeOpts...),
		TestItems: records.TestItems(db, storeOpts...),
		Activity:  auditLog,
		Detector:  farm.NewDetector(),
		Validator: records.NewValidator(),
		Logger:    log,
		Metrics:   m,
		Gatherer:  reg,
	}
	httpSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           h.Router(cfg.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	router := server.NewRouter(db, server.WithLogger(log), server.WithMetrics(m))
	if cfg.DisableTLS {
		log.Warnw("TLS encryption disabled", "env", "AGRICARE_DISABLE_TLS")
	} else {
		cert, err := vault.GenerateSelfSignedCert()
		if err != nil {
			return fmt.Errorf("generate TLS certificate: %w", err)
		}
		router.SetCertificate(cert)
	}

	errCh := make(chan error, 2)
	go func() {
		log.Infow("HTTP API listening", "port", cfg.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		log.Infow("store engine listening", "port", cfg.Port, "tls", !cfg.DisableTLS)
		if err := router.Listen(cfg.Port); err != nil {
			errCh <- fmt.Errorf("tcp server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Infow("shutdown signal received, finalizing disk writes")
	case err = <-errCh:
		log.Errorw("server failed", "error", err)
	}

	if stopErr := router.Stop(); stopErr != nil {
		log.Warnw("stop tcp server", "error", stopErr)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := httpSrv.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Warnw("stop http server", "error", shutdownErr)
	}
	return err
}

// importDir copies the JSON collection files in dir into db.
func importDir(ctx context.Context, dir string, db sdk.DocumentStore, log *zap.SugaredLogger) error {
	src, err := engine.OpenDir(dir, engine.WithLogger(log))
	if err != nil {
		return fmt.Errorf("open import dir %s: %w", dir, err)
	}
	defer src.Close()

	n, err := engine.Migrate(ctx, src, db)
	if err != nil {
		return fmt.Errorf("import %s: %w", dir, err)
	}
	log.Infow("imported documents", "dir", dir, "count", n)
	return nil
}
