package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"msgarchive/internal/api"
	"msgarchive/internal/auth"
	"msgarchive/internal/events"
	"msgarchive/internal/keepalive"
	"msgarchive/internal/logging"
	"msgarchive/internal/metrics"
	"msgarchive/internal/redis"
	"msgarchive/internal/service/archive"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long:  "Serves the archive API and the static dashboard. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	db, driver, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("database ready", "driver", driver)

	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	broker := events.NewBroker(rdb)
	defer broker.Close()

	service, err := archive.NewService(db, driver, archive.Options{
		Cache:    rdb,
		CacheTTL: time.Duration(cfg.BasicConfig.ThreadCacheTTL) * time.Second,
		Events:   broker,
	})
	if err != nil {
		return err
	}

	if cfg.Auth.PIN == "" && (cfg.Auth.Email == "" || cfg.Auth.Password == "") {
		logger.Warn("no operator credential configured; every login will fail with a configuration error")
	}
	verifier := auth.NewStaticVerifier(cfg.Auth)
	collectors := metrics.New()

	if logging.ParseLevel(cfg.BasicConfig.LogLevel) != slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		logging.RequestLogger(logger),
		collectors.Middleware(),
		api.CORS(cfg.BasicConfig.AllowedOrigins),
	)
	handlers := api.NewHandler(service, verifier, api.Options{
		Events:    broker,
		Metrics:   collectors,
		StaticDir: cfg.BasicConfig.StaticDir,
	})
	handlers.RegisterRoutes(router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	keepalive.New(
		cfg.BasicConfig.KeepAliveURL,
		time.Duration(cfg.BasicConfig.KeepAliveInterval)*time.Minute,
		nil,
	).Start(ctx)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":4000"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// open event streams never go idle; closing the broker ends them so
	// Shutdown can drain the remaining requests
	srv.RegisterOnShutdown(broker.Close)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
