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
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"go-posts/config"
	"go-posts/internal/handler"
	"go-posts/internal/metrics"
	"go-posts/internal/scheduler"
	"go-posts/internal/service"
	"go-posts/internal/store"
)

const shutdownTimeout = 30 * time.Second

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:        "serve",
		Usage:       "Serve the HTTP API and run scheduled ingestion",
		Description: `Starts the HTTP server and the ingestion scheduler. Stops gracefully on SIGINT or SIGTERM.`,
		Action:      serve,
	}
}

func ingestCmd() *cli.Command {
	return &cli.Command{
		Name:        "ingest",
		Usage:       "Run a single ingestion cycle and exit",
		Description: `Fetches the feed once and stores new posts. Exits non-zero when the cycle fails.`,
		Action:      ingestOnce,
	}
}

type services struct {
	store   *store.Store
	metrics *metrics.Metrics
	ingest  *service.IngestService
	posts   *service.PostService
	status  *service.StatusService
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	setupLogging(cfg)
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Server.Mode == gin.ReleaseMode {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

func buildServices(cfg *config.Config) (*services, error) {
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	normalizer := service.NewNormalizer()
	ingest := service.NewIngestService(service.NewFeedService(cfg.Feed), normalizer, st, st, m)

	return &services{
		store:   st,
		metrics: m,
		ingest:  ingest,
		posts:   service.NewPostService(st, normalizer),
		status:  service.NewStatusService(st, ingest),
	}, nil
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(cfg)
	if err != nil {
		return err
	}
	defer svc.store.Close()

	sched := scheduler.NewScheduler(ctx, svc.ingest, cfg.Cron)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery(), handler.RequestLogger(svc.metrics))

	h := handler.NewHandler(svc.posts, svc.ingest, svc.status, svc.metrics, cfg.Server.APIToken)
	h.SetScheduler(sched)
	h.RegisterRoutes(r)

	if cfg.Server.APIToken == "" {
		log.Warn("API_TOKEN is not set, /posts and /ingest are unauthenticated")
	}

	srv := &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Gracefully shutting down...")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func ingestOnce(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	svc, err := buildServices(cfg)
	if err != nil {
		return err
	}
	defer svc.store.Close()

	ctx, cancel := context.WithTimeout(c.Context, cfg.Cron.CycleTimeout)
	defer cancel()

	report, err := svc.ingest.RunCycle(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("fetched %d, inserted %d, skipped %d\n", report.Fetched, report.Inserted, report.Skipped)
	return nil
}
