package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/campus-dispatch/internal/campus"
	"github.com/example/campus-dispatch/internal/config"
	"github.com/example/campus-dispatch/internal/dispatch"
	"github.com/example/campus-dispatch/internal/fare"
	httpapi "github.com/example/campus-dispatch/internal/http"
	"github.com/example/campus-dispatch/internal/ingest"
	"github.com/example/campus-dispatch/internal/logging"
	"github.com/example/campus-dispatch/internal/notify"
	"github.com/example/campus-dispatch/internal/rating"
	"github.com/example/campus-dispatch/internal/routing"
	"github.com/example/campus-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel, "campus-dispatch")

	graph := campus.DefaultCampus()
	planner := routing.NewPlanner(graph)
	planner.WarnMinutes = cfg.WarnMinutes
	planner.WarnStraightMeters = cfg.WarnStraightMeters

	fares := fare.NewCalculator(planner, fare.Config{
		Base:        cfg.BaseFare,
		PerMinute:   cfg.PerMinuteRate,
		GroupFactor: cfg.GroupFactor,
		CartFactor:  cfg.CartFactor,
		Fallback:    cfg.FallbackFare,
	})

	drivers := storage.NewMemoryDrivers()
	riders := storage.NewMemoryRiders()
	requests := storage.NewMemoryRequests()
	trips := storage.NewMemoryTrips()
	ratings := storage.NewMemoryRatings()
	aggregator := rating.NewAggregator(ratings, drivers, riders)

	var archive storage.TripArchive
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			runMigrations(cfg.PGDSN, logger)
		}
		pg, err := storage.NewPostgresArchive(cfg.PGDSN)
		if err != nil {
			logger.Warn("postgres archive unavailable", "error", err)
		} else {
			archive = pg
			defer pg.Close()
		}
	}

	hub := notify.NewHub(logger)
	notifiers := []dispatch.Notifier{hub}

	var producer *ingest.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewProducer(cfg.KafkaBrokers, cfg.TripEventsTopic)
		defer producer.Close()
		notifiers = append(notifiers, &ingest.EventPublisher{Producer: producer})
	}

	var driverFanout *ingest.Producer
	if len(cfg.KafkaBrokers) > 0 {
		driverFanout = ingest.NewProducer(cfg.KafkaBrokers, cfg.DriverTopic)
		defer driverFanout.Close()
	}

	engine := dispatch.NewEngine(dispatch.Options{
		Planner:    planner,
		Fares:      fares,
		Drivers:    drivers,
		Riders:     riders,
		Requests:   requests,
		Trips:      trips,
		Aggregator: aggregator,
		Archive:    archive,
		Notifiers:  notifiers,
		Logger:     logger,
		DupWindow:  cfg.DuplicateWindow,
	})

	api := httpapi.NewServer(engine, graph, hub, driverFanout, logger)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("campus-dispatch listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("campus-dispatch stopped")
}

func runMigrations(dsn string, logger interface{ Warn(string, ...any) }) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Warn("migration db open error", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_trips.sql"))
	if err != nil {
		logger.Warn("migration read error", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Warn("migration exec error", "error", err)
	}
}
