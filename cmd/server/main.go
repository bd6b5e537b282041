package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"parking-service/internal/config"
	"parking-service/internal/crossing"
	"parking-service/internal/db"
	"parking-service/internal/enforcement"
	httpapi "parking-service/internal/http"
	"parking-service/internal/notify"
	"parking-service/internal/pipeline"
	"parking-service/internal/repository"
	"parking-service/internal/service"
	"parking-service/internal/sink"
	"parking-service/internal/source"
	"parking-service/internal/tracker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Log)
	log.Info().
		Int("capacity", cfg.Parking.CapacityLimit).
		Float64("hourly_rate", cfg.Parking.HourlyRate).
		Str("scope", cfg.Parking.EnforcementScope).
		Int("cameras", len(cfg.Cameras)).
		Msg("starting parking service")

	csvSink, err := sink.NewCSVSink(cfg.Sinks.CSVPath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open csv event log")
	}
	defer csvSink.Close()
	events := sink.Multi{csvSink}

	var publisher service.CrossingPublisher
	if cfg.Sinks.Kafka.Enabled {
		kp, err := sink.NewKafkaPublisher(cfg.Sinks.Kafka, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create kafka publisher")
		}
		defer kp.Close()
		publisher = kp
	}

	var repo *repository.ParkingRepository
	if cfg.Database.Enabled {
		gdb, err := db.Open(cfg.Database.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open database")
		}
		repo = repository.NewParkingRepository(gdb)
	}

	var notifier enforcement.Notifier
	if cfg.Notify.SMTPHost != "" {
		notifier = notify.NewSMTPNotifier(cfg.Notify, log)
	} else {
		log.Warn().Msg("no smtp host configured, capacity alerts will only be logged")
	}

	newMonitor := func(key string) *enforcement.Monitor {
		return enforcement.NewMonitor(
			cfg.Parking.CapacityLimit,
			cfg.Notify.RetryCount,
			cfg.Notify.Timeout,
			notifier,
			events,
			log.With().Str("monitor", key).Logger(),
		)
	}

	svc := service.NewParkingService(cfg, newMonitor, service.Options{
		Events:    events,
		Publisher: publisher,
		Repo:      repo,
	}, log)

	pipelines := make([]*pipeline.Pipeline, 0, len(cfg.Cameras))
	for _, cam := range cfg.Cameras {
		camLog := log.With().Str("camera_id", cam.ID).Logger()
		pipelines = append(pipelines, pipeline.New(
			cam.ID,
			source.NewCSVSource(cam.ID, cam.Source, camLog),
			tracker.New(cfg.Tracking.MaxMatchDistance, cfg.Tracking.LostTrackTimeout, cfg.Tracking.HistoryLen, camLog),
			crossing.NewClassifier(cam.Line, camLog),
			svc,
			cfg.Detection.MinConfidence,
			log,
		))
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Authorization", "Content-Type"},
	}))
	handler := httpapi.NewHandler(svc, cfg, log)
	handler.Register(router, httpapi.JWTAuth(cfg.Auth.JWTSecret))

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return pipeline.RunAll(ctx, pipelines)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("service stopped with error")
	}

	svc.Wait()
	if err := events.Flush(); err != nil {
		log.Error().Err(err).Msg("failed to flush event log")
	}
	log.Info().Msg("parking service stopped")
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var w = os.Stderr
	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	if cfg.Pretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339})
	}
	return logger
}
