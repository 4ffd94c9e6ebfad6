// Package main provides the topica service entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	gormlogger "gorm.io/gorm/logger"

	"github.com/thebtf/topica/internal/assign"
	"github.com/thebtf/topica/internal/cluster"
	"github.com/thebtf/topica/internal/collab"
	"github.com/thebtf/topica/internal/config"
	"github.com/thebtf/topica/internal/coordinator"
	"github.com/thebtf/topica/internal/db"
	"github.com/thebtf/topica/internal/enrich"
	"github.com/thebtf/topica/internal/metrics"
	"github.com/thebtf/topica/internal/sched"
	"github.com/thebtf/topica/internal/server"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	mode := flag.String("mode", "serve", "Run mode: serve, cluster, assign, enrich")
	configPath := flag.String("config", "topica.yaml", "Path to configuration file")
	dateFlag := flag.String("date", "", "News date (YYYY-MM-DD, default today) for cluster/assign/enrich modes")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	if !*debug {
		if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
			zerolog.SetGlobalLevel(level)
		}
	}

	date := time.Now().UTC()
	if *dateFlag != "" {
		if date, err = time.Parse("2006-01-02", *dateFlag); err != nil {
			log.Fatal().Str("date", *dateFlag).Msg("Invalid --date, want YYYY-MM-DD")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Shutting down")
		cancel()
	}()

	dyn := config.NewDynamic(cfg)

	m, err := metrics.New()
	if err != nil {
		log.Warn().Err(err).Msg("Metrics unavailable")
	}

	gormLevel := gormlogger.Silent
	if *debug {
		gormLevel = gormlogger.Info
	}
	store, err := db.NewStore(db.Config{DSN: cfg.DatabaseDSN, LogLevel: gormLevel})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer store.Close()

	topicStore := db.NewTopicStore(store)
	articleStore := db.NewArticleStore(store)

	client, err := collab.NewClient(cfg.Collaborator)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize collaborator client")
	}

	clusterer := cluster.New(topicStore, client, cfg.Clustering, dyn, m)
	assigner := assign.New(topicStore, cfg.Assignment, dyn, m)

	trigger := sched.NewDelayedTrigger(func(ctx context.Context, date time.Time) error {
		_, err := clusterer.Run(ctx, date, cluster.Overrides{})
		if errors.Is(err, cluster.ErrInsufficientData) {
			log.Warn().Str("news_date", date.Format("2006-01-02")).
				Msg("Too few embedded articles, skipping clustering")
			return nil
		}
		return err
	})
	defer trigger.Stop()

	var counters coordinator.CounterStore
	if cfg.RedisAddr != "" {
		redisCounters := coordinator.NewRedisCounterStore(cfg.RedisAddr)
		if err := redisCounters.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("Redis unreachable, using in-memory batch counters")
			counters = coordinator.NewMemoryCounterStore()
		} else {
			defer redisCounters.Close()
			counters = redisCounters
		}
	} else {
		counters = coordinator.NewMemoryCounterStore()
	}
	coord := coordinator.New(counters, trigger, cfg.Enrichment.TriggerDelay, m)
	dispatcher := enrich.New(articleStore, client, coord, cfg.Enrichment)

	lookback := time.Duration(cfg.Assignment.LookbackMinutes) * time.Minute

	switch *mode {
	case "cluster":
		result, err := clusterer.Run(ctx, date, cluster.Overrides{})
		if err != nil {
			log.Fatal().Err(err).Msg("Clustering failed")
		}
		log.Info().Int("topics", result.TopicsCreated).Float64("silhouette", result.Silhouette).
			Msg("Clustering complete")

	case "assign":
		report, err := assigner.Run(ctx, date, lookback, 0)
		if err != nil {
			log.Fatal().Err(err).Msg("Assignment failed")
		}
		log.Info().Int("assigned", report.Assigned).Int("pending", report.Pending).
			Msg("Assignment complete")

	case "enrich":
		report, err := dispatcher.Run(ctx, date)
		if err != nil {
			log.Fatal().Err(err).Msg("Enrichment dispatch failed")
		}
		log.Info().Int("enriched", report.Enriched).Int("batches", report.Batches).
			Msg("Enrichment dispatch complete")

	case "serve":
		serve(ctx, cfg, dyn, *configPath, clusterer, assigner, dispatcher, topicStore, store, client, lookback)

	default:
		log.Fatal().Str("mode", *mode).Msg("Unknown mode")
	}
}

func serve(ctx context.Context, cfg *config.Config, dyn *config.Dynamic, configPath string,
	clusterer *cluster.Clusterer, assigner *assign.Assigner, dispatcher *enrich.Dispatcher,
	topicStore *db.TopicStore, store *db.Store, client *collab.Client, lookback time.Duration) {

	go func() {
		if err := config.Watch(ctx, configPath, dyn); err != nil {
			log.Warn().Err(err).Msg("Config watcher unavailable")
		}
	}()

	// Warm the collaborator's models in the background so the first
	// clustering run does not pay the cold-start cost.
	go func() {
		if err := client.Warmup(ctx); err != nil {
			log.Warn().Err(err).Msg("Collaborator warmup failed")
		}
	}()

	go sched.AssignLoop(ctx, cfg.Assignment.Interval, func(ctx context.Context, date time.Time) error {
		_, err := assigner.Run(ctx, date, lookback, 0)
		return err
	})

	svc := server.New(clusterer, assigner, dispatcher, topicStore, store, lookback)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP shutdown failed")
		}
	}()

	svc.SetReady(true)
	log.Info().Str("addr", cfg.ListenAddr).Str("version", Version).Msg("Starting topica")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("HTTP server failed")
	}
}
