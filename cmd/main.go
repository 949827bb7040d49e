package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"oracle-service/internal/config"
	"oracle-service/internal/database/minio"
	"oracle-service/internal/database/postgres"
	"oracle-service/internal/database/redis"
	"oracle-service/internal/datasource"
	"oracle-service/internal/event"
	"oracle-service/internal/handlers"
	"oracle-service/internal/identity"
	"oracle-service/internal/lock"
	"oracle-service/internal/metrics"
	"oracle-service/internal/models"
	"oracle-service/internal/repository"
	"oracle-service/internal/services"
	"oracle-service/internal/transfer"
	"oracle-service/internal/worker"

	"github.com/gofiber/fiber/v3"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func setupLogging(logDir string) (*os.File, error) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("Recovered from panic: %v\n", r)
		}
	}()

	fmt.Println("Log directory:", logDir)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %v", err)
	}

	logFileName := fmt.Sprintf("log_%s.log", time.Now().Format("2006-01-02"))
	logFile := filepath.Join(logDir, logFileName)

	file, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %v", err)
	}

	out := io.MultiWriter(os.Stdout, file)
	log.SetOutput(out)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	slog.SetDefault(slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo})))

	return file, nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("no .env file found, using environment")
	}
	cfg := config.New()

	logFile, err := setupLogging(cfg.LogDir)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logFile.Close()

	if cfg.JWTCfg.Secret == "" {
		slog.Warn("JWT_SECRET is empty, admin endpoints will reject every token")
	}

	slog.Info("connecting to PostgreSQL",
		"host", cfg.PostgresCfg.Host, "port", cfg.PostgresCfg.Port,
		"user", cfg.PostgresCfg.Username, "dbname", cfg.PostgresCfg.DBname)
	db, err := postgres.ConnectAndCreateDB(cfg.PostgresCfg)
	if err != nil {
		slog.Error("error connect to database", "error", err)
		// block until the database is reachable
		postgres.RetryConnectOnFailed(30*time.Second, &db, cfg.PostgresCfg)
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var locker lock.Locker
	redisClient, err := redis.NewRedisClient(cfg.RedisCfg)
	if err != nil {
		slog.Warn("redis unavailable, falling back to in-process locks", "error", err)
		locker = lock.NewMemoryLocker()
	} else {
		defer redisClient.Close()
		locker = lock.NewRedisLocker(redisClient.GetClient())
	}

	var archiver *minio.MinioClient
	if mc, err := minio.NewMinioClient(cfg.MinioCfg); err != nil {
		slog.Warn("minio unavailable, evaluation snapshots will not be archived", "error", err)
	} else {
		archiver = mc
	}

	var publisher event.Publisher = event.NoopPublisher{}
	rabbit, err := event.ConnectRabbitMQ(cfg.RabbitMQCfg)
	if err != nil {
		slog.Warn("rabbitmq unavailable, claim notifications disabled", "error", err)
	} else {
		defer rabbit.Close()
		publisher = event.NewNotificationPublisher(rabbit)
	}

	verifier, err := identity.NewVerifier(cfg.IdentityCfg)
	if err != nil {
		log.Fatalf("Failed to set up identity verification: %v", err)
	}

	store := repository.NewStore(db)
	sources := buildRegistry(cfg.AdapterCfg, m)
	transferClient := transfer.NewClient(cfg.PayoutCfg.TransferURL, cfg.PayoutCfg.TransferAPIKey, cfg.PayoutCfg.TransferTimeout)

	// typed nil archivers must stay untyped nil for the services
	var (
		evalArchiver services.Archiver
		archiveRead  services.ArchiveReader
	)
	if archiver != nil {
		evalArchiver = archiver
		archiveRead = archiver
	}

	dispatcher := services.NewPayoutDispatcher(store, locker, transferClient, publisher, m, services.PayoutSettings{
		LockTTL:          cfg.PayoutCfg.LockTTL,
		MaxAttempts:      cfg.PayoutCfg.MaxAttempts,
		RetryBaseBackoff: cfg.PayoutCfg.RetryBaseBackoff,
	})
	orchestrator := services.NewEvaluationOrchestrator(store, sources, locker, evalArchiver, dispatcher, publisher, m, services.EvaluationSettings{
		ConfidenceFloor: cfg.EvalCfg.ConfidenceFloor,
		LockTTL:         cfg.EvalCfg.LockTTL,
		LockWait:        cfg.EvalCfg.LockWait,
	})
	claimService := services.NewClaimService(store, verifier, archiveRead, locker, dispatcher, publisher, cfg.EvalCfg.LockTTL, cfg.EvalCfg.LockWait)
	policyService := services.NewPolicyService(store, locker, cfg.EvalCfg.LockTTL)
	sweepService := services.NewSweepService(store, orchestrator, locker, publisher, m, services.SweepSettings{
		Window:     cfg.SweepCfg.Window,
		NumWorkers: cfg.SweepCfg.NumWorkers,
		LockTTL:    cfg.EvalCfg.LockTTL,
	})

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	scheduler := worker.NewScheduler(rootCtx, slog.Default(), 10*time.Minute)
	if err := scheduler.AddJob("policy-sweep", cfg.SweepCfg.Schedule, func(ctx context.Context) error {
		_, err := sweepService.SweepExpiringPolicies(ctx)
		return err
	}); err != nil {
		log.Fatalf("Failed to schedule sweep: %v", err)
	}
	if err := scheduler.AddJob("payout-retry", cfg.PayoutCfg.RetrySchedule, func(ctx context.Context) error {
		_, err := dispatcher.RetryFailedPayouts(ctx)
		return err
	}); err != nil {
		log.Fatalf("Failed to schedule payout retry: %v", err)
	}
	scheduler.Start()

	middleware := handlers.NewMiddleware(cfg.JWTCfg.Secret, cfg.JWTCfg.AdminRole)
	deps := map[string]handlers.Pinger{
		"postgres": handlers.PingFunc(db.PingContext),
		"redis":    nil,
		"minio":    nil,
		"rabbitmq": nil,
	}
	if redisClient != nil {
		deps["redis"] = redisClient
	}
	if archiver != nil {
		deps["minio"] = archiver
	}
	if rabbit != nil {
		deps["rabbitmq"] = rabbit
	}

	app := fiber.New()
	handlers.NewHealthHandler(deps, sources.Sources, registry).Register(app)
	handlers.NewOracleHandler(orchestrator, sweepService, middleware).Register(app)
	handlers.NewClaimHandler(claimService, middleware).Register(app)
	handlers.NewPolicyHandler(policyService, middleware).Register(app)
	handlers.NewPayoutHandler(dispatcher, middleware).Register(app)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		slog.Info("shutting down oracle service")

		// stop new sweep runs and let the running one finish before closing connections
		stop()
		<-scheduler.Stop().Done()
		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("oracle service starting", "port", cfg.Port, "adapter_mode", cfg.AdapterCfg.Mode, "identity_mode", cfg.IdentityCfg.Mode)
	if err := app.Listen(fmt.Sprintf("0.0.0.0:%s", cfg.Port)); err != nil {
		slog.Error("server stopped", "error", err)
	}
}

func buildRegistry(cfg config.AdapterConfig, m *metrics.Metrics) *datasource.Registry {
	if cfg.Mode == "fixture" {
		slog.Info("data sources running from fixtures")
		return datasource.NewRegistry(fixtureAdapters()...)
	}

	registry := datasource.NewRegistry()

	resilience := datasource.ResilienceConfig{
		Timeout:            cfg.Timeout,
		MaxRetries:         cfg.MaxRetries,
		BaseBackoff:        cfg.BaseBackoff,
		RequestsPerSecond:  cfg.RequestsPerSecond,
		Burst:              cfg.Burst,
		BreakerFailures:    uint32(max(cfg.BreakerFailures, 0)),
		BreakerOpenTimeout: cfg.BreakerOpenFor,
	}
	wrap := func(a datasource.Adapter) {
		registry.Register(datasource.NewResilient(a, resilience, m))
	}

	for i, url := range cfg.WeatherURLs {
		wrap(datasource.NewWeatherAdapter(fmt.Sprintf("weather-%d", i+1), url, cfg.WeatherAPIKey, 0.9))
	}
	if cfg.FlightURL != "" {
		wrap(datasource.NewFlightAdapter("flight", cfg.FlightURL, cfg.FlightAPIKey, 0.95))
	}
	if cfg.BaggageURL != "" {
		wrap(datasource.NewBaggageAdapter("baggage", cfg.BaggageURL, cfg.BaggageAPIKey, 0.9))
	}
	if cfg.VenueURL != "" {
		wrap(datasource.NewVenueAdapter("venue", cfg.VenueURL, cfg.VenueAPIKey, 0.85))
	}
	return registry
}

// fixtureAdapters report calm weather and on-time travel so local runs
// reject by default.
func fixtureAdapters() []datasource.Adapter {
	return []datasource.Adapter{
		datasource.NewFixtureAdapter("weather-fixture-1", models.ConditionWeather, models.Reading{
			Confidence: 0.9,
			Values:     map[string]float64{models.ValuePrecipitation: 0, models.ValueWindSpeed: 5, models.ValueTemperature: 22},
		}),
		datasource.NewFixtureAdapter("weather-fixture-2", models.ConditionWeather, models.Reading{
			Confidence: 0.9,
			Values:     map[string]float64{models.ValuePrecipitation: 0, models.ValueWindSpeed: 6, models.ValueTemperature: 21},
		}),
		datasource.NewFixtureAdapter("flight-fixture", models.ConditionFlight, models.Reading{
			Confidence: 0.95,
			Status:     models.FlightOnTime,
			Values:     map[string]float64{models.ValueDelayMinutes: 0},
		}),
		datasource.NewFixtureAdapter("baggage-fixture", models.ConditionBaggage, models.Reading{
			Confidence: 0.9,
			Status:     models.BaggageDelivered,
		}),
		datasource.NewFixtureAdapter("venue-fixture", models.ConditionVenue, models.Reading{
			Confidence: 0.85,
			Status:     models.VenueOpen,
		}),
	}
}
