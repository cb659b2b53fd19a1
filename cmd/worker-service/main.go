package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/sheetworks/internal/config"
	"github.com/cuongbtq/sheetworks/internal/domain"
	"github.com/cuongbtq/sheetworks/internal/worker"
	"github.com/cuongbtq/sheetworks/internal/worker/render"
	"github.com/cuongbtq/sheetworks/internal/worker/storage"
	"github.com/cuongbtq/sheetworks/shared/blobstore"
	"github.com/cuongbtq/sheetworks/shared/logger"
	"github.com/cuongbtq/sheetworks/shared/postgresql"
	"github.com/cuongbtq/sheetworks/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := initPostgreSQL(&cfg.Database, cfg.App.Name, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	blobs, err := initBlobStore(ctx, &cfg.Storage, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	var (
		events       worker.EventPublisher
		rabbitClient *rabbitmq.Client
	)
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()
		events = rabbitClient

		appLogger.Info("RabbitMQ connection established")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	rasterizer := render.NewRasterizer(render.Config{
		Scale:        cfg.Render.Scale,
		PdftoppmPath: cfg.Render.PdftoppmPath,
		TempDir:      cfg.Render.TempDir,
	}, appLogger.Logger)

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:               appLogger.Logger,
		Store:                storage.NewStorage(dbClient.GetDB(), appLogger.Logger),
		Blobs:                blobs,
		Rasterizer:           worker.NewPDFRasterizer(rasterizer),
		Thumbnailer:          render.NewThumbnailer(cfg.Render.ThumbnailMaxWidth),
		Events:               events,
		Metrics:              worker.NewMetrics(registry),
		PollInterval:         cfg.Worker.PollInterval,
		Concurrency:          cfg.Worker.Concurrency,
		JobTimeout:           cfg.Worker.JobTimeout,
		ShutdownTimeout:      cfg.Worker.ShutdownTimeout,
		PollTypes:            cfg.Worker.JobTypes(),
		RequireRenderedSheet: cfg.Worker.RequireRenderedSheet,
		RecoverStaleAfter:    cfg.Worker.RecoverStaleAfter,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return workerInstance.Run(gctx)
	})

	if rabbitClient != nil {
		deliveries, err := rabbitClient.Consume(consumerTag(cfg.App.Name))
		if err != nil {
			appLogger.Warn("Wake-up consumer unavailable, relying on polling", logger.Err(err))
		} else {
			g.Go(func() error {
				workerInstance.ListenForWakeups(gctx, deliveries)
				return nil
			})
		}
	}

	if cfg.Metrics.Enabled {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metricsMux(registry, workerInstance),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			appLogger.Info("Metrics server listening", slog.String("address", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	appLogger.Info("Worker service started successfully")

	if err := g.Wait(); err != nil {
		appLogger.Error("Worker service stopped with error", logger.Err(err))
		return err
	}

	appLogger.Info("Worker service shutdown complete",
		slog.Any("metrics", workerInstance.Metrics()),
	)
	return nil
}

// metricsMux serves prometheus metrics and a liveness check
func metricsMux(registry *prometheus.Registry, w *worker.Worker) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		if !w.IsRunning() {
			rw.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		rw.WriteHeader(http.StatusOK)
	})
	return mux
}

func consumerTag(appName string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%s-%d", appName, host, os.Getpid())
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, appName string, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		ApplicationName: appName,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initBlobStore connects to object storage and creates the buckets the worker writes to when asked
func initBlobStore(ctx context.Context, cfg *config.StorageConfig, logger *slog.Logger) (*blobstore.Store, error) {
	store, err := blobstore.New(ctx, &blobstore.Config{
		Endpoint:     cfg.Endpoint,
		AccessKey:    cfg.AccessKey,
		SecretKey:    cfg.SecretKey,
		Region:       cfg.Region,
		UsePathStyle: cfg.UsePathStyle,
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.CreateBuckets {
		if err := store.EnsureBuckets(ctx, domain.BucketRawUploads, domain.BucketSheetImages); err != nil {
			return nil, err
		}
	}

	return store, nil
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		User:              cfg.User,
		Password:          cfg.Password,
		VHost:             cfg.VHost,
		ExchangeName:      cfg.Exchange.Name,
		ExchangeType:      cfg.Exchange.Type,
		ExchangeDurable:   cfg.Exchange.Durable,
		QueueName:         cfg.Queue.Name,
		QueueDurable:      cfg.Queue.Durable,
		QueueAutoDelete:   cfg.Queue.AutoDelete,
		BindingKeys:       cfg.Queue.BindingKeys,
		RetryAttempts:     cfg.Connection.RetryAttempts,
		RetryInterval:     cfg.Connection.RetryInterval,
		Heartbeat:         cfg.Connection.Heartbeat,
		PublishRetries:    cfg.Publish.RetryAttempts,
		PublishRetryDelay: cfg.Publish.RetryInterval,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
