// Command server starts the ClipForge API and transcode workers.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"clipforge/internal/api"
	"clipforge/internal/catalog"
	"clipforge/internal/media"
	"clipforge/internal/objectstore"
	"clipforge/internal/observability/logging"
	"clipforge/internal/observability/metrics"
	"clipforge/internal/serverutil"
	"clipforge/internal/transcode"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	spoolDir := flag.String("spool-dir", "", "directory for spooling uploads before transcoding")
	maxUploadMB := flag.Int("max-upload-mb", 0, "maximum upload size in megabytes")
	workers := flag.Int("transcode-workers", 0, "number of concurrent transcode jobs")
	queueSize := flag.Int("transcode-queue-size", 0, "pending transcode queue capacity")
	jobTimeout := flag.Duration("transcode-job-timeout", 0, "per-job transcode timeout")
	uploadConcurrency := flag.Int("publish-concurrency", 0, "concurrent object uploads per rendition")
	ffmpegBinary := flag.String("ffmpeg", "", "path to the ffmpeg binary")
	ffprobeBinary := flag.String("ffprobe", "", "path to the ffprobe binary")
	segmentSeconds := flag.Int("hls-segment-seconds", 0, "target HLS segment duration in seconds")
	objectEndpoint := flag.String("object-endpoint", "", "object storage endpoint (e.g. http://127.0.0.1:9000)")
	objectRegion := flag.String("object-region", "", "object storage region")
	objectAccessKey := flag.String("object-access-key", "", "object storage access key")
	objectSecretKey := flag.String("object-secret-key", "", "object storage secret key")
	objectBucket := flag.String("object-bucket", "", "object storage bucket name")
	objectUseSSL := flag.Bool("object-use-ssl", false, "enable TLS for object storage requests")
	objectPrefix := flag.String("object-prefix", "", "object storage key prefix")
	objectPublicEndpoint := flag.String("object-public-endpoint", "", "public endpoint used for playback URLs")
	objectLifecycleDays := flag.Int("object-lifecycle-days", 0, "lifecycle policy in days for published objects")
	eventsRedisAddr := flag.String("events-redis-addr", "", "Redis address for the transcode event stream")
	eventsRedisUsername := flag.String("events-redis-username", "", "Redis username for the event stream")
	eventsRedisPassword := flag.String("events-redis-password", "", "Redis password for the event stream")
	eventsRedisStream := flag.String("events-redis-stream", "", "Redis stream key for transcode events")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("CLIPFORGE_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("CLIPFORGE_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	listenAddr := firstNonEmpty(*addr, os.Getenv("CLIPFORGE_ADDR"))
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	store, err := openStore(storeSettings{
		driver:          firstNonEmpty(*storageDriver, os.Getenv("CLIPFORGE_STORAGE_DRIVER")),
		dataPath:        firstNonEmpty(*dataPath, os.Getenv("CLIPFORGE_DATA")),
		postgresDSN:     firstNonEmpty(*postgresDSN, os.Getenv("CLIPFORGE_POSTGRES_DSN"), os.Getenv("DATABASE_URL")),
		maxConns:        resolveInt(*postgresMaxConns, "CLIPFORGE_POSTGRES_MAX_CONNS"),
		minConns:        resolveInt(*postgresMinConns, "CLIPFORGE_POSTGRES_MIN_CONNS"),
		maxConnLifetime: resolveDuration(*postgresMaxConnLifetime, "CLIPFORGE_POSTGRES_MAX_CONN_LIFETIME"),
		maxConnIdle:     resolveDuration(*postgresMaxConnIdle, "CLIPFORGE_POSTGRES_MAX_CONN_IDLE"),
	})
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	objects := objectstore.NewClient(objectstore.Config{
		Endpoint:       firstNonEmpty(*objectEndpoint, os.Getenv("CLIPFORGE_OBJECT_ENDPOINT")),
		Region:         firstNonEmpty(*objectRegion, os.Getenv("CLIPFORGE_OBJECT_REGION")),
		AccessKey:      firstNonEmpty(*objectAccessKey, os.Getenv("CLIPFORGE_OBJECT_ACCESS_KEY")),
		SecretKey:      firstNonEmpty(*objectSecretKey, os.Getenv("CLIPFORGE_OBJECT_SECRET_KEY")),
		Bucket:         firstNonEmpty(*objectBucket, os.Getenv("CLIPFORGE_OBJECT_BUCKET")),
		UseSSL:         resolveBool(*objectUseSSL, "CLIPFORGE_OBJECT_USE_SSL"),
		Prefix:         firstNonEmpty(*objectPrefix, os.Getenv("CLIPFORGE_OBJECT_PREFIX")),
		PublicEndpoint: firstNonEmpty(*objectPublicEndpoint, os.Getenv("CLIPFORGE_OBJECT_PUBLIC_ENDPOINT")),
		LifecycleDays:  resolveInt(*objectLifecycleDays, "CLIPFORGE_OBJECT_LIFECYCLE_DAYS"),
	})
	if !objects.Enabled() {
		logger.Warn("object storage not configured, published renditions will be discarded")
	}

	events, err := configureEvents(transcode.RedisPublisherConfig{
		Addr:     firstNonEmpty(*eventsRedisAddr, os.Getenv("CLIPFORGE_EVENTS_REDIS_ADDR")),
		Username: firstNonEmpty(*eventsRedisUsername, os.Getenv("CLIPFORGE_EVENTS_REDIS_USERNAME")),
		Password: firstNonEmpty(*eventsRedisPassword, os.Getenv("CLIPFORGE_EVENTS_REDIS_PASSWORD")),
		Stream:   firstNonEmpty(*eventsRedisStream, os.Getenv("CLIPFORGE_EVENTS_REDIS_STREAM")),
		Logger:   logging.WithComponent(logger, "events"),
	})
	if err != nil {
		logger.Error("failed to configure event stream", "error", err)
		os.Exit(1)
	}

	transcodeLogger := logging.WithComponent(logger, "transcode")
	orchestrator := transcode.NewOrchestrator(transcode.OrchestratorConfig{
		Catalog: store,
		Objects: objects,
		Prober: &media.FFprobe{
			Binary: firstNonEmpty(*ffprobeBinary, os.Getenv("CLIPFORGE_FFPROBE")),
			Logger: transcodeLogger,
		},
		Renderer: &media.FFmpeg{
			Binary:         firstNonEmpty(*ffmpegBinary, os.Getenv("CLIPFORGE_FFMPEG")),
			SegmentSeconds: resolveInt(*segmentSeconds, "CLIPFORGE_HLS_SEGMENT_SECONDS"),
			Logger:         transcodeLogger,
		},
		Events:            events,
		MaxSourceBytes:    int64(resolveInt(*maxUploadMB, "CLIPFORGE_MAX_UPLOAD_MB")) << 20,
		UploadConcurrency: resolveInt(*uploadConcurrency, "CLIPFORGE_PUBLISH_CONCURRENCY"),
		Logger:            transcodeLogger,
		Metrics:           recorder,
	})
	processor := transcode.NewProcessor(transcode.ProcessorConfig{
		Orchestrator: orchestrator,
		Catalog:      store,
		Workers:      resolveInt(*workers, "CLIPFORGE_TRANSCODE_WORKERS"),
		QueueSize:    resolveInt(*queueSize, "CLIPFORGE_TRANSCODE_QUEUE_SIZE"),
		JobTimeout:   resolveDuration(*jobTimeout, "CLIPFORGE_TRANSCODE_JOB_TIMEOUT"),
		Logger:       transcodeLogger,
	})
	processor.Start()

	handler := api.NewHandler(store, processor, objects)
	handler.MaxUploadBytes = int64(resolveInt(*maxUploadMB, "CLIPFORGE_MAX_UPLOAD_MB")) << 20
	handler.SpoolDir = firstNonEmpty(*spoolDir, os.Getenv("CLIPFORGE_SPOOL_DIR"))
	handler.Logger = logging.WithComponent(logger, "api")

	mux := handler.Routes()
	mux.Handle("/metrics", recorder.Handler())
	root := api.RequestID(logging.RequestLogger(logger)(metrics.HTTPMiddleware(recorder, mux)))

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("clipforge API listening", "addr", listenAddr)
	err = serverutil.Run(ctx, serverutil.Config{
		Server: server,
		TLS: serverutil.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("CLIPFORGE_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("CLIPFORGE_TLS_KEY")),
		},
	})
	if err != nil {
		logger.Error("server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := processor.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to stop transcode workers", "error", err)
	}
	if err := events.Close(); err != nil {
		logger.Warn("failed to close event stream", "error", err)
	}
	if err := store.Close(shutdownCtx); err != nil {
		logger.Warn("failed to close datastore", "error", err)
	}
	logger.Info("server stopped")
}

type storeSettings struct {
	driver          string
	dataPath        string
	postgresDSN     string
	maxConns        int
	minConns        int
	maxConnLifetime time.Duration
	maxConnIdle     time.Duration
}

func openStore(settings storeSettings) (catalog.Store, error) {
	driver := strings.ToLower(settings.driver)
	if driver == "" {
		if settings.postgresDSN != "" {
			driver = "postgres"
		} else {
			driver = "json"
		}
	}
	switch driver {
	case "json":
		path := settings.dataPath
		if path == "" {
			path = "data/catalog.json"
		}
		return catalog.NewJSONStore(path)
	case "postgres":
		if settings.postgresDSN == "" {
			return nil, fmt.Errorf("postgres storage selected without DSN")
		}
		return catalog.NewPostgresStore(catalog.PostgresConfig{
			DSN:             settings.postgresDSN,
			MaxConnections:  int32(settings.maxConns),
			MinConnections:  int32(settings.minConns),
			MaxConnLifetime: settings.maxConnLifetime,
			MaxConnIdleTime: settings.maxConnIdle,
		})
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

func configureEvents(cfg transcode.RedisPublisherConfig) (transcode.Publisher, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return transcode.NoopPublisher{}, nil
	}
	return transcode.NewRedisPublisher(cfg)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
