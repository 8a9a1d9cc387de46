package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"

	"github.com/eteran/cellar/internal/catalog"
	"github.com/eteran/cellar/internal/gateway"
	"github.com/eteran/cellar/internal/lifecycle"
	"github.com/eteran/cellar/internal/s3api"
	"github.com/eteran/cellar/internal/storage"
)

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := strconv.ParseInt(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := time.ParseDuration(value); err == nil {
			return v
		}
	}
	return defaultValue
}

// openBackend builds the payload backend named by kind.
func openBackend(ctx context.Context, kind string, dataDir string, region string) (storage.Backend, error) {
	switch kind {
	case "local":
		return storage.NewLocalFileStorage(filepath.Join(dataDir, "blobs")), nil
	case "memory":
		return storage.NewMemoryStorage(), nil
	case "minio":
		var (
			endpoint  = getEnv("CELLAR_MINIO_ENDPOINT", "localhost:9000")
			accessKey = getEnv("CELLAR_MINIO_ACCESS_KEY", "minioadmin")
			secretKey = getEnv("CELLAR_MINIO_SECRET_KEY", "minioadmin")
			bucket    = getEnv("CELLAR_MINIO_BUCKET", "cellar-blobs")
			prefix    = getEnv("CELLAR_MINIO_PREFIX", "")
			useSSL    = getEnv("CELLAR_MINIO_SSL", "false") == "true"
		)

		client, err := minio.New(endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
			Secure: useSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create upstream S3 client: %w", err)
		}

		backend := storage.NewMinioStorage(client, bucket, prefix)
		if err := backend.EnsureBucket(ctx, region); err != nil {
			return nil, err
		}
		slog.Info("Using upstream S3 payload backend", "endpoint", endpoint, "bucket", bucket)
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", kind)
	}
}

// openCatalog builds the metadata catalog named by kind.
func openCatalog(ctx context.Context, kind string, dataDir string) (catalog.Catalog, error) {
	switch kind {
	case "sqlite":
		return catalog.OpenSQLite(ctx, filepath.Join(dataDir, "metadata.sqlite"))
	case "memory":
		return catalog.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown catalog %q", kind)
	}
}

func Run(ctx context.Context) error {

	var (
		listen        = flag.String("listen", getEnv("CELLAR_LISTEN", "9000"), "HTTP listen port")
		listenTLS     = flag.String("listen-tls", getEnv("CELLAR_LISTEN_TLS", "8443"), "HTTPS listen port")
		certFile      = flag.String("tls-cert", getEnv("CELLAR_TLS_CERT", ""), "TLS certificate file")
		keyFile       = flag.String("tls-key", getEnv("CELLAR_TLS_KEY", ""), "TLS key file")
		dataDir       = flag.String("data-dir", getEnv("CELLAR_DATA_DIR", "./data"), "directory to store object data and metadata")
		backendKind   = flag.String("storage", getEnv("CELLAR_STORAGE", "local"), "payload backend: local, memory or minio")
		catalogKind   = flag.String("catalog", getEnv("CELLAR_CATALOG", "sqlite"), "metadata catalog: sqlite or memory")
		region        = flag.String("region", getEnv("CELLAR_REGION", "us-east-1"), "region reported to clients")
		defaultOwner  = flag.String("default-owner", getEnv("CELLAR_DEFAULT_OWNER", "cellar"), "owner for requests without an access key")
		maxObjectSize = flag.Int64("max-object-size", getEnvInt64("CELLAR_MAX_OBJECT_SIZE", lifecycle.DefaultMaxObjectSize), "largest accepted object in bytes")
		timeout       = flag.Duration("timeout", getEnvDuration("CELLAR_TIMEOUT", 5*time.Minute), "read and write timeout per request")
		logLevel      = flag.String("log-level", getEnv("CELLAR_LOG_LEVEL", "info"), "log level: debug, info, warn or error")
	)

	flag.Parse()

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           level,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})

	slog.SetDefault(slog.New(handler))

	// Ensure data directory is absolute for easier debugging.
	absDataDir, err := filepath.Abs(*dataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve data directory: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	backend, err := openBackend(ctx, *backendKind, absDataDir, *region)
	if err != nil {
		return err
	}

	cat, err := openCatalog(ctx, *catalogKind, absDataDir)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}

	defer cat.Close()

	manager, err := lifecycle.Open(ctx, cat, storage.NewStore(backend), lifecycle.WithMaxObjectSize(*maxObjectSize))
	if err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	server := s3api.NewServer(gateway.New(manager),
		s3api.WithRegion(*region),
		s3api.WithDefaultOwner(*defaultOwner),
		s3api.WithMaxObjectSize(*maxObjectSize),
	)

	router := server.Handler()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", *listen),
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       *timeout,
		WriteTimeout:      *timeout,
	}

	httpsServer := &http.Server{
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		Addr:              fmt.Sprintf(":%s", *listenTLS),
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       *timeout,
		WriteTimeout:      *timeout,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		return errors.Join(httpsServer.Shutdown(shutdownCtx), httpServer.Shutdown(shutdownCtx))
	})

	eg.Go(func() error {
		if *certFile == "" || *keyFile == "" {
			slog.Debug("Skipping HTTPS service because no certificate was provided")
			return nil
		}

		slog.Info("Starting Cellar HTTPS server", "port", *listenTLS)
		err := httpsServer.ListenAndServeTLS(*certFile, *keyFile)
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	eg.Go(func() error {
		slog.Info("Starting Cellar HTTP server", "port", *listen)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	slog.Info("Cellar Started", "data_dir", absDataDir, "storage", *backendKind, "catalog", *catalogKind)
	return eg.Wait()

}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx); err != nil {
		slog.Error("Cellar exited with error", "error", err)
		os.Exit(1)
	}
}
