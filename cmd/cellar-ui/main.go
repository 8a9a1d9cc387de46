package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/eteran/cellar/internal/ui"
)

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func Run(ctx context.Context) error {

	var (
		HttpPort    = getEnv("CELLAR_UI_PORT", "9100")
		S3Endpoint  = getEnv("CELLAR_UI_S3_ENDPOINT", "localhost:9000")
		S3AccessKey = getEnv("CELLAR_UI_S3_ACCESS_KEY", "cellar")
		S3SecretKey = getEnv("CELLAR_UI_S3_SECRET_KEY", "cellar")
		S3UseSSL    = getEnv("CELLAR_UI_S3_SSL", "false") == "true"
	)

	// Logging setup consistent with the main cellar server.
	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           log.DebugLevel,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})
	slog.SetDefault(slog.New(handler))

	client, err := minio.New(S3Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(S3AccessKey, S3SecretKey, ""),
		Secure:       S3UseSSL,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return fmt.Errorf("failed to create S3 client: %w", err)
	}

	srv := &http.Server{
		Addr:              ":" + HttpPort,
		Handler:           ui.NewBrowser(client).Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	slog.Info("Starting Cellar UI server", "port", HttpPort, "s3_endpoint", S3Endpoint)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("cellar UI server failed: %w", err)
	}

	return nil
}

func main() {
	if err := Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
