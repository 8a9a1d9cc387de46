package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/eteran/cellar/internal/smoke"
)

// getenv returns the value of the environment variable named by key or
// fallback if the variable is not present.
func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func main() {
	endpoint := getenv("CELLAR_ENDPOINT", "localhost:9000")
	accessKey := getenv("CELLAR_ACCESS_KEY", "minioadmin")
	secretKey := getenv("CELLAR_SECRET_KEY", "minioadmin")
	extended := getenv("CELLAR_SMOKE_EXTENDED", "false") == "true"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure:       false,
		BucketLookup: minio.BucketLookupPath,
	})

	if err != nil {
		slog.Error("failed to create S3 client", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	run := smoke.Run
	if extended {
		run = smoke.RunExtended
	}

	if err := run(ctx, client); err != nil {
		slog.Error("smoke scenario failed", "endpoint", endpoint, "err", err)
		cancel()
		os.Exit(1)
	}

	slog.Info("smoke scenario passed", "endpoint", endpoint)
}
