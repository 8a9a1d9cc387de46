package ui

import (
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
)

// Browser serves the bucket browser, reading everything through an S3
// client.
type Browser struct {
	client *minio.Client
}

func NewBrowser(client *minio.Client) *Browser {
	return &Browser{client: client}
}

// Handler returns the browser's routes.
func (b *Browser) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", b.Home)
	mux.HandleFunc("GET /bucket/{bucket}/{key...}", b.BucketContents)
	mux.HandleFunc("POST /buckets", b.CreateBucket)
	return mux
}

func (b *Browser) listBuckets(r *http.Request) ([]Bucket, error) {
	buckets, err := b.client.ListBuckets(r.Context())
	if err != nil {
		return nil, err
	}

	uiBuckets := make([]Bucket, 0, len(buckets))
	for _, bucket := range buckets {
		uiBuckets = append(uiBuckets, Bucket{
			Name:         bucket.Name,
			CreationDate: bucket.CreationDate.UTC().Format(time.RFC3339),
		})
	}
	return uiBuckets, nil
}

func (b *Browser) Home(w http.ResponseWriter, r *http.Request) {
	buckets, err := b.listBuckets(r)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to list buckets: %v", err), http.StatusInternalServerError)
		return
	}

	if err := BucketsPage(buckets).Render(r.Context(), w); err != nil {
		slog.Error("Render buckets page", "err", err)
	}
}

func (b *Browser) BucketContents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucket := r.PathValue("bucket")
	prefix := r.PathValue("key")

	// Always fetch all buckets so the sidebar can be rendered.
	buckets, err := b.listBuckets(r)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to list buckets: %v", err), http.StatusInternalServerError)
		return
	}

	opts := minio.ListObjectsOptions{
		Recursive: false,
		Prefix:    prefix,
	}

	objects := make([]Object, 0, 64)
	for obj := range b.client.ListObjects(ctx, bucket, opts) {
		if obj.Err != nil {
			if minio.ToErrorResponse(obj.Err).Code == "NoSuchBucket" {
				http.Error(w, fmt.Sprintf("bucket %q does not exist", bucket), http.StatusNotFound)
				return
			}
			slog.Error("ListObjects error", "bucket", bucket, "err", obj.Err)
			continue
		}

		folder := strings.HasSuffix(obj.Key, "/") && obj.LastModified.IsZero()
		entry := Object{Key: obj.Key, Size: obj.Size, Folder: folder}
		if !folder {
			entry.LastModified = obj.LastModified.UTC().Format(time.RFC3339)
		}
		objects = append(objects, entry)
	}

	if err := ObjectsPage(buckets, bucket, prefix, objects).Render(ctx, w); err != nil {
		slog.Error("Render objects page", "bucket", bucket, "err", err)
	}
}

func writeFormError(w http.ResponseWriter, r *http.Request, msg string, status int) {
	if r.Header.Get("HX-Request") == "true" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprintf(w, "<p class=\"error-message\">%s</p>", html.EscapeString(msg))
		return
	}
	http.Error(w, msg, status)
}

func (b *Browser) CreateBucket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		http.Error(w, fmt.Sprintf("failed to parse form: %v", err), http.StatusBadRequest)
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		writeFormError(w, r, "bucket name is required", http.StatusBadRequest)
		return
	}

	if err := b.client.MakeBucket(ctx, name, minio.MakeBucketOptions{}); err != nil {
		slog.Error("failed to create bucket", "bucket", name, "err", err)
		status := http.StatusBadRequest
		if minio.ToErrorResponse(err).StatusCode >= http.StatusInternalServerError {
			status = http.StatusInternalServerError
		}
		writeFormError(w, r, fmt.Sprintf("failed to create bucket: %v", err), status)
		return
	}

	redirectURL := bucketHref(name, "")
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", redirectURL)
		w.WriteHeader(http.StatusSeeOther)
		return
	}

	http.Redirect(w, r, redirectURL, http.StatusSeeOther)
}
