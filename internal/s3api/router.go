package s3api

import (
	"net/http"
	"path"
	"strings"
)

// Handler returns an http.Handler implementing the S3 API subset served by
// the gateway.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// List all buckets
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		s.handleListBuckets(ctx, w, r)
	})

	// Bucket-level operations
	mux.HandleFunc("PUT /{bucket}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		bucket := r.PathValue("bucket")
		s.handleBucketPut(ctx, w, r, bucket)
	})
	mux.HandleFunc("GET /{bucket}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		bucket := r.PathValue("bucket")
		s.handleBucketGet(ctx, w, r, bucket)
	})
	mux.HandleFunc("HEAD /{bucket}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		bucket := r.PathValue("bucket")
		s.handleBucketHead(ctx, w, r, bucket)
	})
	mux.HandleFunc("DELETE /{bucket}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		bucket := r.PathValue("bucket")
		s.handleBucketDelete(ctx, w, r, bucket)
	})
	mux.HandleFunc("POST /{bucket}", func(w http.ResponseWriter, r *http.Request) {
		s.writeNotImplemented(w, r, "BucketPost")
	})

	// Object-level operations
	mux.HandleFunc("PUT /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		bucket := r.PathValue("bucket")
		key := r.PathValue("key")
		s.handleObjectPut(ctx, w, r, bucket, key)
	})
	mux.HandleFunc("GET /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		bucket := r.PathValue("bucket")
		key := r.PathValue("key")
		s.handleObjectGet(ctx, w, r, bucket, key)
	})
	mux.HandleFunc("HEAD /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		bucket := r.PathValue("bucket")
		key := r.PathValue("key")
		s.handleObjectHead(ctx, w, r, bucket, key)
	})
	mux.HandleFunc("DELETE /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		bucket := r.PathValue("bucket")
		key := r.PathValue("key")
		s.handleObjectDelete(ctx, w, r, bucket, key)
	})
	mux.HandleFunc("POST /{bucket}/{key...}", func(w http.ResponseWriter, r *http.Request) {
		s.writeNotImplemented(w, r, "ObjectPost")
	})

	// Add middleware
	handler := s.RawKeys(mux)
	handler = s.SlashFix(handler)
	handler = s.LogRequest(handler)
	handler = s.IdentifyOwner(handler)
	handler = s.RequestID(handler)
	handler = s.Recoverer(handler)
	return handler
}

// canonicalPath reports whether ServeMux would serve p without redirecting
// it to a cleaned path.
func canonicalPath(p string) bool {
	cleaned := path.Clean(p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned == p
}

// RawKeys serves object requests whose key contains "//", "." or ".."
// segments. ServeMux would redirect those to a cleaned path, which names a
// different object.
func (s *Server) RawKeys(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if canonicalPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		bucket, key, ok := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
		if !ok || bucket == "" || key == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		switch r.Method {
		case http.MethodPut:
			s.handleObjectPut(ctx, w, r, bucket, key)
		case http.MethodGet:
			s.handleObjectGet(ctx, w, r, bucket, key)
		case http.MethodHead:
			s.handleObjectHead(ctx, w, r, bucket, key)
		case http.MethodDelete:
			s.handleObjectDelete(ctx, w, r, bucket, key)
		default:
			s.writeNotImplemented(w, r, "Object"+strings.ToUpper(r.Method[:1])+strings.ToLower(r.Method[1:]))
		}
	})
}
