package s3api

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	BasicAuthPrefix = "Basic "
	AWSv4Prefix     = "AWS4-HMAC-SHA256 "
)

type contextKey int

const (
	requestIDKey contextKey = iota
	ownerKey
)

// ResponseWriterWrapper is a wrapper around the default http.ResponseWriter.
// It intercepts the WriteHeader call and saves the response status code.
type ResponseWriterWrapper struct {
	http.ResponseWriter
	WrittenResponseCode int
}

// WriteHeader intercepts the status code and stores it, then calls the original WriteHeader.
func (w *ResponseWriterWrapper) WriteHeader(statusCode int) {
	w.WrittenResponseCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Write calls the underlying ResponseWriter's Write method.
func (w *ResponseWriterWrapper) Write(b []byte) (int, error) {
	if w.WrittenResponseCode == 0 {
		w.WrittenResponseCode = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

type LogEntry struct {
	IP         string
	Owner      string
	RequestID  string
	Method     string
	URL        string
	Proto      string
	DurationMS float64
	StatusCode int
}

func (e LogEntry) User() slog.Attr {
	return slog.Group("user", "ip", e.IP, "owner", e.Owner)
}

func (e LogEntry) Request() slog.Attr {
	return slog.Group("request",
		"id", e.RequestID,
		"proto", e.Proto,
		"method", e.Method,
		"url", e.URL,
		"duration_ms", e.DurationMS,
		"status_code", e.StatusCode,
	)
}

// LogRequest is middleware that logs incoming HTTP requests.
func (s *Server) LogRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		entry := LogEntry{
			IP:        r.RemoteAddr,
			Owner:     s.owner(ctx),
			RequestID: requestID(ctx),
			Method:    r.Method,
			URL:       r.URL.String(),
			Proto:     r.Proto,
		}

		writer := ResponseWriterWrapper{ResponseWriter: w}

		start := time.Now()
		next.ServeHTTP(&writer, r)
		elapsed := time.Since(start).Nanoseconds()

		entry.DurationMS = float64(elapsed) / float64(time.Millisecond)
		entry.StatusCode = writer.WrittenResponseCode

		switch {
		case writer.WrittenResponseCode >= 500:
			slog.Error("Request", entry.User(), entry.Request())
		case writer.WrittenResponseCode >= 400:
			slog.Warn("Request", entry.User(), entry.Request())
		default:
			slog.Info("Request", entry.User(), entry.Request())
		}
	})
}

// RequestID tags every request with a fresh id, echoed back in the
// x-amz-request-id header and in error bodies.
func (s *Server) RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("x-amz-request-id", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// accessKey extracts the access key id from an Authorization header. The
// signature is not checked.
func accessKey(header string) string {
	switch {
	case strings.HasPrefix(header, AWSv4Prefix):
		// Credential=AKID/20250101/us-east-1/s3/aws4_request, SignedHeaders=..., Signature=...
		for field := range strings.SplitSeq(strings.TrimPrefix(header, AWSv4Prefix), ",") {
			field = strings.TrimSpace(field)
			cred, ok := strings.CutPrefix(field, "Credential=")
			if !ok {
				continue
			}
			key, _, _ := strings.Cut(cred, "/")
			return key
		}
	case strings.HasPrefix(header, BasicAuthPrefix):
		payload, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(BasicAuthPrefix):]))
		if err != nil {
			return ""
		}
		user, _, _ := strings.Cut(string(payload), ":")
		return user
	}
	return ""
}

// IdentifyOwner attaches the caller's identity to the request context. It
// is taken from the access key of the Authorization header.
func (s *Server) IdentifyOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key := accessKey(r.Header.Get("Authorization")); key != "" {
			r = r.WithContext(context.WithValue(r.Context(), ownerKey, key))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) owner(ctx context.Context) string {
	if owner, ok := ctx.Value(ownerKey).(string); ok {
		return owner
	}
	return s.Config.DefaultOwner
}

func (s *Server) SlashFix(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Collapse leading slashes; slashes inside a key are significant.
		for strings.HasPrefix(r.URL.Path, "//") {
			r.URL.Path = r.URL.Path[1:]
		}

		// "/bucket/" addresses the bucket, not an object with an empty key.
		if r.URL.Path != "/" && strings.HasSuffix(r.URL.Path, "/") && strings.Count(r.URL.Path, "/") == 2 {
			r.URL.Path = strings.TrimSuffix(r.URL.Path, "/")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					// we don't recover http.ErrAbortHandler so the response
					// to the client is aborted, this should not be logged
					panic(rvr)
				}

				slog.Error("Internal Error in HTTP handler", "error", rvr)

				if r.Header.Get("Connection") != "Upgrade" {
					w.WriteHeader(http.StatusInternalServerError)
				}
			}
		}()

		next.ServeHTTP(w, r)
	})
}
