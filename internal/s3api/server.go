// Package s3api adapts the operation gateway to the S3 REST API, so stock
// S3 clients can drive it. Requests are path-style only. Signatures are not
// verified; the access key only identifies the caller.
package s3api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/eteran/cellar/internal/gateway"
	"github.com/eteran/cellar/internal/lifecycle"
)

const timeFormatISO8601 = "2006-01-02T15:04:05.000Z"

// Server provides a minimal S3-compatible HTTP API over a Gateway.
type Server struct {
	Config  Config
	Gateway *gateway.Gateway
}

// NewServer returns a Server dispatching to g.
func NewServer(g *gateway.Gateway, opts ...ConfigOption) *Server {
	return &Server{
		Config:  NewConfig(opts...),
		Gateway: g,
	}
}

// do runs op on behalf of the caller identified in ctx.
func (s *Server) do(ctx context.Context, op gateway.Operation) (gateway.Result, error) {
	op.Owner = s.owner(ctx)
	return s.Gateway.Do(ctx, op)
}

// writeNotImplemented is a helper for stubbing unsupported S3 operations.
func (s *Server) writeNotImplemented(w http.ResponseWriter, r *http.Request, op string) {
	message := op + " is not implemented."
	writeS3Error(w, r, "NotImplemented", message, http.StatusNotImplemented)
}

// writeS3Error writes a minimal S3-style XML error response.
func writeS3Error(w http.ResponseWriter, r *http.Request, code string, message string, status int) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_ = xml.NewEncoder(w).Encode(S3Error{
		Code:      code,
		Message:   message,
		Resource:  r.URL.Path,
		RequestID: requestID(r.Context()),
	})
}

type errorResponse struct {
	code    string
	message string
	status  int
}

var errorResponses = map[gateway.Kind]errorResponse{
	gateway.KindAlreadyExists: {
		"BucketAlreadyExists",
		"The requested bucket name is not available. The bucket namespace is shared by all users of the system. Please select a different name and try again.",
		http.StatusConflict,
	},
	gateway.KindAlreadyOwnedByYou: {
		"BucketAlreadyOwnedByYou",
		"Your previous request to create the named bucket succeeded and you already own it.",
		http.StatusConflict,
	},
	gateway.KindNoSuchBucket:      {"NoSuchBucket", "The specified bucket does not exist.", http.StatusNotFound},
	gateway.KindNoSuchKey:         {"NoSuchKey", "The specified key does not exist.", http.StatusNotFound},
	gateway.KindBucketNotEmpty:    {"BucketNotEmpty", "The bucket you tried to delete is not empty.", http.StatusConflict},
	gateway.KindInvalidBucketName: {"InvalidBucketName", "The specified bucket is not valid.", http.StatusBadRequest},
	gateway.KindInvalidObjectName: {"InvalidObjectName", "The specified key is not valid.", http.StatusBadRequest},
	gateway.KindEntityTooLarge:    {"EntityTooLarge", "Your proposed upload exceeds the maximum allowed object size.", http.StatusBadRequest},
	gateway.KindInvalidRequest:    {"InvalidRequest", "The request is not valid.", http.StatusBadRequest},
	gateway.KindInternalConsistencyFault: {
		"InternalError",
		"The object's stored payload is unavailable.",
		http.StatusInternalServerError,
	},
}

// writeGatewayError translates a gateway failure into its S3 error
// response.
func writeGatewayError(w http.ResponseWriter, r *http.Request, err error) {
	resp, ok := errorResponses[gateway.KindOf(err)]
	if !ok {
		resp = errorResponse{"InternalError", "We encountered an internal error. Please try again.", http.StatusInternalServerError}
	}
	if resp.status >= 500 {
		slog.Error("Operation failed", "path", r.URL.Path, "request_id", requestID(r.Context()), "err", err)
	}
	writeS3Error(w, r, resp.code, resp.message, resp.status)
}

// writeXMLResponse encodes v as XML and writes it to w with a 200 OK status.
func writeXMLResponse(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	return xml.NewEncoder(w).Encode(v)
}

// createETag formats a hash hex string as an ETag value.
func createETag(hashHex string) string {
	return fmt.Sprintf("\"%s\"", hashHex)
}

// ------ Dispatchers for bucket-level HTTP handlers ------

// handleBucketPut dispatches PUT /bucket[?subresource].
func (s *Server) handleBucketPut(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	q := r.URL.Query()
	switch {
	case q.Has("tagging"):
		s.writeNotImplemented(w, r, "PutBucketTagging")
	case q.Has("versioning"):
		s.writeNotImplemented(w, r, "PutBucketVersioning")
	case q.Has("lifecycle"):
		s.writeNotImplemented(w, r, "PutBucketLifecycleConfiguration")
	case q.Has("replication"):
		s.writeNotImplemented(w, r, "PutBucketReplication")
	case q.Has("policy"):
		s.writeNotImplemented(w, r, "PutBucketPolicy")
	default:
		s.handleCreateBucket(ctx, w, r, bucket)
	}
}

// handleBucketGet dispatches GET /bucket[?subresource] between ListObjects
// and bucket-level read APIs.
func (s *Server) handleBucketGet(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	q := r.URL.Query()
	switch {
	case q.Has("location"):
		s.handleGetBucketLocation(ctx, w, r, bucket)
	case q.Has("tagging"):
		s.writeNotImplemented(w, r, "GetBucketTagging")
	case q.Has("versioning"):
		s.writeNotImplemented(w, r, "GetBucketVersioning")
	case q.Has("lifecycle"):
		s.writeNotImplemented(w, r, "GetBucketLifecycleConfiguration")
	case q.Has("policy"):
		s.writeNotImplemented(w, r, "GetBucketPolicy")
	case q.Has("versions"):
		s.writeNotImplemented(w, r, "ListObjectVersions")
	case q.Has("uploads"):
		s.writeNotImplemented(w, r, "ListMultipartUploads")
	case q.Get("list-type") == "2":
		s.handleListObjectsV2(ctx, w, r, bucket)
	default:
		s.handleListObjects(ctx, w, r, bucket)
	}
}

// handleBucketDelete implements DELETE /bucket[?subresource].
func (s *Server) handleBucketDelete(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	q := r.URL.Query()
	switch {
	case q.Has("tagging"):
		s.writeNotImplemented(w, r, "DeleteBucketTagging")
	case q.Has("lifecycle"):
		s.writeNotImplemented(w, r, "DeleteBucketLifecycle")
	case q.Has("policy"):
		s.writeNotImplemented(w, r, "DeleteBucketPolicy")
	default:
		s.handleDeleteBucket(ctx, w, r, bucket)
	}
}

// handleBucketHead implements HEAD /bucket.
func (s *Server) handleBucketHead(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	if _, err := s.do(ctx, gateway.Operation{Verb: gateway.GetBucket, Bucket: bucket}); err != nil {
		writeGatewayError(w, r, err)
		return
	}

	w.Header().Set("x-amz-bucket-region", s.Config.Region)
	w.WriteHeader(http.StatusOK)
}

// ------ Dispatchers for object-level HTTP handlers ------

// handleObjectPut implements PUT /bucket/key to store or copy an object.
func (s *Server) handleObjectPut(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	q := r.URL.Query()
	switch {
	case q.Has("uploadId") || q.Has("partNumber"):
		s.writeNotImplemented(w, r, "UploadPart")
	case q.Has("tagging"):
		s.writeNotImplemented(w, r, "PutObjectTagging")
	case q.Has("acl"):
		s.writeNotImplemented(w, r, "PutObjectAcl")
	case r.Header.Get("x-amz-copy-source") != "":
		s.handleCopyObject(ctx, w, r, bucket, key, r.Header.Get("x-amz-copy-source"))
	default:
		s.handlePutObject(ctx, w, r, bucket, key)
	}
}

// handleObjectGet implements GET /bucket/key to retrieve an object.
func (s *Server) handleObjectGet(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	q := r.URL.Query()
	switch {
	case q.Has("tagging"):
		s.writeNotImplemented(w, r, "GetObjectTagging")
	case q.Has("attributes"):
		s.writeNotImplemented(w, r, "GetObjectAttributes")
	case q.Has("uploadId"):
		s.writeNotImplemented(w, r, "ListParts")
	case q.Has("acl"):
		s.writeNotImplemented(w, r, "GetObjectAcl")
	default:
		s.handleGetObject(ctx, w, r, bucket, key)
	}
}

// handleObjectDelete implements DELETE /bucket/key to delete an object.
func (s *Server) handleObjectDelete(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	q := r.URL.Query()
	switch {
	case q.Has("tagging"):
		s.writeNotImplemented(w, r, "DeleteObjectTagging")
	case q.Has("uploadId"):
		s.writeNotImplemented(w, r, "AbortMultipartUpload")
	default:
		s.handleDeleteObject(ctx, w, r, bucket, key)
	}
}

// ------ Individual API HTTP handlers ------

func (s *Server) handleListBuckets(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	owner := s.owner(ctx)

	res, err := s.do(ctx, gateway.Operation{Verb: gateway.ListBuckets})
	if err != nil {
		writeGatewayError(w, r, err)
		return
	}

	buckets := make([]BucketEntry, 0, len(res.Buckets))
	for _, b := range res.Buckets {
		buckets = append(buckets, BucketEntry{
			Name:         b.Name,
			CreationDate: b.CreatedAt.UTC().Format(timeFormatISO8601),
		})
	}

	resp := ListAllMyBucketsResult{
		XMLNS: s3XMLNamespace,
		Owner: Owner{
			ID:          owner,
			DisplayName: owner,
		},
		Buckets: buckets,
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode list buckets XML", "err", err)
	}
}

// handleCreateBucket implements PUT /bucket to create a new bucket.
func (s *Server) handleCreateBucket(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	if _, err := s.do(ctx, gateway.Operation{Verb: gateway.CreateBucket, Bucket: bucket}); err != nil {
		writeGatewayError(w, r, err)
		return
	}

	w.Header().Set("Location", "/"+bucket)
	w.WriteHeader(http.StatusOK)
}

// handleGetBucketLocation implements GET /bucket?location
func (s *Server) handleGetBucketLocation(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	if _, err := s.do(ctx, gateway.Operation{Verb: gateway.GetBucket, Bucket: bucket}); err != nil {
		writeGatewayError(w, r, err)
		return
	}

	resp := LocationConstraint{
		XMLNS:  s3XMLNamespace,
		Region: s.Config.Region,
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode bucket location XML", "bucket", bucket, "err", err)
	}
}

// handleDeleteBucket implements DELETE /bucket. Only empty buckets can be
// deleted.
func (s *Server) handleDeleteBucket(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	if _, err := s.do(ctx, gateway.Operation{Verb: gateway.DeleteBucket, Bucket: bucket}); err != nil {
		writeGatewayError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// readPayload reads the request body, decoding aws-chunked uploads. Bodies
// larger than the configured maximum fail with errPayloadTooLarge.
func (s *Server) readPayload(r *http.Request) ([]byte, error) {
	limit := s.Config.MaxObjectSize
	defer r.Body.Close()

	if isStreamingPayload(r.Header.Get("X-Amz-Content-Sha256")) {
		decodedLenStr := r.Header.Get("X-Amz-Decoded-Content-Length")
		if decodedLenStr == "" {
			return nil, errors.New("missing X-Amz-Decoded-Content-Length for streaming payload")
		}

		decodedLen, err := strconv.ParseInt(decodedLenStr, 10, 64)
		if err != nil || decodedLen < 0 {
			return nil, fmt.Errorf("invalid X-Amz-Decoded-Content-Length %q", decodedLenStr)
		}
		if decodedLen > limit {
			return nil, errPayloadTooLarge
		}

		var buf bytes.Buffer
		if _, err := decodeStreamingPayload(&buf, r.Body, decodedLen, limit); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	if r.ContentLength > limit {
		return nil, errPayloadTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, errPayloadTooLarge
	}
	return data, nil
}

// handlePutObject implements PUT /bucket/key.
func (s *Server) handlePutObject(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	data, err := s.readPayload(r)
	if errors.Is(err, errPayloadTooLarge) {
		writeS3Error(w, r, "EntityTooLarge", "Your proposed upload exceeds the maximum allowed object size.", http.StatusBadRequest)
		return
	}
	if err != nil {
		slog.Error("Read object payload", "bucket", bucket, "key", key, "err", err)
		writeS3Error(w, r, "InvalidRequest", "Failed to read request body", http.StatusBadRequest)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	res, err := s.do(ctx, gateway.Operation{
		Verb:        gateway.PutObject,
		Bucket:      bucket,
		Key:         key,
		Body:        data,
		ContentType: contentType,
	})
	if err != nil {
		writeGatewayError(w, r, err)
		return
	}

	w.Header().Set("ETag", createETag(res.Object.ETag))
	w.WriteHeader(http.StatusOK)
}

// handleGetObject implements GET /bucket/key. Range and conditional
// requests are served by http.ServeContent.
func (s *Server) handleGetObject(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	res, err := s.do(ctx, gateway.Operation{Verb: gateway.GetObject, Bucket: bucket, Key: key})
	if err != nil {
		writeGatewayError(w, r, err)
		return
	}

	obj := res.Object
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("ETag", createETag(obj.ETag))
	w.Header().Set("Accept-Ranges", "bytes")

	http.ServeContent(w, r, key, obj.LastModified, bytes.NewReader(res.Body))
}

// handleObjectHead implements HEAD /bucket/key, returning metadata headers
// compatible with S3 but without a response body.
func (s *Server) handleObjectHead(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	res, err := s.do(ctx, gateway.Operation{Verb: gateway.HeadObject, Bucket: bucket, Key: key})
	if err != nil {
		writeGatewayError(w, r, err)
		return
	}

	obj := res.Object
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	w.Header().Set("Last-Modified", obj.LastModified.UTC().Format(http.TimeFormat))
	w.Header().Set("ETag", createETag(obj.ETag))
	w.Header().Set("Accept-Ranges", "bytes")

	w.WriteHeader(http.StatusOK)
}

// handleDeleteObject implements DELETE /bucket/key. Unlike AWS, deleting a
// key that does not exist is reported as NoSuchKey.
func (s *Server) handleDeleteObject(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string, key string) {
	if _, err := s.do(ctx, gateway.Operation{Verb: gateway.DeleteObject, Bucket: bucket, Key: key}); err != nil {
		writeGatewayError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// parseCopySource splits x-amz-copy-source, which is typically of the form
// "/source-bucket/source-key" or "source-bucket/source-key" and may be
// URL-encoded and include a query string.
func parseCopySource(copySource string) (string, string, error) {
	src := copySource
	if i := strings.Index(src, "?"); i != -1 {
		src = src[:i]
	}
	src = strings.TrimPrefix(src, "/")

	decoded, err := url.PathUnescape(src)
	if err != nil {
		return "", "", fmt.Errorf("unescape copy source: %w", err)
	}

	bucket, key, ok := strings.Cut(decoded, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid copy source %q", copySource)
	}
	return bucket, key, nil
}

// handleCopyObject implements a basic version of S3 CopyObject for
// non-multipart copies without conditional headers.
func (s *Server) handleCopyObject(ctx context.Context, w http.ResponseWriter, r *http.Request, destBucket string, destKey string, copySource string) {
	srcBucket, srcKey, err := parseCopySource(copySource)
	if err != nil {
		writeS3Error(w, r, "InvalidRequest", "Invalid copy source.", http.StatusBadRequest)
		return
	}

	res, err := s.do(ctx, gateway.Operation{
		Verb:         gateway.CopyObject,
		Bucket:       destBucket,
		Key:          destKey,
		SourceBucket: srcBucket,
		SourceKey:    srcKey,
	})
	if err != nil {
		writeGatewayError(w, r, err)
		return
	}

	resp := CopyObjectResult{
		XMLNS:        s3XMLNamespace,
		LastModified: res.Object.LastModified.UTC().Format(timeFormatISO8601),
		ETag:         createETag(res.Object.ETag),
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode copy object XML", "destBucket", destBucket, "destKey", destKey, "err", err)
	}
}

// parseMaxKeys reads the max-keys query parameter, defaulting to
// lifecycle.MaxListKeys.
func parseMaxKeys(q url.Values) (int, error) {
	raw := q.Get("max-keys")
	if raw == "" {
		return lifecycle.MaxListKeys, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid max-keys %q", raw)
	}
	return min(v, lifecycle.MaxListKeys), nil
}

// listObjects runs a listing, answering max-keys=0 with an empty page after
// checking that the bucket exists.
func (s *Server) listObjects(ctx context.Context, bucket string, opts lifecycle.ListOptions) (lifecycle.ListResult, error) {
	if opts.MaxKeys == 0 {
		_, err := s.do(ctx, gateway.Operation{Verb: gateway.GetBucket, Bucket: bucket})
		return lifecycle.ListResult{}, err
	}

	res, err := s.do(ctx, gateway.Operation{Verb: gateway.ListObjects, Bucket: bucket, List: opts})
	return res.Listing, err
}

func summarize(listing lifecycle.ListResult) ([]ObjectSummary, []CommonPrefix) {
	summaries := make([]ObjectSummary, 0, len(listing.Objects))
	for _, obj := range listing.Objects {
		summaries = append(summaries, ObjectSummary{
			Key:          obj.Key,
			LastModified: obj.LastModified.UTC().Format(timeFormatISO8601),
			ETag:         createETag(obj.ETag),
			Size:         obj.Size,
			StorageClass: "STANDARD",
		})
	}

	var prefixes []CommonPrefix
	for _, p := range listing.CommonPrefixes {
		prefixes = append(prefixes, CommonPrefix{Prefix: p})
	}
	return summaries, prefixes
}

// handleListObjects implements S3 ListObjects (v1):
// GET /bucket[?prefix=&delimiter=&marker=&max-keys=].
func (s *Server) handleListObjects(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	q := r.URL.Query()

	maxKeys, err := parseMaxKeys(q)
	if err != nil {
		writeS3Error(w, r, "InvalidArgument", "Invalid max-keys.", http.StatusBadRequest)
		return
	}

	listing, err := s.listObjects(ctx, bucket, lifecycle.ListOptions{
		Prefix:     q.Get("prefix"),
		Delimiter:  q.Get("delimiter"),
		StartAfter: q.Get("marker"),
		MaxKeys:    maxKeys,
	})
	if err != nil {
		writeGatewayError(w, r, err)
		return
	}

	summaries, prefixes := summarize(listing)
	resp := ListBucketResult{
		XMLNS:          s3XMLNamespace,
		Name:           bucket,
		Prefix:         q.Get("prefix"),
		Marker:         q.Get("marker"),
		NextMarker:     listing.NextMarker,
		Delimiter:      q.Get("delimiter"),
		MaxKeys:        maxKeys,
		IsTruncated:    listing.IsTruncated,
		Contents:       summaries,
		CommonPrefixes: prefixes,
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode list objects XML", "bucket", bucket, "err", err)
	}
}

func encodeContinuationToken(marker string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(marker))
}

func decodeContinuationToken(token string) (string, error) {
	marker, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("decode continuation token: %w", err)
	}
	return string(marker), nil
}

// handleListObjectsV2 implements S3 ListObjectsV2:
// GET /bucket?list-type=2[&prefix=&delimiter=&max-keys=&continuation-token=&start-after=].
func (s *Server) handleListObjectsV2(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	q := r.URL.Query()

	maxKeys, err := parseMaxKeys(q)
	if err != nil {
		writeS3Error(w, r, "InvalidArgument", "Invalid max-keys.", http.StatusBadRequest)
		return
	}

	continuationToken := q.Get("continuation-token")
	startAfter := q.Get("start-after")
	marker := startAfter
	if continuationToken != "" {
		marker, err = decodeContinuationToken(continuationToken)
		if err != nil {
			writeS3Error(w, r, "InvalidArgument", "The continuation token provided is incorrect.", http.StatusBadRequest)
			return
		}
	}

	listing, err := s.listObjects(ctx, bucket, lifecycle.ListOptions{
		Prefix:     q.Get("prefix"),
		Delimiter:  q.Get("delimiter"),
		StartAfter: marker,
		MaxKeys:    maxKeys,
	})
	if err != nil {
		writeGatewayError(w, r, err)
		return
	}

	nextContinuationToken := ""
	if listing.IsTruncated {
		nextContinuationToken = encodeContinuationToken(listing.NextMarker)
	}

	summaries, prefixes := summarize(listing)
	resp := ListBucketResultV2{
		XMLNS:                 s3XMLNamespace,
		Name:                  bucket,
		Prefix:                q.Get("prefix"),
		Delimiter:             q.Get("delimiter"),
		KeyCount:              len(summaries) + len(prefixes),
		MaxKeys:               maxKeys,
		IsTruncated:           listing.IsTruncated,
		ContinuationToken:     continuationToken,
		NextContinuationToken: nextContinuationToken,
		StartAfter:            startAfter,
		Contents:              summaries,
		CommonPrefixes:        prefixes,
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode list objects v2 XML", "bucket", bucket, "err", err)
	}
}
