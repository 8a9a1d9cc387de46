// Package gateway is the operation surface a protocol adapter calls. It
// decodes an Operation, dispatches it to the lifecycle manager and reports
// failures as *Error values carrying an externally visible Kind. It holds
// no state and never retries.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/eteran/cellar/internal/catalog"
	"github.com/eteran/cellar/internal/lifecycle"
)

type Verb string

const (
	CreateBucket Verb = "CreateBucket"
	GetBucket    Verb = "GetBucket"
	ListBuckets  Verb = "ListBuckets"
	DeleteBucket Verb = "DeleteBucket"
	PutObject    Verb = "PutObject"
	GetObject    Verb = "GetObject"
	HeadObject   Verb = "HeadObject"
	ListObjects  Verb = "ListObjects"
	DeleteObject Verb = "DeleteObject"
	CopyObject   Verb = "CopyObject"
)

var errInvalidOperation = errors.New("invalid operation")

// Operation is a decoded request. Only the fields relevant to Verb are read.
type Operation struct {
	Verb        Verb
	Owner       string
	Bucket      string
	Key         string
	Body        []byte
	ContentType string

	// SourceBucket and SourceKey name the object CopyObject reads from.
	SourceBucket string
	SourceKey    string

	List lifecycle.ListOptions
}

func (op Operation) resource() string {
	switch {
	case op.Bucket == "":
		return "/"
	case op.Key == "":
		return "/" + op.Bucket
	default:
		return "/" + op.Bucket + "/" + op.Key
	}
}

// Result carries the outcome of an Operation. Which fields are set depends
// on the verb.
type Result struct {
	Bucket  catalog.BucketRecord
	Buckets []catalog.BucketRecord
	Object  catalog.ObjectRecord
	Body    []byte
	Listing lifecycle.ListResult
}

// Manager is the subset of *lifecycle.Manager the gateway dispatches to.
type Manager interface {
	CreateBucket(ctx context.Context, name string, owner string) (catalog.BucketRecord, error)
	GetBucket(ctx context.Context, name string) (catalog.BucketRecord, error)
	ListBuckets(ctx context.Context, owner string) ([]catalog.BucketRecord, error)
	DeleteBucket(ctx context.Context, name string) error
	PutObject(ctx context.Context, bucket string, key string, data []byte, contentType string) (catalog.ObjectRecord, error)
	GetObject(ctx context.Context, bucket string, key string) (catalog.ObjectRecord, []byte, error)
	HeadObject(ctx context.Context, bucket string, key string) (catalog.ObjectRecord, error)
	ListObjects(ctx context.Context, bucket string, opts lifecycle.ListOptions) (lifecycle.ListResult, error)
	DeleteObject(ctx context.Context, bucket string, key string) error
	CopyObject(ctx context.Context, srcBucket string, srcKey string, dstBucket string, dstKey string) (catalog.ObjectRecord, error)
}

type Gateway struct {
	manager Manager
}

func New(manager Manager) *Gateway {
	return &Gateway{manager: manager}
}

// Do executes op. Every failure is returned as *Error.
func (g *Gateway) Do(ctx context.Context, op Operation) (Result, error) {
	res, err := g.dispatch(ctx, op)
	if err != nil {
		return Result{}, &Error{
			Kind:     classify(err),
			Op:       op.Verb,
			Resource: op.resource(),
			Err:      err,
		}
	}
	return res, nil
}

func (g *Gateway) dispatch(ctx context.Context, op Operation) (Result, error) {
	var (
		res Result
		err error
	)

	switch op.Verb {
	case CreateBucket:
		res.Bucket, err = g.manager.CreateBucket(ctx, op.Bucket, op.Owner)
	case GetBucket:
		res.Bucket, err = g.manager.GetBucket(ctx, op.Bucket)
	case ListBuckets:
		res.Buckets, err = g.manager.ListBuckets(ctx, op.Owner)
	case DeleteBucket:
		err = g.manager.DeleteBucket(ctx, op.Bucket)
	case PutObject:
		res.Object, err = g.manager.PutObject(ctx, op.Bucket, op.Key, op.Body, op.ContentType)
	case GetObject:
		res.Object, res.Body, err = g.manager.GetObject(ctx, op.Bucket, op.Key)
	case HeadObject:
		res.Object, err = g.manager.HeadObject(ctx, op.Bucket, op.Key)
	case ListObjects:
		res.Listing, err = g.manager.ListObjects(ctx, op.Bucket, op.List)
	case DeleteObject:
		err = g.manager.DeleteObject(ctx, op.Bucket, op.Key)
	case CopyObject:
		if op.SourceBucket == "" || op.SourceKey == "" {
			return Result{}, fmt.Errorf("%w: copy source is required", errInvalidOperation)
		}
		res.Object, err = g.manager.CopyObject(ctx, op.SourceBucket, op.SourceKey, op.Bucket, op.Key)
	default:
		return Result{}, fmt.Errorf("%w: unknown verb %q", errInvalidOperation, op.Verb)
	}

	if err != nil {
		return Result{}, err
	}
	return res, nil
}
