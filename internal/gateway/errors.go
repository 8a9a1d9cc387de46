package gateway

import (
	"errors"
	"fmt"

	"github.com/eteran/cellar/internal/lifecycle"
)

// Kind is an externally visible error class. A protocol adapter maps each
// kind onto its own status codes.
type Kind int

const (
	KindInternal Kind = iota
	KindAlreadyExists
	KindAlreadyOwnedByYou
	KindNoSuchBucket
	KindNoSuchKey
	KindBucketNotEmpty
	KindInvalidBucketName
	KindInvalidObjectName
	KindEntityTooLarge
	KindInvalidRequest
	KindInternalConsistencyFault
)

var kindNames = map[Kind]string{
	KindInternal:                 "InternalError",
	KindAlreadyExists:            "BucketAlreadyExists",
	KindAlreadyOwnedByYou:        "BucketAlreadyOwnedByYou",
	KindNoSuchBucket:             "NoSuchBucket",
	KindNoSuchKey:                "NoSuchKey",
	KindBucketNotEmpty:           "BucketNotEmpty",
	KindInvalidBucketName:        "InvalidBucketName",
	KindInvalidObjectName:        "InvalidObjectName",
	KindEntityTooLarge:           "EntityTooLarge",
	KindInvalidRequest:           "InvalidRequest",
	KindInternalConsistencyFault: "InternalConsistencyFault",
}

// String returns the S3 error code for k.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the only error type Do returns.
type Error struct {
	Kind     Kind
	Op       Verb
	Resource string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Resource, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AlreadyExists reports whether the bucket name was taken, by anyone.
func (e *Error) AlreadyExists() bool {
	return e.Kind == KindAlreadyExists || e.Kind == KindAlreadyOwnedByYou
}

// KindOf returns the kind of err, or KindInternal when err did not come
// from a Gateway.
func KindOf(err error) Kind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return KindInternal
}

func classify(err error) Kind {
	var fault *lifecycle.ConsistencyFault

	switch {
	case errors.As(err, &fault):
		return KindInternalConsistencyFault
	case errors.Is(err, lifecycle.ErrAlreadyOwnedByYou):
		return KindAlreadyOwnedByYou
	case errors.Is(err, lifecycle.ErrAlreadyExists):
		return KindAlreadyExists
	case errors.Is(err, lifecycle.ErrNoSuchBucket):
		return KindNoSuchBucket
	case errors.Is(err, lifecycle.ErrNoSuchKey):
		return KindNoSuchKey
	case errors.Is(err, lifecycle.ErrBucketNotEmpty):
		return KindBucketNotEmpty
	case errors.Is(err, lifecycle.ErrInvalidBucketName):
		return KindInvalidBucketName
	case errors.Is(err, lifecycle.ErrInvalidObjectName):
		return KindInvalidObjectName
	case errors.Is(err, lifecycle.ErrEntityTooLarge):
		return KindEntityTooLarge
	case errors.Is(err, errInvalidOperation):
		return KindInvalidRequest
	default:
		return KindInternal
	}
}
