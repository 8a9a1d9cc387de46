package lifecycle

import (
	"errors"
	"fmt"

	"github.com/eteran/cellar/internal/catalog"
	"github.com/eteran/cellar/internal/storage"
)

var (
	ErrNoSuchBucket      = errors.New("no such bucket")
	ErrNoSuchKey         = errors.New("no such key")
	ErrAlreadyExists     = errors.New("bucket already exists")
	ErrBucketNotEmpty    = errors.New("bucket not empty")
	ErrInvalidBucketName = errors.New("invalid bucket name")
	ErrInvalidObjectName = errors.New("invalid object name")
	ErrEntityTooLarge    = errors.New("entity too large")
)

// ErrAlreadyOwnedByYou is returned when the caller re-creates a bucket it
// already owns. It matches ErrAlreadyExists under errors.Is.
var ErrAlreadyOwnedByYou = fmt.Errorf("%w: already owned by you", ErrAlreadyExists)

// ConsistencyFault reports that the catalog and the object store disagree,
// for example a catalog record whose payload is gone. It is never a caller
// error and is never recovered from silently.
type ConsistencyFault struct {
	Bucket string
	Key    string
	Handle storage.Handle
	Err    error
}

func (f *ConsistencyFault) Error() string {
	return fmt.Sprintf("consistency fault on %s/%s (handle %s): %v", f.Bucket, f.Key, f.Handle, f.Err)
}

func (f *ConsistencyFault) Unwrap() error {
	return f.Err
}

// translate maps catalog sentinels onto the errors this package exposes,
// keeping the original in the chain.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, catalog.ErrBucketNotFound):
		return fmt.Errorf("%w: %w", ErrNoSuchBucket, err)
	case errors.Is(err, catalog.ErrObjectNotFound):
		return fmt.Errorf("%w: %w", ErrNoSuchKey, err)
	case errors.Is(err, catalog.ErrBucketNotEmpty):
		return fmt.Errorf("%w: %w", ErrBucketNotEmpty, err)
	case errors.Is(err, catalog.ErrBucketExists):
		return fmt.Errorf("%w: %w", ErrAlreadyExists, err)
	default:
		return err
	}
}
