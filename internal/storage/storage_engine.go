package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
)

// ErrBlobNotFound is returned when a payload is not present in the store.
var ErrBlobNotFound = errors.New("blob not found")

// Handle is the content handle of a stored payload: the lowercase hex
// encoding of its BLAKE3-256 digest.
type Handle string

// HandleFor computes the content handle for data.
func HandleFor(data []byte) Handle {
	sum := blake3.Sum256(data)
	return Handle(hex.EncodeToString(sum[:]))
}

// Validate reports whether h is well formed.
func (h Handle) Validate() error {
	if len(h) != 64 {
		return fmt.Errorf("invalid handle length: %d", len(h))
	}
	if _, err := hex.DecodeString(string(h)); err != nil {
		return fmt.Errorf("invalid handle %q: %w", string(h), err)
	}
	return nil
}

func (h Handle) String() string {
	return string(h)
}

// Backend defines the raw persistence medium for payloads. Backends know
// nothing about reference counts; Store layers that on top.
type Backend interface {
	// WriteBlob durably stores data under h. It must not return before the
	// payload would survive a crash.
	WriteBlob(ctx context.Context, h Handle, data []byte) error

	// ReadBlob returns the payload stored under h, or ErrBlobNotFound.
	ReadBlob(ctx context.Context, h Handle) ([]byte, error)

	// RemoveBlob deletes the payload stored under h. Removing a missing
	// payload is not an error.
	RemoveBlob(ctx context.Context, h Handle) error

	// ListBlobs returns the handles of every stored payload.
	ListBlobs(ctx context.Context) ([]Handle, error)
}
