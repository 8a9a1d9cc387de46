// Package smoke drives a cellar endpoint through a stock S3 client, the way
// an application would.
package smoke

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
)

const (
	BucketName    = "testbucket1"
	ObjectName    = "obj"
	ObjectContent = "TEST"

	OtherBucket     = "testbucket2"
	CopyObjectName  = "some/path/obj-copy"
	ListingPrefix   = "some/"
	ListingExpected = 1
)

// ErrUnexpected reports a response that contradicts the scenario.
var ErrUnexpected = errors.New("unexpected response")

// EnsureBucket checks if a bucket exists, and creates it if it does not.
func EnsureBucket(ctx context.Context, client *minio.Client, bucketName string) error {
	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %q: %w", bucketName, err)
		}
	}
	return nil
}

// UploadObject stores content under objectName.
func UploadObject(ctx context.Context, client *minio.Client, bucketName string, objectName string, content []byte) error {
	_, err := client.PutObject(ctx, bucketName, objectName, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: "text/plain",
	})
	if err != nil {
		return fmt.Errorf("failed to upload object %q to bucket %q: %w", objectName, bucketName, err)
	}

	slog.Info("Uploaded object to bucket", "object", objectName, "bucket", bucketName)
	return nil
}

// DownloadObject reads objectName back in full.
func DownloadObject(ctx context.Context, client *minio.Client, bucketName string, objectName string) ([]byte, error) {
	obj, err := client.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %q from bucket %q: %w", objectName, bucketName, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %q from bucket %q: %w", objectName, bucketName, err)
	}
	return data, nil
}

// ListBucketObjects returns every key in the bucket under prefix.
func ListBucketObjects(ctx context.Context, client *minio.Client, bucketName string, prefix string) ([]string, error) {
	var keys []string
	for objectInfo := range client.ListObjects(ctx, bucketName, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if objectInfo.Err != nil {
			return nil, fmt.Errorf("failed to list objects in bucket %q: %w", bucketName, objectInfo.Err)
		}
		slog.Info("Object in bucket", "bucket", bucketName, "key", objectInfo.Key, "size", objectInfo.Size)
		keys = append(keys, objectInfo.Key)
	}
	return keys, nil
}

func CopyObject(ctx context.Context, client *minio.Client, srcBucket string, srcObject string, destBucket string, destObject string) error {
	copySrc := minio.CopySrcOptions{Bucket: srcBucket, Object: srcObject}
	copyDst := minio.CopyDestOptions{Bucket: destBucket, Object: destObject}
	if _, err := client.CopyObject(ctx, copyDst, copySrc); err != nil {
		return fmt.Errorf("failed to copy object from %q/%q to %q/%q: %w", srcBucket, srcObject, destBucket, destObject, err)
	}
	slog.Info("Copied object", "source_bucket", srcBucket, "source_object", srcObject, "dest_bucket", destBucket, "dest_object", destObject)
	return nil
}

// RemoveObject deletes objectName.
func RemoveObject(ctx context.Context, client *minio.Client, bucketName string, objectName string) error {
	if err := client.RemoveObject(ctx, bucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove object %q from bucket %q: %w", objectName, bucketName, err)
	}
	slog.Info("Removed object", "bucket", bucketName, "object", objectName)
	return nil
}

// expectNoSuchKey checks that reading objectName now fails with NoSuchKey.
func expectNoSuchKey(ctx context.Context, client *minio.Client, bucketName string, objectName string) error {
	obj, err := client.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err == nil {
		defer obj.Close()
		_, err = io.ReadAll(obj)
	}
	if err == nil {
		return fmt.Errorf("%w: object %q still readable after delete", ErrUnexpected, objectName)
	}
	// ToErrorResponse does not unwrap, so err must be the client's own.
	if code := minio.ToErrorResponse(err).Code; code != "NoSuchKey" {
		return fmt.Errorf("%w: expected NoSuchKey for %q, got %q: %w", ErrUnexpected, objectName, code, err)
	}
	return nil
}

// Run executes the basic lifecycle: create a bucket, put an object, read it
// back, delete it and confirm it is gone.
func Run(ctx context.Context, client *minio.Client) error {
	// 1. Create the bucket.
	if err := EnsureBucket(ctx, client, BucketName); err != nil {
		return fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	// 2. Upload the object.
	if err := UploadObject(ctx, client, BucketName, ObjectName, []byte(ObjectContent)); err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}

	// 3. Read it back.
	data, err := DownloadObject(ctx, client, BucketName, ObjectName)
	if err != nil {
		return fmt.Errorf("failed to download object: %w", err)
	}
	if string(data) != ObjectContent {
		return fmt.Errorf("%w: read %q, want %q", ErrUnexpected, data, ObjectContent)
	}

	// 4. Delete it.
	if err := RemoveObject(ctx, client, BucketName, ObjectName); err != nil {
		return err
	}

	// 5. It must be gone.
	return expectNoSuchKey(ctx, client, BucketName, ObjectName)
}

// RunExtended runs Run and then exercises copy and listing across buckets.
func RunExtended(ctx context.Context, client *minio.Client) error {
	if err := Run(ctx, client); err != nil {
		return err
	}

	if err := UploadObject(ctx, client, BucketName, ObjectName, []byte(ObjectContent)); err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}

	if err := EnsureBucket(ctx, client, OtherBucket); err != nil {
		return fmt.Errorf("failed to ensure other bucket exists: %w", err)
	}

	if err := CopyObject(ctx, client, BucketName, ObjectName, OtherBucket, CopyObjectName); err != nil {
		return err
	}

	keys, err := ListBucketObjects(ctx, client, OtherBucket, ListingPrefix)
	if err != nil {
		return err
	}
	if len(keys) != ListingExpected || keys[0] != CopyObjectName {
		return fmt.Errorf("%w: listing %q returned %q", ErrUnexpected, ListingPrefix, keys)
	}

	// The copy must survive deletion of its source.
	if err := RemoveObject(ctx, client, BucketName, ObjectName); err != nil {
		return err
	}
	data, err := DownloadObject(ctx, client, OtherBucket, CopyObjectName)
	if err != nil {
		return fmt.Errorf("failed to download copy: %w", err)
	}
	if string(data) != ObjectContent {
		return fmt.Errorf("%w: copy reads %q, want %q", ErrUnexpected, data, ObjectContent)
	}

	return RemoveObject(ctx, client, OtherBucket, CopyObjectName)
}
