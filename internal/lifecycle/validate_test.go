package lifecycle

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidBucketName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		bucket string
		valid  bool
	}{
		{name: "simple", bucket: "bucket1", valid: true},
		{name: "dots and dashes", bucket: "my.bucket-name", valid: true},
		{name: "min length", bucket: "a", valid: true},
		{name: "short", bucket: "t1", valid: true},
		{name: "max length", bucket: strings.Repeat("a", 63), valid: true},
		{name: "empty", bucket: ""},
		{name: "too long", bucket: strings.Repeat("a", 64)},
		{name: "uppercase", bucket: "BadBucket"},
		{name: "underscore", bucket: "bad_bucket"},
		{name: "ip address", bucket: "192.168.0.1"},
		{name: "leading dash", bucket: "-bucket"},
		{name: "trailing dot", bucket: "bucket."},
		{name: "double dot", bucket: "my..bucket"},
		{name: "dot dash", bucket: "my.-bucket"},
		{name: "dash dot", bucket: "my-.bucket"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.valid, ValidBucketName(tc.bucket))
		})
	}
}

func TestValidObjectKey(t *testing.T) {
	t.Parallel()

	require.True(t, ValidObjectKey("a"))
	require.True(t, ValidObjectKey("dir/sub dir/ünïcode.txt"))
	require.True(t, ValidObjectKey(strings.Repeat("k", MaxKeyLength)))

	require.False(t, ValidObjectKey(""))
	require.False(t, ValidObjectKey(strings.Repeat("k", MaxKeyLength+1)))
	require.False(t, ValidObjectKey("tab\tkey"))
	require.False(t, ValidObjectKey("del\x7fkey"))
	require.False(t, ValidObjectKey("bad\xffutf8"))
	require.False(t, ValidObjectKey(string([]byte{'k', 0xc3})))
}
