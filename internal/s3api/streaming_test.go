package s3api

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeStreamingPayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		limit   int64
		want    string
		wantErr error
		anyErr  bool
	}{
		{
			name:  "signed chunks",
			body:  "3;chunk-signature=aa\r\nabc\r\n2;chunk-signature=bb\r\nde\r\n0;chunk-signature=cc\r\n\r\n",
			limit: 100,
			want:  "abcde",
		},
		{
			name:  "unsigned with trailer",
			body:  "4\r\ndata\r\n0\r\nx-amz-checksum-crc32:AAAAAA==\r\n\r\n",
			limit: 100,
			want:  "data",
		},
		{
			name:    "exceeds limit",
			body:    "5\r\nhello\r\n0\r\n\r\n",
			limit:   4,
			wantErr: errPayloadTooLarge,
		},
		{
			name:   "truncated chunk",
			body:   "a\r\nshort",
			limit:  100,
			anyErr: true,
		},
		{
			name:   "missing final chunk",
			body:   "3\r\nabc\r\n",
			limit:  100,
			anyErr: true,
		},
		{
			name:   "negative size",
			body:   "-1\r\n",
			limit:  100,
			anyErr: true,
		},
		{
			name:   "bad chunk terminator",
			body:   "3\r\nabcX\n0\r\n\r\n",
			limit:  100,
			anyErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			n, err := decodeStreamingPayload(&buf, strings.NewReader(tc.body), int64(len(tc.want)), tc.limit)
			switch {
			case tc.wantErr != nil:
				require.ErrorIs(t, err, tc.wantErr)
			case tc.anyErr:
				require.Error(t, err)
			default:
				require.NoError(t, err)
				require.Equal(t, int64(len(tc.want)), n)
				require.Equal(t, tc.want, buf.String())
			}
		})
	}
}

func TestAccessKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "none", header: "", want: ""},
		{name: "basic", header: "Basic " + "YWxpY2U6c2VjcmV0", want: "alice"},
		{
			name:   "sigv4",
			header: "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20260101/us-east-1/s3/aws4_request, SignedHeaders=host, Signature=abc",
			want:   "AKIDEXAMPLE",
		},
		{name: "garbage basic", header: "Basic !!!", want: ""},
		{name: "unknown scheme", header: "Bearer token", want: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, accessKey(tc.header))
		})
	}
}
