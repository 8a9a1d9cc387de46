package s3api

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

var errPayloadTooLarge = errors.New("payload too large")

// isStreamingPayload reports whether the body uses the SigV4 aws-chunked
// encoding, signed or unsigned, with or without trailers.
func isStreamingPayload(contentSHA256 string) bool {
	return strings.HasPrefix(strings.ToUpper(contentSHA256), "STREAMING-")
}

// decodeStreamingPayload decodes an AWS Signature Version 4 streaming
// (chunked) payload into dst. Chunk signatures are not verified. Decoding
// stops with errPayloadTooLarge once more than limit bytes would be written.
func decodeStreamingPayload(dst io.Writer, body io.Reader, decodedLen int64, limit int64) (int64, error) {
	br := bufio.NewReader(body)

	var written int64
	buf := make([]byte, 32*1024)

	for {
		// Each chunk begins with: <size-hex>[;extensions]\r\n
		line, err := br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, errors.New("unexpected EOF while reading chunk header")
			}
			return 0, fmt.Errorf("read chunk header: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		// Strip any chunk extensions (e.g. ";chunk-signature=...").
		if idx := strings.IndexByte(line, ';'); idx != -1 {
			line = line[:idx]
		}

		sizeHex := strings.TrimSpace(line)
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return 0, fmt.Errorf("parse chunk size %q: %w", sizeHex, err)
		}
		if size < 0 {
			return 0, fmt.Errorf("negative chunk size %q", sizeHex)
		}

		// The final chunk is followed by optional trailers (checksums,
		// trailer signature), none of which we need.
		if size == 0 {
			break
		}

		if written+size > limit {
			return 0, errPayloadTooLarge
		}

		limited := &io.LimitedReader{R: br, N: size}
		n, err := io.CopyBuffer(dst, limited, buf)
		if err != nil {
			return 0, fmt.Errorf("read chunk body: %w", err)
		}
		if n != size {
			return 0, fmt.Errorf("short read while reading chunk body: expected %d bytes, got %d", size, n)
		}
		written += n

		// Consume the trailing CRLF after the chunk body.
		if b, err := br.ReadByte(); err != nil || b != '\r' {
			if err == nil {
				return 0, fmt.Errorf("expected CR after chunk, got %q", b)
			}
			return 0, fmt.Errorf("read CR after chunk: %w", err)
		}
		if b, err := br.ReadByte(); err != nil || b != '\n' {
			if err == nil {
				return 0, fmt.Errorf("expected LF after chunk, got %q", b)
			}
			return 0, fmt.Errorf("read LF after chunk: %w", err)
		}
	}

	// Some clients omit or misreport the decoded length; what we decoded is
	// authoritative.
	if decodedLen >= 0 && written != decodedLen {
		slog.Debug("Decoded streaming payload length mismatch", "expected", decodedLen, "actual", written)
	}

	return written, nil
}
