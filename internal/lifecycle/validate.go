package lifecycle

import (
	"net"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxKeyLength is the longest object key accepted, in bytes.
const MaxKeyLength = 1024

// bucketNamePattern enforces the character set and length of bucket names:
// 1 to 63 characters, starting and ending with a letter or digit. Short
// names such as "t1" are accepted even though AWS requires three.
var bucketNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9.-]{0,61}[a-z0-9])?$`)

// ValidBucketName reports whether name follows the bucket naming rules.
func ValidBucketName(name string) bool {
	if !bucketNamePattern.MatchString(name) {
		return false
	}

	// Disallow patterns like "..", ".-", "-.".
	if strings.Contains(name, "..") {
		return false
	}

	for i := 1; i < len(name); i++ {
		if (name[i-1] == '.' && name[i] == '-') || (name[i-1] == '-' && name[i] == '.') {
			return false
		}
	}

	// Bucket name must not be formatted as an IPv4 address.
	return net.ParseIP(name) == nil
}

// ValidObjectKey enforces basic S3 object key constraints: non-empty,
// at most MaxKeyLength bytes of valid UTF-8, and no control characters.
func ValidObjectKey(key string) bool {
	if len(key) == 0 || len(key) > MaxKeyLength || !utf8.ValidString(key) {
		return false
	}

	return !strings.ContainsFunc(key, func(c rune) bool {
		return c < 0x20 || c == 0x7f
	})
}
