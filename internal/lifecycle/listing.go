package lifecycle

import (
	"context"
	"strings"

	"github.com/eteran/cellar/internal/catalog"
)

const (
	// MaxListKeys caps the entries returned by one ListObjects call.
	MaxListKeys = 1000

	listPageSize = 1000
)

type ListOptions struct {
	Prefix     string
	Delimiter  string
	StartAfter string
	// MaxKeys bounds objects plus common prefixes; zero or less means
	// MaxListKeys.
	MaxKeys int
}

type ListResult struct {
	Objects        []catalog.ObjectRecord
	CommonPrefixes []string
	IsTruncated    bool
	// NextMarker is the last key or common prefix returned when the result
	// is truncated. Passing it as StartAfter continues the listing.
	NextMarker string
}

// ListObjects returns the objects of bucket in key order. When a delimiter
// is given, keys sharing the segment after Prefix up to the delimiter are
// folded into a single common prefix.
func (m *Manager) ListObjects(ctx context.Context, bucket string, opts ListOptions) (ListResult, error) {
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 || maxKeys > MaxListKeys {
		maxKeys = MaxListKeys
	}

	res := ListResult{
		Objects:        []catalog.ObjectRecord{},
		CommonPrefixes: []string{},
	}

	cursor := opts.StartAfter

	// A marker that is itself a common prefix resumes after everything it
	// folded.
	skip := ""
	if opts.Delimiter != "" && len(cursor) > len(opts.Prefix) &&
		strings.HasPrefix(cursor, opts.Prefix) && strings.HasSuffix(cursor, opts.Delimiter) {
		skip = cursor
	}

	count := 0
	for {
		page, err := m.catalog.ListObjects(ctx, bucket, catalog.ListQuery{
			Prefix:     opts.Prefix,
			StartAfter: cursor,
			Limit:      listPageSize,
		})
		if err != nil {
			return ListResult{}, translate(err)
		}

		for _, rec := range page {
			cursor = rec.Key
			if skip != "" && strings.HasPrefix(rec.Key, skip) {
				continue
			}

			entry, folded := rec.Key, false
			if opts.Delimiter != "" {
				rest := rec.Key[len(opts.Prefix):]
				if i := strings.Index(rest, opts.Delimiter); i >= 0 {
					entry = rec.Key[:len(opts.Prefix)+i+len(opts.Delimiter)]
					folded = true
				}
			}

			if count == maxKeys {
				res.IsTruncated = true
				return res, nil
			}

			if folded {
				res.CommonPrefixes = append(res.CommonPrefixes, entry)
				skip = entry
			} else {
				res.Objects = append(res.Objects, rec)
			}
			res.NextMarker = entry
			count++
		}

		if len(page) < listPageSize {
			res.NextMarker = ""
			return res, nil
		}
	}
}
