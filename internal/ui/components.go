// Package ui renders a small read-mostly browser for cellar buckets.
package ui

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/url"
	"strings"

	"github.com/a-h/templ"
)

// Bucket represents a single bucket for display.
type Bucket struct {
	Name         string
	CreationDate string
}

// Object represents a single listing entry within a bucket. Folders are the
// common prefixes of a delimited listing.
type Object struct {
	Key          string
	Size         int64
	LastModified string
	Folder       bool
}

// pageWriter remembers the first write error so markup can be emitted
// without checking every call.
type pageWriter struct {
	w   io.Writer
	err error
}

func (p *pageWriter) raw(s string) {
	if p.err == nil {
		_, p.err = io.WriteString(p.w, s)
	}
}

func (p *pageWriter) text(s string) {
	p.raw(html.EscapeString(s))
}

func (p *pageWriter) printf(format string, args ...any) {
	if p.err == nil {
		_, p.err = fmt.Fprintf(p.w, format, args...)
	}
}

// bucketHref links to a bucket listing at prefix.
func bucketHref(bucket string, prefix string) string {
	u := url.URL{Path: "/bucket/" + bucket + "/" + prefix}
	return u.EscapedPath()
}

// Layout renders a full HTML page with a title and body component.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &pageWriter{w: w}
		p.raw("<!DOCTYPE html><html lang=\"en\">")
		p.raw("<head><meta charset=\"utf-8\">")
		p.raw("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">")
		p.raw("<title>")
		p.text(title)
		p.raw("</title>")
		// Minimal modern CSS framework (Pico.css) via CDN.
		p.raw("<link rel=\"stylesheet\" href=\"https://unpkg.com/@picocss/pico@2/css/pico.min.css\">")
		// HTMX via CDN.
		p.raw("<script src=\"https://unpkg.com/htmx.org@1.9.12\" integrity=\"sha384-srD8tA5lZgUlAXb/DvBy1UG775H8sG8vyXK3w63U1zrtRXkuTDIaTzGvX2UksI0M\" crossorigin=\"anonymous\"></script>")
		p.raw("</head>")
		p.raw("<body hx-boost=\"true\"><main class=\"container\">")
		if p.err != nil {
			return p.err
		}

		if err := body.Render(ctx, w); err != nil {
			return err
		}

		p.raw("</main></body></html>")
		return p.err
	})
}

func createBucketForm(p *pageWriter) {
	p.raw("<form method=\"post\" action=\"/buckets\" hx-post=\"/buckets\" hx-target=\"#create-error\">")
	p.raw("<fieldset role=\"group\"><input name=\"name\" placeholder=\"new-bucket\" required>")
	p.raw("<button type=\"submit\">Create bucket</button></fieldset></form>")
	p.raw("<div id=\"create-error\"></div>")
}

func bucketTable(p *pageWriter, buckets []Bucket, current string) {
	p.raw("<table><thead><tr><th>Name</th><th>Created</th></tr></thead><tbody>")
	for _, b := range buckets {
		if b.Name == current {
			p.raw("<tr aria-current=\"page\">")
		} else {
			p.raw("<tr>")
		}
		p.printf("<td><a href=\"%s\">%s</a></td><td>%s</td></tr>",
			html.EscapeString(bucketHref(b.Name, "")), html.EscapeString(b.Name), html.EscapeString(b.CreationDate))
	}
	p.raw("</tbody></table>")
}

// BucketsPage renders the list of buckets.
func BucketsPage(buckets []Bucket) templ.Component {
	return Layout("Cellar - Buckets", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &pageWriter{w: w}
		p.raw("<section><header><h1>Buckets</h1>")
		p.raw("<p>Browse buckets and objects via the S3-compatible API.</p></header>")
		createBucketForm(p)

		if len(buckets) == 0 {
			p.raw("<p>No buckets found.</p></section>")
			return p.err
		}

		bucketTable(p, buckets, "")
		p.raw("</section>")
		return p.err
	}))
}

// breadcrumbs renders one link per path segment of prefix.
func breadcrumbs(p *pageWriter, bucket string, prefix string) {
	p.raw("<nav aria-label=\"breadcrumb\"><ul>")
	p.printf("<li><a href=\"%s\">%s</a></li>", html.EscapeString(bucketHref(bucket, "")), html.EscapeString(bucket))

	var walked string
	for segment := range strings.SplitSeq(strings.TrimSuffix(prefix, "/"), "/") {
		if segment == "" {
			continue
		}
		walked += segment + "/"
		p.printf("<li><a href=\"%s\">%s</a></li>", html.EscapeString(bucketHref(bucket, walked)), html.EscapeString(segment))
	}
	p.raw("</ul></nav>")
}

// ObjectsPage renders one level of a bucket below prefix, with the bucket
// list alongside.
func ObjectsPage(buckets []Bucket, bucket string, prefix string, objects []Object) templ.Component {
	return Layout("Cellar - "+bucket, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &pageWriter{w: w}
		p.raw("<div class=\"grid\"><aside>")
		bucketTable(p, buckets, bucket)
		p.raw("</aside><section><header>")
		p.printf("<h1>Bucket: %s</h1>", html.EscapeString(bucket))
		breadcrumbs(p, bucket, prefix)
		p.raw("<p><a href=\"/\">&larr; Back to buckets</a></p></header>")

		if len(objects) == 0 {
			p.raw("<p>No objects in this bucket.</p></section></div>")
			return p.err
		}

		p.raw("<table><thead><tr><th>Key</th><th>Size (bytes)</th><th>Last Modified</th></tr></thead><tbody>")
		for _, o := range objects {
			name := strings.TrimPrefix(o.Key, prefix)
			if o.Folder {
				p.printf("<tr><td><a href=\"%s\">%s</a></td><td>-</td><td>-</td></tr>",
					html.EscapeString(bucketHref(bucket, o.Key)), html.EscapeString(name))
				continue
			}
			p.printf("<tr><td>%s</td><td>%d</td><td>%s</td></tr>", html.EscapeString(name), o.Size, html.EscapeString(o.LastModified))
		}
		p.raw("</tbody></table></section></div>")
		return p.err
	}))
}
