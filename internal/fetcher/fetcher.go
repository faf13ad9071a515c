// Package fetcher downloads feeds and parses them into loosely typed entries.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
	"golang.org/x/net/idna"

	"feedplatform/internal/model"
)

// ErrScheme is returned for URLs whose scheme is not allowed.
var ErrScheme = errors.New("url scheme not allowed")

// StatusError reports an HTTP status the fetcher does not handle.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads and parses feeds.
type Fetcher struct {
	client    HTTPClient
	schemes   []string
	retries   uint64
	retryWait time.Duration
	maxBody   int64
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithSchemes restricts the URL schemes that may be fetched. An empty list
// allows every scheme the client supports.
func WithSchemes(schemes ...string) Option {
	return func(f *Fetcher) { f.schemes = schemes }
}

// WithRetries sets how often transient failures are retried and the
// initial wait between attempts.
func WithRetries(n uint64, wait time.Duration) Option {
	return func(f *Fetcher) {
		f.retries = n
		f.retryWait = wait
	}
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:    client,
		schemes:   []string{"http", "https"},
		retries:   2,
		retryWait: 500 * time.Millisecond,
		maxBody:   5 * 1024 * 1024,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type traceKey struct{}

type redirectTrace struct {
	statuses []int
}

// NewHTTPClient returns a client with the given timeout that records the
// redirect statuses it follows, so Fetch can tell permanent moves apart.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			if tr, ok := req.Context().Value(traceKey{}).(*redirectTrace); ok && req.Response != nil {
				tr.statuses = append(tr.statuses, req.Response.StatusCode)
			}
			return nil
		},
	}
}

// Fetch downloads and parses the feed at rawURL. Transport failures and
// error statuses are returned as errors; documents that cannot be parsed
// are returned as malformed results.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	target, err := f.asciify(rawURL)
	if err != nil {
		return nil, err
	}

	trace := &redirectTrace{}
	ctx = context.WithValue(ctx, traceKey{}, trace)

	var resp *http.Response
	op := func() error {
		trace.statuses = trace.statuses[:0]
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		for k, vs := range opts.Header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		if opts.UserAgent != "" {
			req.Header.Set("User-Agent", opts.UserAgent)
		}
		req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5")

		r, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(fmt.Errorf("http get: %w", err))
			}
			return fmt.Errorf("http get: %w", err)
		}
		if r.StatusCode >= 500 {
			_ = r.Body.Close()
			return &StatusError{Code: r.StatusCode}
		}
		resp = r
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.retryWait
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, f.retries), ctx)); err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	res := &Result{URL: target, Status: resp.StatusCode, Header: resp.Header}
	if resp.Request != nil && resp.Request.URL != nil {
		res.URL = resp.Request.URL.String()
	}
	if permanent(trace.statuses) {
		res.Status = http.StatusMovedPermanently
	}

	switch {
	case resp.StatusCode == http.StatusNotModified:
		res.NotModified = true
		return res, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	f.parse(body, res)
	return res, nil
}

// parse fills res from body. A document that fails to parse is retried
// once after sanitizing; if that works the result is marked malformed.
func (f *Fetcher) parse(body []byte, res *Result) {
	if len(bytes.TrimSpace(body)) == 0 {
		res.Malformed, res.MalformedReason = true, "empty document"
		return
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		res.Malformed, res.MalformedReason = true, err.Error()
		feed, err = gofeed.NewParser().Parse(bytes.NewReader(sanitize(body)))
		if err != nil {
			return
		}
	}
	res.Feed = feedFields(feed)
	res.Entries = make([]*Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		res.Entries = append(res.Entries, entryFrom(item))
	}
}

func (f *Fetcher) asciify(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if len(f.schemes) > 0 && !slices.Contains(f.schemes, strings.ToLower(u.Scheme)) {
		return "", fmt.Errorf("%q: %w", u.Scheme, ErrScheme)
	}
	if host := u.Hostname(); host != "" {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return "", fmt.Errorf("encode host %q: %w", host, err)
		}
		if port := u.Port(); port != "" {
			ascii += ":" + port
		}
		u.Host = ascii
	}
	return u.String(), nil
}

func permanent(statuses []int) bool {
	if len(statuses) == 0 {
		return false
	}
	for _, s := range statuses {
		if s != http.StatusMovedPermanently && s != http.StatusPermanentRedirect {
			return false
		}
	}
	return true
}

func feedFields(feed *gofeed.Feed) model.Fields {
	var f model.Fields
	setString(&f, FieldTitle, feed.Title)
	setString(&f, FieldSubtitle, feed.Description)
	setString(&f, FieldLink, feed.Link)
	setString(&f, FieldLanguage, feed.Language)
	setTime(&f, FieldUpdated, feed.UpdatedParsed)
	setTime(&f, FieldPublished, feed.PublishedParsed)
	if feed.Image != nil {
		setString(&f, FieldImage, feed.Image.URL)
	}
	if feed.Author != nil {
		setString(&f, FieldAuthor, feed.Author.Name)
	}
	setExtra(&f, feed.Custom, feed.Extensions)
	return f
}

func entryFrom(item *gofeed.Item) *Entry {
	var f model.Fields
	setString(&f, FieldID, item.GUID)
	setString(&f, FieldTitle, item.Title)
	setString(&f, FieldSummary, item.Description)
	setString(&f, FieldContent, item.Content)
	setString(&f, FieldLink, item.Link)
	setTime(&f, FieldPublished, item.PublishedParsed)
	setTime(&f, FieldUpdated, item.UpdatedParsed)
	if item.Author != nil {
		setString(&f, FieldAuthor, item.Author.Name)
	}
	if len(item.Categories) > 0 {
		f.Set(FieldCategories, slices.Clone(item.Categories))
	}
	setExtra(&f, item.Custom, item.Extensions)

	e := &Entry{Fields: f}
	for _, enc := range item.Enclosures {
		if enc == nil {
			continue
		}
		length, _ := strconv.ParseInt(strings.TrimSpace(enc.Length), 10, 64)
		e.Enclosures = append(e.Enclosures, Enclosure{Href: enc.URL, Type: enc.Type, Length: length})
	}
	return e
}

// setExtra adds elements gofeed has no field for: unknown plain elements
// under their own name, and namespaced elements with a text value as
// prefix_name. Standard fields are never replaced.
func setExtra(f *model.Fields, custom map[string]string, exts ext.Extensions) {
	for name, v := range custom {
		if !f.Has(name) {
			setString(f, name, v)
		}
	}
	for prefix, elems := range exts {
		for name, list := range elems {
			if len(list) == 0 || len(list[0].Children) > 0 {
				continue
			}
			if key := prefix + "_" + name; !f.Has(key) {
				setString(f, key, list[0].Value)
			}
		}
	}
}

func setString(f *model.Fields, name, v string) {
	if v = strings.TrimSpace(v); v != "" {
		f.Set(name, v)
	}
}

func setTime(f *model.Fields, name string, t *time.Time) {
	if t != nil && !t.IsZero() {
		f.Set(name, t.UTC())
	}
}
