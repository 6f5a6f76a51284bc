// CLAUDE:SUMMARY Downloads portal document artifacts (orders, judgments) with size caps and PDF validation.
// Package docfetch retrieves the documents a case record links to. Record
// extraction only stores references; this package turns a reference back
// into bytes on demand, resolving it against the portal origin so a
// relative href from a result page fetches from the right host.
//
// PDFs are structurally validated before being returned. The portal
// occasionally serves an HTML error page under a .pdf reference, and
// passing that downstream corrupts archives silently.
package docfetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var (
	// ErrBadRef means the reference is empty, non-navigational, or does
	// not resolve to an http(s) URL under the portal origin.
	ErrBadRef = errors.New("docfetch: unusable document reference")

	// ErrNotFound means the portal no longer serves the document.
	ErrNotFound = errors.New("docfetch: document not found")

	// ErrTooLarge means the document exceeds the configured byte cap.
	ErrTooLarge = errors.New("docfetch: document exceeds size cap")

	// ErrInvalidDocument means the bytes fail structural validation for
	// their declared type.
	ErrInvalidDocument = errors.New("docfetch: document failed validation")
)

// Document is one fetched portal artifact.
type Document struct {
	Ref         string // the reference as stored on the record
	URL         string // the absolute URL it resolved to
	ContentType string
	Data        []byte
}

// Fetcher downloads documents from the portal. Safe for concurrent use.
type Fetcher struct {
	client   *http.Client
	base     *url.URL
	ua       string
	maxBytes int64
	logger   *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.ua = ua }
}

// WithMaxBytes caps the download size.
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) { f.maxBytes = n }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New creates a Fetcher resolving references against baseURL.
func New(baseURL string, opts ...Option) (*Fetcher, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("docfetch: base url %q: %w", baseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("docfetch: base url %q is not absolute", baseURL)
	}

	f := &Fetcher{
		client:   &http.Client{Timeout: 60 * time.Second},
		base:     base,
		ua:       "Mozilla/5.0 (compatible; Greffe/1.0)",
		maxBytes: 25 << 20,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// Fetch resolves ref against the portal origin, downloads it, and
// validates PDF payloads. The returned Document carries the bytes; the
// caller decides whether to stream, store, or discard them.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (*Document, error) {
	target, err := f.resolve(ref)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("docfetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", "application/pdf,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("docfetch: get %s: %w", target, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("docfetch: get %s: unexpected status %d", target, resp.StatusCode)
	}

	// Read one byte past the cap so overflow is detectable without
	// trusting Content-Length.
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("docfetch: read body: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: %s is over %d bytes", ErrTooLarge, ref, f.maxBytes)
	}

	doc := &Document{
		Ref:         ref,
		URL:         target.String(),
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}

	if isPDF(doc) {
		if err := api.Validate(bytes.NewReader(data), model.NewDefaultConfiguration()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, ref, err)
		}
	}

	f.logger.Debug("docfetch: fetched",
		"ref", ref, "url", doc.URL, "size", len(data), "content_type", doc.ContentType)

	return doc, nil
}

// resolve turns a stored ref into an absolute URL under the portal origin.
// Anything the record extractor would have skipped — blanks, fragments,
// javascript: pseudo-links — is rejected rather than fetched.
func (f *Fetcher) resolve(ref string) (*url.URL, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || ref == "#" || strings.HasPrefix(strings.ToLower(ref), "javascript:") {
		return nil, fmt.Errorf("%w: %q", ErrBadRef, ref)
	}

	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBadRef, ref, err)
	}

	target := f.base.ResolveReference(u)
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q resolves to scheme %q", ErrBadRef, ref, target.Scheme)
	}
	return target, nil
}

// isPDF reports whether the payload should go through PDF validation,
// judged by declared type, reference extension, or the file magic.
func isPDF(doc *Document) bool {
	if strings.Contains(strings.ToLower(doc.ContentType), "application/pdf") {
		return true
	}
	if strings.HasSuffix(strings.ToLower(doc.Ref), ".pdf") {
		return true
	}
	return bytes.HasPrefix(doc.Data, []byte("%PDF-"))
}
