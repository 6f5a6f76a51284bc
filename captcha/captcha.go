// CLAUDE:SUMMARY Challenge resolver: detects the portal CAPTCHA in page HTML and recovers its code.
// Package captcha detects and resolves the portal's CAPTCHA challenge.
//
// The portal renders a short numeric code either as styled text in a
// #captcha-code span or as a fixed-font image, next to a #captchaInput
// field validated server-side via AJAX. Detection is a pure inspection of
// rendered page HTML; resolution recovers the code from the artifact and
// reports a confidence score. Policy — whether a low-confidence solution is
// used, retried, or escalated — stays with the orchestrator.
package captcha

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/greffe/court"
)

// ArtifactKind identifies how the portal rendered the challenge.
type ArtifactKind int

const (
	ArtifactText  ArtifactKind = iota // code present as DOM text
	ArtifactImage                     // code rendered into an image
)

// Challenge is one CAPTCHA artifact, owned by a single session for one
// navigation and discarded after one resolution attempt.
type Challenge struct {
	Kind     ArtifactKind
	Code     string // ArtifactText: code as rendered in the DOM
	ImageURL string // ArtifactImage: src attribute of the challenge image
	Image    []byte // ArtifactImage: PNG bytes, captured by the session driver
	IssuedAt time.Time
}

// Source tags how a solution was produced.
type Source string

const (
	SourceAutomatic Source = "automatic"
	SourceManual    Source = "manual"
)

// Solution is a recovered CAPTCHA code. Confidence is a soft signal in
// [0,1], not a boolean — the orchestrator decides whether to trust it.
type Solution struct {
	Code       string
	Confidence float64
	Source     Source
}

// Manual wraps a user-supplied code as a full-confidence manual solution.
func Manual(code string) Solution {
	return Solution{Code: strings.TrimSpace(code), Confidence: 1, Source: SourceManual}
}

// Detect inspects rendered page HTML and returns the challenge present on
// it, or nil when the page carries none. This is the common non-CAPTCHA
// path and stays cheap: a substring probe runs before any parsing.
func Detect(pageHTML string) *Challenge {
	if !strings.Contains(pageHTML, "captchaInput") {
		return nil
	}

	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return nil
	}
	if findByID(doc, "captchaInput") == nil {
		return nil
	}

	now := time.Now()

	if span := findByID(doc, "captcha-code"); span != nil {
		if code := strings.TrimSpace(textContent(span)); code != "" {
			return &Challenge{Kind: ArtifactText, Code: code, IssuedAt: now}
		}
	}

	if img := findByID(doc, "captcha-image"); img != nil {
		return &Challenge{Kind: ArtifactImage, ImageURL: attr(img, "src"), IssuedAt: now}
	}

	// Input present but neither rendering found — let the resolver surface
	// the format drift instead of guessing here.
	return &Challenge{Kind: ArtifactImage, IssuedAt: now}
}

// Resolver performs automatic recognition over challenge artifacts.
type Resolver struct {
	codeLength int
	logger     *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCodeLength sets the expected glyph count of image challenges.
// Default: 6, the portal's fixed code width.
func WithCodeLength(n int) Option {
	return func(r *Resolver) { r.codeLength = n }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a Resolver with defaults tuned to the portal's
// challenge style: fixed-width numeric code, fixed font, light noise.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{codeLength: 6, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Detect is the method form of the package-level Detect, letting a
// Resolver satisfy interfaces that pair detection with resolution.
func (r *Resolver) Detect(pageHTML string) *Challenge { return Detect(pageHTML) }

// Resolve recovers the plaintext code from a challenge artifact. It returns
// its best-effort solution even below any usable confidence — escalation is
// the orchestrator's call. ErrUnrecognizedChallenge means the artifact does
// not match the portal's known challenge style at all.
func (r *Resolver) Resolve(ctx context.Context, ch *Challenge) (Solution, error) {
	if err := ctx.Err(); err != nil {
		return Solution{}, err
	}
	if ch == nil {
		return Solution{}, fmt.Errorf("%w: nil challenge", court.ErrUnrecognizedChallenge)
	}

	switch ch.Kind {
	case ArtifactText:
		return r.resolveText(ch)
	case ArtifactImage:
		return r.resolveImage(ch)
	default:
		return Solution{}, fmt.Errorf("%w: artifact kind %d", court.ErrUnrecognizedChallenge, ch.Kind)
	}
}

func (r *Resolver) resolveText(ch *Challenge) (Solution, error) {
	code := strings.TrimSpace(ch.Code)
	if code == "" {
		return Solution{}, fmt.Errorf("%w: empty text artifact", court.ErrUnrecognizedChallenge)
	}
	for _, c := range code {
		if (c < '0' || c > '9') && (c < 'A' || c > 'Z') && (c < 'a' || c > 'z') {
			return Solution{}, fmt.Errorf("%w: non-alphanumeric text artifact %q", court.ErrUnrecognizedChallenge, code)
		}
	}

	// DOM text is authoritative; the only residual doubt is an unusual
	// length, which suggests the span held something other than the code.
	conf := 0.99
	if len(code) < 4 || len(code) > 8 {
		conf = 0.5
	}

	r.logger.Debug("captcha: resolved text artifact", "length", len(code), "confidence", conf)
	return Solution{Code: code, Confidence: conf, Source: SourceAutomatic}, nil
}

func (r *Resolver) resolveImage(ch *Challenge) (Solution, error) {
	if len(ch.Image) == 0 {
		return Solution{}, fmt.Errorf("%w: image artifact without bytes", court.ErrUnrecognizedChallenge)
	}

	code, conf, err := recognize(ch.Image, r.codeLength)
	if err != nil {
		return Solution{}, err
	}

	r.logger.Debug("captcha: resolved image artifact", "confidence", conf)
	return Solution{Code: code, Confidence: conf, Source: SourceAutomatic}, nil
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode && attr(n, "id") == id {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
