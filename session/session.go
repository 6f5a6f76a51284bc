// CLAUDE:SUMMARY One portal session: form fill, CAPTCHA capture, submit, AJAX wait, rejection sniffing.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/greffe/captcha"
	"github.com/hazyhaar/greffe/court"
)

// Session is one exclusively-owned conversation with the portal. It wraps a
// single stealth page positioned on the search form. Not safe for
// concurrent use; the orchestrator never shares one across queries.
type Session struct {
	page          *rod.Page
	submitTimeout time.Duration
	logger        *slog.Logger
	closed        bool
}

// PageHTML returns the session page's current rendered HTML.
func (s *Session) PageHTML(ctx context.Context) (string, error) {
	html, err := s.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("%w: read page: %v", court.ErrPortalUnreachable, err)
	}
	return html, nil
}

// CaptureChallenge fills an image challenge's artifact bytes from the live
// page. Text challenges and already-captured artifacts are left untouched.
func (s *Session) CaptureChallenge(ctx context.Context, ch *captcha.Challenge) error {
	if ch == nil || ch.Kind != captcha.ArtifactImage || len(ch.Image) > 0 {
		return nil
	}

	el, err := s.page.Context(ctx).Element("#captcha-image")
	if err != nil {
		return fmt.Errorf("%w: challenge image not on page", court.ErrUnrecognizedChallenge)
	}
	bin, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return fmt.Errorf("%w: capture challenge image: %v", court.ErrUnrecognizedChallenge, err)
	}
	ch.Image = bin
	return nil
}

// Submit fills the search form with the query (and the CAPTCHA solution
// when one is supplied), submits, waits for the portal's AJAX round-trip,
// and returns the resulting page HTML. The query must already be validated;
// Submit rejects an invalid one with court.ErrInvalidQuery rather than
// coercing. A portal-side "incorrect code" popup maps to
// court.ErrCaptchaRejected.
func (s *Session) Submit(ctx context.Context, q court.CaseQuery, sol *captcha.Solution) (string, error) {
	if err := q.Validate(); err != nil {
		return "", err
	}

	subCtx, cancel := context.WithTimeout(ctx, s.submitTimeout)
	defer cancel()

	code := ""
	if sol != nil {
		code = sol.Code
	}

	res, err := s.page.Context(subCtx).Eval(`(caseType, caseNumber, caseYear, code) => {
		const missing = [];
		const setSelect = (id, value) => {
			const el = document.getElementById(id);
			if (!el) { missing.push(id); return; }
			el.value = value;
			el.dispatchEvent(new Event('change', { bubbles: true }));
		};
		const setInput = (id, value) => {
			const el = document.getElementById(id);
			if (!el) { missing.push(id); return; }
			el.value = value;
			el.dispatchEvent(new Event('input', { bubbles: true }));
		};
		setSelect('case_type', caseType);
		setInput('case_number', caseNumber);
		setSelect('case_year', caseYear);
		if (code !== '') setInput('captchaInput', code);
		return missing.join(',');
	}`, q.CaseType, fmt.Sprintf("%d", q.CaseNumber), fmt.Sprintf("%d", q.FilingYear), code)
	if err != nil {
		return "", s.submitErr("fill form", ctx, err)
	}
	if missing := res.Value.Str(); missing != "" {
		return "", fmt.Errorf("%w: form elements missing: %s", court.ErrPortalFormChanged, missing)
	}

	clicked, err := s.page.Context(subCtx).Eval(`() => {
		const btn = document.getElementById('search');
		if (!btn) return false;
		btn.click();
		return true;
	}`)
	if err != nil {
		return "", s.submitErr("click search", ctx, err)
	}
	if !clicked.Value.Bool() {
		return "", fmt.Errorf("%w: search button missing", court.ErrPortalFormChanged)
	}

	if err := s.waitQuiescent(subCtx); err != nil {
		return "", err
	}

	html, err := s.page.Context(subCtx).HTML()
	if err != nil {
		return "", s.submitErr("read result", ctx, err)
	}

	if captchaRejected(html) {
		s.logger.Debug("session: portal rejected captcha code")
		return "", court.ErrCaptchaRejected
	}

	return html, nil
}

// Close releases the session's page. Safe to call more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.page.Close()
}

// waitQuiescent polls until the portal's AJAX activity settles, then leaves
// a short grace period for DataTable DOM updates.
func (s *Session) waitQuiescent(ctx context.Context) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		res, err := s.page.Context(ctx).Eval(
			`() => document.readyState === 'complete' && (!window.jQuery || jQuery.active === 0)`)
		if err == nil && res.Value.Bool() {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: portal did not settle: %v", court.ErrPortalUnreachable, ctx.Err())
		case <-ticker.C:
		}
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: portal did not settle: %v", court.ErrPortalUnreachable, ctx.Err())
	case <-time.After(500 * time.Millisecond):
	}
	return nil
}

// submitErr maps a browser error to the court taxonomy: caller
// cancellation propagates as-is, everything else (including the submit
// deadline) surfaces as portal unreachability, never an indefinite hang.
func (s *Session) submitErr(op string, parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	return fmt.Errorf("%w: %s: %v", court.ErrPortalUnreachable, op, err)
}
