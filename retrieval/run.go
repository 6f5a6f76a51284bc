// CLAUDE:SUMMARY The retrieval state machine: Navigate → Detect → Resolve → Submit → Parse with bounded retry edges.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/greffe/captcha"
	"github.com/hazyhaar/greffe/court"
)

// state tags the orchestrator's position in one retrieval. The only loop
// edge is Submit(CaptchaRejected) → Navigate with a fresh session, capped
// by Config.CaptchaRetries.
type state int

const (
	stateNavigate state = iota
	stateDetect
	stateResolve
	stateSubmit
	stateParse
)

// run executes the state machine for one query. It returns the terminal
// result plus the raw result page for the history excerpt, or a non-nil
// error only when the caller's context ended before a terminal state.
func (s *Service) run(ctx context.Context, q court.CaseQuery, o submitOptions, log *slog.Logger) (court.RetrievalResult, string, error) {
	var (
		sess    Session
		page    string
		ch      *captcha.Challenge
		sol     *captcha.Solution
		lowConf bool
		raw     string
		attempt int
	)
	defer func() {
		if sess != nil {
			sess.Close()
		}
	}()

	st := stateNavigate
	for {
		if err := ctx.Err(); err != nil {
			return court.RetrievalResult{}, "", err
		}

		switch st {
		case stateNavigate:
			attempt++
			if attempt > s.cfg.CaptchaRetries {
				return terminal(court.OutcomeCaptchaFailed,
					fmt.Sprintf("portal rejected the code %d times", s.cfg.CaptchaRetries)), "", nil
			}

			opened, failed, err := s.openSession(ctx, log)
			if err != nil {
				return court.RetrievalResult{}, "", err
			}
			if failed != nil {
				return *failed, "", nil
			}
			sess = opened
			st = stateDetect

		case stateDetect:
			var err error
			page, err = sess.PageHTML(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return court.RetrievalResult{}, "", ctx.Err()
				}
				return terminal(court.OutcomePortalError, err.Error()), "", nil
			}

			ch = s.res.Detect(page)
			sol, lowConf = nil, false
			if ch == nil {
				log.Debug("retrieval: no challenge on page")
				st = stateSubmit
			} else {
				st = stateResolve
			}

		case stateResolve:
			if o.manualCode != "" {
				m := captcha.Manual(o.manualCode)
				sol = &m
				st = stateSubmit
				continue
			}

			if err := sess.CaptureChallenge(ctx, ch); err != nil {
				if ctx.Err() != nil {
					return court.RetrievalResult{}, "", ctx.Err()
				}
				return terminal(court.OutcomeCaptchaFailed, err.Error()), "", nil
			}

			solved, err := s.res.Resolve(ctx, ch)
			if err != nil {
				if ctx.Err() != nil {
					return court.RetrievalResult{}, "", ctx.Err()
				}
				// An unrecognized artifact means the portal changed its
				// challenge rendering; automatic resolution cannot recover
				// and the caller should fall back to manual entry.
				return terminal(court.OutcomeCaptchaFailed, err.Error()), "", nil
			}
			sol = &solved

			lowConf = solved.Confidence < s.cfg.ConfidenceThreshold
			if lowConf {
				log.Warn("retrieval: submitting low-confidence solution",
					"confidence", solved.Confidence, "threshold", s.cfg.ConfidenceThreshold)
			}
			st = stateSubmit

		case stateSubmit:
			var err error
			raw, err = sess.Submit(ctx, q, sol)
			switch {
			case err == nil:
				st = stateParse

			case errors.Is(err, court.ErrCaptchaRejected):
				sess.Close()
				sess = nil
				if lowConf {
					// The solution was already suspect; one rejection ends
					// the attempt instead of burning the remaining budget.
					return terminal(court.OutcomeCaptchaFailed, "portal rejected a low-confidence code"), "", nil
				}
				log.Info("retrieval: captcha rejected, retrying with fresh session", "attempt", attempt)
				st = stateNavigate

			case errors.Is(err, court.ErrPortalFormChanged):
				// Integration break, not a transient failure.
				return terminal(court.OutcomePortalError, err.Error()), "", nil

			case ctx.Err() != nil:
				return court.RetrievalResult{}, "", ctx.Err()

			default:
				return terminal(court.OutcomePortalError, err.Error()), "", nil
			}

		case stateParse:
			rec, err := s.ext.Extract(raw)
			switch {
			case err == nil:
				return court.RetrievalResult{Outcome: court.OutcomeSuccess, Record: rec}, raw, nil
			case errors.Is(err, court.ErrNoRecord):
				return terminal(court.OutcomeNotFound, ""), raw, nil
			default:
				return terminal(court.OutcomePortalError, err.Error()), raw, nil
			}
		}
	}
}

// openSession opens a fresh portal session, retrying unreachability with
// linear backoff up to the navigation budget. PortalFormChanged is never
// retried. Returns either a session, a terminal result, or a context error.
func (s *Service) openSession(ctx context.Context, log *slog.Logger) (Session, *court.RetrievalResult, error) {
	var lastErr error
	for try := 0; try <= s.cfg.NavRetries; try++ {
		if try > 0 {
			backoff := time.Duration(try) * s.cfg.NavBackoff
			log.Info("retrieval: navigation retry", "try", try, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		sess, err := s.drv.Open(ctx)
		if err == nil {
			return sess, nil, nil
		}
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if errors.Is(err, court.ErrPortalFormChanged) {
			r := terminal(court.OutcomePortalError, err.Error())
			return nil, &r, nil
		}
		lastErr = err
	}

	r := terminal(court.OutcomePortalError, fmt.Sprintf("navigation failed after %d tries: %v", s.cfg.NavRetries+1, lastErr))
	return nil, &r, nil
}

func terminal(o court.Outcome, detail string) court.RetrievalResult {
	return court.RetrievalResult{Outcome: o, Detail: detail}
}
