// CLAUDE:SUMMARY Retrieval orchestrator: bounded session pool, collaborator contracts, submit entry point.
// Package retrieval coordinates the session driver, challenge resolver,
// record extractor, and history store into the single entry point exposed
// to serving layers: Submit(CaseQuery) -> RetrievalResult.
//
// The retry/fallback loop is an explicit state machine (see run.go) so the
// retry budgets and terminal conditions stay auditable. Every terminal
// outcome except InvalidQuery is appended exactly once to history before
// being returned; the pipeline never leaks an error past its boundary other
// than caller cancellation.
package retrieval

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/hazyhaar/greffe/captcha"
	"github.com/hazyhaar/greffe/court"
)

// Session is one exclusively-owned portal conversation.
type Session interface {
	PageHTML(ctx context.Context) (string, error)
	CaptureChallenge(ctx context.Context, ch *captcha.Challenge) error
	Submit(ctx context.Context, q court.CaseQuery, sol *captcha.Solution) (string, error)
	Close() error
}

// Driver opens portal sessions.
type Driver interface {
	Open(ctx context.Context) (Session, error)
}

// DriverFunc adapts a function to the Driver interface.
type DriverFunc func(ctx context.Context) (Session, error)

func (f DriverFunc) Open(ctx context.Context) (Session, error) { return f(ctx) }

// Resolver detects and resolves CAPTCHA challenges.
type Resolver interface {
	Detect(pageHTML string) *captcha.Challenge
	Resolve(ctx context.Context, ch *captcha.Challenge) (captcha.Solution, error)
}

// Extractor parses raw result pages into case records.
type Extractor interface {
	Extract(rawHTML string) (*court.CaseRecord, error)
}

// History is the append side of the history store contract. rawPage may be
// empty when no result page was reached.
type History interface {
	Append(ctx context.Context, q court.CaseQuery, r court.RetrievalResult, rawPage string) error
}

// Config holds the orchestrator's policy knobs.
type Config struct {
	// CaptchaRetries is the total number of submission attempts against a
	// rejecting portal. Default: 3.
	CaptchaRetries int

	// NavRetries is the number of extra navigation attempts after a
	// PortalUnreachable failure. Default: 2.
	NavRetries int

	// NavBackoff is the base delay between navigation retries, scaled
	// linearly per retry. Default: 2s.
	NavBackoff time.Duration

	// ConfidenceThreshold is the minimum automatic-solution confidence
	// submitted without escalation arming. Default: 0.7.
	ConfidenceThreshold float64

	// MaxSessions bounds concurrently open portal sessions. Saturated
	// submissions queue on the pool. Default: 2.
	MaxSessions int64

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.CaptchaRetries <= 0 {
		c.CaptchaRetries = 3
	}
	if c.NavRetries < 0 {
		c.NavRetries = 0
	} else if c.NavRetries == 0 {
		c.NavRetries = 2
	}
	if c.NavBackoff <= 0 {
		c.NavBackoff = 2 * time.Second
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.7
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 2
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Service is the retrieval orchestrator. Safe for concurrent use; each
// Submit call owns at most one session at a time, and the pool bounds how
// many run at once so the portal never sees hostile traffic levels.
type Service struct {
	drv  Driver
	res  Resolver
	ext  Extractor
	hist History
	cfg  Config
	pool *semaphore.Weighted
}

// New creates a Service.
func New(drv Driver, res Resolver, ext Extractor, hist History, cfg Config) *Service {
	cfg.defaults()
	return &Service{
		drv:  drv,
		res:  res,
		ext:  ext,
		hist: hist,
		cfg:  cfg,
		pool: semaphore.NewWeighted(cfg.MaxSessions),
	}
}

// SubmitOption customises one Submit call.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	manualCode string
}

// WithManualCode supplies a user-entered CAPTCHA code. It takes precedence
// over automatic resolution and is submitted at full confidence.
func WithManualCode(code string) SubmitOption {
	return func(o *submitOptions) { o.manualCode = code }
}

// Submit runs one retrieval. It returns exactly one RetrievalResult for
// every call; the only non-nil error is caller cancellation, in which case
// no partial work is recorded. Invalid queries terminate before a session
// is opened and are not written to history. A history write failure is
// logged and the terminal result returned regardless.
func (s *Service) Submit(ctx context.Context, q court.CaseQuery, opts ...SubmitOption) (court.RetrievalResult, error) {
	var o submitOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := q.Validate(); err != nil {
		return court.RetrievalResult{Outcome: court.OutcomeInvalidQuery, Detail: err.Error()}, nil
	}

	// Queue on the session pool; saturated callers wait in arrival order
	// rather than spawning sessions past the ceiling.
	if err := s.pool.Acquire(ctx, 1); err != nil {
		return court.RetrievalResult{}, err
	}
	defer s.pool.Release(1)

	log := s.cfg.Logger.With("trace_id", "ret_"+uuid.NewString(), "query", q.String())
	log.Info("retrieval: starting")

	result, rawPage, err := s.run(ctx, q, o, log)
	if err != nil {
		log.Info("retrieval: abandoned before terminal state", "error", err)
		return court.RetrievalResult{}, err
	}

	// The terminal state was reached: record it even if the caller gave up
	// while we were finishing. A failed append loses the audit row, not
	// the result — the caller still gets the terminal outcome.
	if err := s.hist.Append(context.WithoutCancel(ctx), q, result, rawPage); err != nil {
		log.Error("retrieval: history append failed", "error", err)
	}

	log.Info("retrieval: done", "outcome", result.Outcome)
	return result, nil
}
