// CLAUDE:SUMMARY Opens per-query portal sessions: stealth page, navigation, form readiness check.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/stealth"

	"github.com/hazyhaar/greffe/court"
)

// DriverConfig configures the portal session driver.
type DriverConfig struct {
	// SearchURL is the portal's case-status search page.
	SearchURL string

	// NavTimeout bounds navigation and form readiness. Default: 30s.
	NavTimeout time.Duration

	// SubmitTimeout bounds form submission and the AJAX round-trip.
	// Default: 20s.
	SubmitTimeout time.Duration

	Logger *slog.Logger
}

func (c *DriverConfig) defaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 20 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Driver opens portal sessions on a managed browser. One Open call yields
// one exclusively-owned Session.
type Driver struct {
	mgr *Manager
	cfg DriverConfig
}

// NewDriver creates a Driver on the given browser manager.
func NewDriver(mgr *Manager, cfg DriverConfig) *Driver {
	cfg.defaults()
	return &Driver{mgr: mgr, cfg: cfg}
}

// Open starts a fresh portal session: a stealth page navigated to the
// search form, verified ready for input. Navigation or load failures map to
// court.ErrPortalUnreachable; a loaded page without the expected form maps
// to court.ErrPortalFormChanged. The page is closed on every error path.
func (d *Driver) Open(ctx context.Context) (*Session, error) {
	b := d.mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("%w: no active browser", court.ErrPortalUnreachable)
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("%w: create page: %v", court.ErrPortalUnreachable, err)
	}

	navCtx, cancel := context.WithTimeout(ctx, d.cfg.NavTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(d.cfg.SearchURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("%w: navigate %s: %v", court.ErrPortalUnreachable, d.cfg.SearchURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		page.Close()
		return nil, fmt.Errorf("%w: load %s: %v", court.ErrPortalUnreachable, d.cfg.SearchURL, err)
	}

	// The page loaded; from here a missing form element means the portal
	// changed its markup, not that it is down.
	formCtx, cancelForm := context.WithTimeout(ctx, d.cfg.NavTimeout)
	defer cancelForm()
	if _, err := page.Context(formCtx).Element("#case_type"); err != nil {
		page.Close()
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: search form not found on %s", court.ErrPortalFormChanged, d.cfg.SearchURL)
	}

	d.cfg.Logger.Debug("session: opened", "url", d.cfg.SearchURL)

	return &Session{
		page:          page,
		submitTimeout: d.cfg.SubmitTimeout,
		logger:        d.cfg.Logger,
	}, nil
}
