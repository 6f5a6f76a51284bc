package court

import "errors"

// ErrInvalidQuery is returned for a query with out-of-range fields. Caller
// error — never retried, never written to history.
var ErrInvalidQuery = errors.New("court: invalid query")

// ErrPortalUnreachable is returned when navigation or submission times out
// or fails at the network level. Transient — retried with backoff.
var ErrPortalUnreachable = errors.New("court: portal unreachable")

// ErrPortalFormChanged is returned when the search page loads but the
// expected form elements are absent. Signals the integration is stale;
// never retried.
var ErrPortalFormChanged = errors.New("court: portal form changed")

// ErrCaptchaRejected is returned when the portal reports a wrong CAPTCHA
// code was submitted. Expected transient condition, retried within budget.
var ErrCaptchaRejected = errors.New("court: captcha rejected")

// ErrUnrecognizedChallenge is returned when a CAPTCHA artifact does not
// match the portal's known challenge style.
var ErrUnrecognizedChallenge = errors.New("court: unrecognized challenge format")

// ErrUnparseableResponse is returned when a response page matches neither
// the success template nor the no-record template.
var ErrUnparseableResponse = errors.New("court: unparseable response")

// ErrNoRecord marks the portal's documented "no record" template. A normal
// outcome, not a failure.
var ErrNoRecord = errors.New("court: no record found")
