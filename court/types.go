// CLAUDE:SUMMARY Domain types for the case-status pipeline: CaseQuery, CaseRecord, RetrievalResult, HistoryEntry.
// Package court defines the domain model shared by the retrieval pipeline:
// queries, extracted case records, typed retrieval outcomes, and history
// entries. It carries no behaviour beyond validation; the pipeline packages
// (session, captcha, record, retrieval, history) all depend on it and never
// on each other's internals.
package court

import (
	"fmt"
	"time"
)

// CaseTypes is the set of case-type codes the portal's search form accepts.
// The portal rejects anything outside this list server-side; validating here
// avoids burning a browser session on a query that cannot succeed.
var CaseTypes = map[string]bool{
	"ARB.P.":      true,
	"BAIL APPLN.": true,
	"CM(M)":       true,
	"CO.PET.":     true,
	"CRL.A.":      true,
	"CRL.M.C.":    true,
	"CRL.REV.P.":  true,
	"CS(COMM)":    true,
	"CS(OS)":      true,
	"FAO":         true,
	"LPA":         true,
	"MAC.APP.":    true,
	"MAT.APP.":    true,
	"RFA":         true,
	"W.P.(C)":     true,
	"W.P.(CRL)":   true,
}

// minFilingYear is the first year the portal's year dropdown offers.
const minFilingYear = 1951

// CaseQuery identifies one lookup attempt against the portal. Immutable
// once constructed; the same query may be repeated.
type CaseQuery struct {
	CaseType   string `json:"case_type"`
	CaseNumber int    `json:"case_number"`
	FilingYear int    `json:"filing_year"`
}

// Validate checks that all fields are in range for the portal's form.
// The session driver assumes a validated query and does not coerce.
func (q CaseQuery) Validate() error {
	if !CaseTypes[q.CaseType] {
		return fmt.Errorf("%w: unknown case type %q", ErrInvalidQuery, q.CaseType)
	}
	if q.CaseNumber <= 0 {
		return fmt.Errorf("%w: case number must be positive, got %d", ErrInvalidQuery, q.CaseNumber)
	}
	if q.FilingYear < minFilingYear || q.FilingYear > time.Now().Year() {
		return fmt.Errorf("%w: filing year %d out of range", ErrInvalidQuery, q.FilingYear)
	}
	return nil
}

// String renders the query the way the portal displays case identifiers.
func (q CaseQuery) String() string {
	return fmt.Sprintf("%s %d/%d", q.CaseType, q.CaseNumber, q.FilingYear)
}

// Document is one downloadable order/judgment attached to a case record.
// Ref is a stable reference (portal-relative URL path); turning it into a
// fetchable link is the serving layer's job.
type Document struct {
	Label string `json:"label"`
	Ref   string `json:"ref"`
}

// CaseRecord is the structured form of a successful result page. Only the
// record extractor constructs one, and only on the success path — a partial
// or half-parsed record is never exposed.
type CaseRecord struct {
	Parties         []string   `json:"parties"`
	FilingDate      string     `json:"filing_date,omitempty"`       // ISO 2006-01-02
	NextHearingDate string     `json:"next_hearing_date,omitempty"` // ISO, "" = not scheduled
	Status          string     `json:"status"`
	Documents       []Document `json:"documents,omitempty"`
}

// Outcome tags a RetrievalResult.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeNotFound      Outcome = "not_found"
	OutcomeCaptchaFailed Outcome = "captcha_failed"
	OutcomePortalError   Outcome = "portal_error"
	OutcomeInvalidQuery  Outcome = "invalid_query"
)

// RetrievalResult is the only value the pipeline returns to callers and the
// only value written to history. Record is non-nil iff Outcome is Success.
type RetrievalResult struct {
	Outcome Outcome     `json:"outcome"`
	Record  *CaseRecord `json:"record,omitempty"`
	Detail  string      `json:"detail,omitempty"`
}

// HistoryEntry is one appended query/result pair. Entries are never mutated
// or deleted; display order is SequenceID descending.
type HistoryEntry struct {
	SequenceID int64           `json:"sequence_id"`
	Query      CaseQuery       `json:"query"`
	Result     RetrievalResult `json:"result"`
	Excerpt    string          `json:"excerpt,omitempty"` // markdown rendition of the result fragment
	ExecutedAt time.Time       `json:"executed_at"`
}
