// CLAUDE:SUMMARY Parses portal result pages into CaseRecord: caseTable rows, key-value fallback, no-record template.
// Package record extracts structured case records from raw portal result
// pages.
//
// The portal renders results into a DataTable (#caseTable) with one row per
// matching case; older detail pages use a key-value table layout instead.
// Extraction recognizes both, plus the documented "no record" template.
// A page matching none of the three signals layout drift and surfaces as
// court.ErrUnparseableResponse.
package record

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/hazyhaar/greffe/court"
)

// portalDateLayouts are the date renderings observed on the portal, most
// common first.
var portalDateLayouts = []string{"02/01/2006", "02-01-2006", "02.01.2006"}

// partyDelimiter is the portal's documented separator between petitioner
// and respondent names.
var partyDelimiter = regexp.MustCompile(`(?i)\s+vs\.?\s+`)

// statusSuffix matches the bracketed status the portal appends to the
// case-number cell, e.g. "CRL.A. 1234/2024 [DISPOSED]".
var statusSuffix = regexp.MustCompile(`\[([^\]]+)\]`)

// noDataMarker is the DataTable empty-result text.
const noDataMarker = "no data available"

// Extractor parses raw result pages. Safe for concurrent use.
type Extractor struct {
	logger *slog.Logger
	strip  *bluemonday.Policy
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		logger: slog.Default(),
		strip:  bluemonday.StrictPolicy(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract parses a result page into a CaseRecord. It returns
// court.ErrNoRecord for the portal's "no record" template (a normal
// outcome) and court.ErrUnparseableResponse when the page matches neither
// template. Extraction is pure: identical input yields identical output.
func (e *Extractor) Extract(rawHTML string) (*court.CaseRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", court.ErrUnparseableResponse, err)
	}

	if table := doc.Find("table#caseTable"); table.Length() > 0 {
		return e.extractCaseTable(table, doc)
	}

	// Older detail layout: key-value rows. Standalone, the layout is only
	// a result when it names the parties; a stray detail block on an
	// otherwise unrecognized page is not one.
	if rec, ok := e.extractKeyValue(doc); ok && len(rec.Parties) > 0 {
		if rec.Status == "" {
			rec.Status = "ACTIVE"
		}
		return rec, nil
	}

	return nil, fmt.Errorf("%w: page matches neither result nor no-record template", court.ErrUnparseableResponse)
}

func (e *Extractor) extractCaseTable(table *goquery.Selection, doc *goquery.Document) (*court.CaseRecord, error) {
	rows := table.Find("tbody tr")
	if rows.Length() == 0 || strings.Contains(strings.ToLower(table.Text()), noDataMarker) {
		return nil, court.ErrNoRecord
	}

	var rec *court.CaseRecord
	rows.EachWithBreak(func(_ int, row *goquery.Selection) bool {
		cells := row.Find("td")
		if cells.Length() < 4 {
			return true // continue: header filler or decorative row
		}

		caseCell := e.text(cells.Eq(1))
		parties := e.parties(e.text(cells.Eq(2)))
		if caseCell == "" || len(parties) == 0 {
			return true
		}

		rec = &court.CaseRecord{
			Parties:         parties,
			NextHearingDate: e.date(e.text(cells.Eq(3))),
			Status:          e.status(caseCell),
			Documents:       e.documents(row),
		}
		return false
	})

	if rec == nil {
		return nil, fmt.Errorf("%w: caseTable rows carry no recognizable cells", court.ErrUnparseableResponse)
	}

	// The DataTable row has no filing date; detail pages embed it in a
	// key-value block below the table.
	if kv, ok := e.extractKeyValue(doc); ok && kv.FilingDate != "" {
		rec.FilingDate = kv.FilingDate
	}

	return rec, nil
}

// extractKeyValue walks two-column table rows of the portal's detail
// layout. Returns ok=false when no recognizable fields are present. The
// record may be partial — the caseTable path borrows just the filing date
// from a detail block that names no parties; the fallback path in Extract
// imposes its own completeness requirements.
func (e *Extractor) extractKeyValue(doc *goquery.Document) (*court.CaseRecord, bool) {
	rec := &court.CaseRecord{}
	found := false

	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td, th")
		if cells.Length() < 2 {
			return
		}
		header := strings.ToLower(e.text(cells.Eq(0)))
		value := e.text(cells.Eq(1))

		switch {
		case strings.Contains(header, "petitioner") || strings.Contains(header, "respondent"):
			if value != "" {
				rec.Parties = append(rec.Parties, e.parties(value)...)
				found = true
			}
		case strings.Contains(header, "filing") || strings.Contains(header, "registration"):
			if d := e.date(value); d != "" {
				rec.FilingDate = d
				found = true
			}
		case strings.Contains(header, "listing") || strings.Contains(header, "hearing"):
			rec.NextHearingDate = e.date(value)
			found = true
		case strings.Contains(header, "status"):
			if value != "" {
				rec.Status = strings.ToUpper(value)
				found = true
			}
		case strings.Contains(header, "order") || strings.Contains(header, "judgment"):
			rec.Documents = append(rec.Documents, e.documents(cells.Eq(1))...)
			found = true
		}
	})

	if !found {
		return nil, false
	}
	return rec, true
}

// parties splits the parties cell on the portal's delimiter and trims each
// name. Stray markup inside the cell is stripped first.
func (e *Extractor) parties(s string) []string {
	var out []string
	for _, p := range partyDelimiter.Split(s, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// status pulls the bracketed status out of the case-number cell.
// Cases without one are listed, i.e. active.
func (e *Extractor) status(caseCell string) string {
	if m := statusSuffix.FindStringSubmatch(caseCell); m != nil {
		return strings.ToUpper(strings.TrimSpace(m[1]))
	}
	return "ACTIVE"
}

// date normalizes a portal date to ISO 2006-01-02. Blank cells and the
// portal's "not scheduled" placeholders map to the absent state.
func (e *Extractor) date(s string) string {
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "", "-", "--", "NA", "N/A", "NOT SCHEDULED":
		return ""
	}
	for _, layout := range portalDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	// Unknown rendering: keep absent rather than guessing a wrong date.
	e.logger.Debug("record: unrecognized date rendering", "value", s)
	return ""
}

// documents extracts (label, ref) pairs from the anchors under sel.
// Entries with a label but no resolvable reference are skipped with a log
// line, not treated as fatal.
func (e *Extractor) documents(sel *goquery.Selection) []court.Document {
	var docs []court.Document
	sel.Find("a").Each(func(_ int, a *goquery.Selection) {
		label := e.text(a)
		href, ok := a.Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" || href == "#" || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			if label != "" {
				e.logger.Info("record: skipping document without resolvable reference", "label", label)
			}
			return
		}
		if label == "" {
			label = "Order"
		}
		docs = append(docs, court.Document{Label: label, Ref: href})
	})
	return docs
}

// text returns the selection's visible text with any embedded markup
// stripped and whitespace collapsed.
func (e *Extractor) text(sel *goquery.Selection) string {
	raw, err := sel.Html()
	if err != nil {
		return strings.TrimSpace(sel.Text())
	}
	clean := html.UnescapeString(e.strip.Sanitize(raw))
	return strings.Join(strings.Fields(clean), " ")
}
