package retrieval_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/greffe/captcha"
	"github.com/hazyhaar/greffe/court"
	"github.com/hazyhaar/greffe/record"
	"github.com/hazyhaar/greffe/retrieval"
)

const plainFormPage = `<html><body><form>
<select id="case_type"></select><input id="case_number"><select id="case_year"></select>
<button id="search">Search</button>
</form></body></html>`

const captchaFormPage = `<html><body><form>
<select id="case_type"></select><input id="case_number"><select id="case_year"></select>
<span id="captcha-code">482913</span><input id="captchaInput">
<button id="search">Search</button>
</form></body></html>`

const resultPage = `<html><body>
<table id="caseTable"><tbody><tr>
<td>1</td>
<td>CRL.A. 1234/2024 [PENDING] <a href="/orders/o1.pdf">Orders</a></td>
<td>STATE Vs. KUMAR</td>
<td>15/03/2024</td>
</tr></tbody></table>
</body></html>`

const noRecordResultPage = `<html><body>
<table id="caseTable"><tbody><tr><td colspan="4">No data available in table</td></tr></tbody></table>
</body></html>`

var validQuery = court.CaseQuery{CaseType: "CRL.A.", CaseNumber: 1234, FilingYear: 2024}

// fakeSession scripts one portal conversation.
type fakeSession struct {
	page     string
	submit   func(q court.CaseQuery, sol *captcha.Solution) (string, error)
	submits  *atomic.Int32
	captures *atomic.Int32
	closed   atomic.Bool
}

func (f *fakeSession) PageHTML(context.Context) (string, error) { return f.page, nil }

func (f *fakeSession) CaptureChallenge(_ context.Context, ch *captcha.Challenge) error {
	if f.captures != nil {
		f.captures.Add(1)
	}
	return nil
}

func (f *fakeSession) Submit(_ context.Context, q court.CaseQuery, sol *captcha.Solution) (string, error) {
	if f.submits != nil {
		f.submits.Add(1)
	}
	return f.submit(q, sol)
}

func (f *fakeSession) Close() error {
	f.closed.Store(true)
	return nil
}

// fakeDriver opens scripted sessions and tracks concurrency.
type fakeDriver struct {
	opens       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	open        func(ctx context.Context) (retrieval.Session, error)
}

func (f *fakeDriver) Open(ctx context.Context) (retrieval.Session, error) {
	f.opens.Add(1)
	cur := f.inFlight.Add(1)
	for {
		max := f.maxInFlight.Load()
		if cur <= max || f.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}
	return f.open(ctx)
}

func (f *fakeDriver) release() { f.inFlight.Add(-1) }

// memHistory records appends in memory.
type memHistory struct {
	mu      sync.Mutex
	entries []struct {
		q   court.CaseQuery
		r   court.RetrievalResult
		raw string
	}
}

func (m *memHistory) Append(_ context.Context, q court.CaseQuery, r court.RetrievalResult, raw string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, struct {
		q   court.CaseQuery
		r   court.RetrievalResult
		raw string
	}{q, r, raw})
	return nil
}

func (m *memHistory) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// stubResolver scripts detect/resolve with counters.
type stubResolver struct {
	confidence float64
	resolveErr error
	resolves   atomic.Int32
}

func (s *stubResolver) Detect(pageHTML string) *captcha.Challenge {
	return captcha.Detect(pageHTML)
}

func (s *stubResolver) Resolve(_ context.Context, ch *captcha.Challenge) (captcha.Solution, error) {
	s.resolves.Add(1)
	if s.resolveErr != nil {
		return captcha.Solution{}, s.resolveErr
	}
	return captcha.Solution{Code: ch.Code, Confidence: s.confidence, Source: captcha.SourceAutomatic}, nil
}

func testConfig() retrieval.Config {
	return retrieval.Config{
		CaptchaRetries: 3,
		NavRetries:     -1, // no extra navigation attempts
		NavBackoff:     time.Millisecond,
		MaxSessions:    2,
	}
}

func TestSubmitSuccessNoCaptcha(t *testing.T) {
	hist := &memHistory{}
	drv := &fakeDriver{}
	drv.open = func(context.Context) (retrieval.Session, error) {
		defer drv.release()
		return &fakeSession{
			page:   plainFormPage,
			submit: func(court.CaseQuery, *captcha.Solution) (string, error) { return resultPage, nil },
		}, nil
	}

	svc := retrieval.New(drv, captcha.NewResolver(), record.New(), hist, testConfig())
	res, err := svc.Submit(context.Background(), validQuery)
	if err != nil {
		t.Fatal(err)
	}

	if res.Outcome != court.OutcomeSuccess {
		t.Fatalf("outcome = %q (detail %q)", res.Outcome, res.Detail)
	}
	if res.Record == nil || len(res.Record.Parties) != 2 {
		t.Fatalf("record = %+v", res.Record)
	}
	if res.Record.NextHearingDate != "2024-03-15" {
		t.Fatalf("hearing date = %q", res.Record.NextHearingDate)
	}
	if len(res.Record.Documents) != 1 {
		t.Fatalf("documents = %v", res.Record.Documents)
	}
	if hist.len() != 1 {
		t.Fatalf("history entries = %d, want 1", hist.len())
	}
	if hist.entries[0].q != validQuery || hist.entries[0].r.Outcome != court.OutcomeSuccess {
		t.Fatalf("history entry = %+v", hist.entries[0])
	}
	if !strings.Contains(hist.entries[0].raw, "caseTable") {
		t.Fatal("history entry missing raw page")
	}
}

func TestSubmitNotFound(t *testing.T) {
	hist := &memHistory{}
	drv := &fakeDriver{}
	drv.open = func(context.Context) (retrieval.Session, error) {
		defer drv.release()
		return &fakeSession{
			page:   plainFormPage,
			submit: func(court.CaseQuery, *captcha.Solution) (string, error) { return noRecordResultPage, nil },
		}, nil
	}

	svc := retrieval.New(drv, captcha.NewResolver(), record.New(), hist, testConfig())
	res, err := svc.Submit(context.Background(), validQuery)
	if err != nil {
		t.Fatal(err)
	}

	if res.Outcome != court.OutcomeNotFound {
		t.Fatalf("outcome = %q", res.Outcome)
	}
	if res.Record != nil {
		t.Fatal("no CaseRecord may be constructed for NotFound")
	}
	if hist.len() != 1 {
		t.Fatalf("history entries = %d, want 1", hist.len())
	}
}

func TestInvalidQueryOpensNothing(t *testing.T) {
	hist := &memHistory{}
	drv := &fakeDriver{}
	drv.open = func(context.Context) (retrieval.Session, error) {
		defer drv.release()
		t.Error("driver must not be called for an invalid query")
		return nil, errors.New("unreachable")
	}

	svc := retrieval.New(drv, captcha.NewResolver(), record.New(), hist, testConfig())
	res, err := svc.Submit(context.Background(), court.CaseQuery{CaseType: "CRL.A.", CaseNumber: -1, FilingYear: 2024})
	if err != nil {
		t.Fatal(err)
	}

	if res.Outcome != court.OutcomeInvalidQuery {
		t.Fatalf("outcome = %q", res.Outcome)
	}
	if drv.opens.Load() != 0 {
		t.Fatalf("sessions opened = %d, want 0", drv.opens.Load())
	}
	if hist.len() != 0 {
		t.Fatalf("history entries = %d, want 0", hist.len())
	}
}

func TestCaptchaRetryBudget(t *testing.T) {
	hist := &memHistory{}
	var submits atomic.Int32
	drv := &fakeDriver{}
	drv.open = func(context.Context) (retrieval.Session, error) {
		defer drv.release()
		return &fakeSession{
			page:    captchaFormPage,
			submits: &submits,
			submit: func(court.CaseQuery, *captcha.Solution) (string, error) {
				return "", court.ErrCaptchaRejected
			},
		}, nil
	}

	svc := retrieval.New(drv, captcha.NewResolver(), record.New(), hist, testConfig())
	res, err := svc.Submit(context.Background(), validQuery)
	if err != nil {
		t.Fatal(err)
	}

	if res.Outcome != court.OutcomeCaptchaFailed {
		t.Fatalf("outcome = %q", res.Outcome)
	}
	if submits.Load() != 3 {
		t.Fatalf("submits = %d, want exactly 3", submits.Load())
	}
	if drv.opens.Load() != 3 {
		t.Fatalf("opens = %d, want 3 (fresh session per attempt)", drv.opens.Load())
	}
	if hist.len() != 1 {
		t.Fatalf("history entries = %d, want 1", hist.len())
	}
}

func TestCaptchaAcceptedFirstAttempt(t *testing.T) {
	hist := &memHistory{}
	auto := &stubResolver{confidence: 0.95}
	var submits atomic.Int32
	drv := &fakeDriver{}
	drv.open = func(context.Context) (retrieval.Session, error) {
		defer drv.release()
		return &fakeSession{
			page:    captchaFormPage,
			submits: &submits,
			submit: func(_ court.CaseQuery, sol *captcha.Solution) (string, error) {
				if sol == nil || sol.Code != "482913" {
					t.Errorf("submitted solution = %+v", sol)
				}
				return resultPage, nil
			},
		}, nil
	}

	svc := retrieval.New(drv, auto, record.New(), hist, testConfig())
	res, err := svc.Submit(context.Background(), validQuery)
	if err != nil {
		t.Fatal(err)
	}

	if res.Outcome != court.OutcomeSuccess {
		t.Fatalf("outcome = %q (detail %q)", res.Outcome, res.Detail)
	}
	if drv.opens.Load() != 1 {
		t.Fatalf("opens = %d, want 1", drv.opens.Load())
	}
	if auto.resolves.Load() != 1 {
		t.Fatalf("resolves = %d, want 1", auto.resolves.Load())
	}
	if submits.Load() != 1 {
		t.Fatalf("submits = %d, want 1", submits.Load())
	}
}

func TestLowConfidenceEscalatesAfterOneRejection(t *testing.T) {
	hist := &memHistory{}
	low := &stubResolver{confidence: 0.3}
	var submits atomic.Int32
	drv := &fakeDriver{}
	drv.open = func(context.Context) (retrieval.Session, error) {
		defer drv.release()
		return &fakeSession{
			page:    captchaFormPage,
			submits: &submits,
			submit: func(court.CaseQuery, *captcha.Solution) (string, error) {
				return "", court.ErrCaptchaRejected
			},
		}, nil
	}

	svc := retrieval.New(drv, low, record.New(), hist, testConfig())
	res, err := svc.Submit(context.Background(), validQuery)
	if err != nil {
		t.Fatal(err)
	}

	if res.Outcome != court.OutcomeCaptchaFailed {
		t.Fatalf("outcome = %q", res.Outcome)
	}
	if submits.Load() != 1 {
		t.Fatalf("submits = %d, want 1 (low confidence gets one shot)", submits.Load())
	}
}

func TestManualCodeSkipsResolver(t *testing.T) {
	hist := &memHistory{}
	stub := &stubResolver{confidence: 0.95}
	drv := &fakeDriver{}
	drv.open = func(context.Context) (retrieval.Session, error) {
		defer drv.release()
		return &fakeSession{
			page: captchaFormPage,
			submit: func(_ court.CaseQuery, sol *captcha.Solution) (string, error) {
				if sol == nil || sol.Code != "771022" || sol.Source != captcha.SourceManual {
					t.Errorf("submitted solution = %+v", sol)
				}
				return resultPage, nil
			},
		}, nil
	}

	svc := retrieval.New(drv, stub, record.New(), hist, testConfig())
	res, err := svc.Submit(context.Background(), validQuery, retrieval.WithManualCode("771022"))
	if err != nil {
		t.Fatal(err)
	}

	if res.Outcome != court.OutcomeSuccess {
		t.Fatalf("outcome = %q", res.Outcome)
	}
	if stub.resolves.Load() != 0 {
		t.Fatalf("resolves = %d, want 0 for manual code", stub.resolves.Load())
	}
}

func TestFormChangedIsFatal(t *testing.T) {
	hist := &memHistory{}
	drv := &fakeDriver{}
	drv.open = func(context.Context) (retrieval.Session, error) {
		defer drv.release()
		return nil, court.ErrPortalFormChanged
	}

	cfg := testConfig()
	cfg.NavRetries = 3 // must not apply to form drift
	svc := retrieval.New(drv, captcha.NewResolver(), record.New(), hist, cfg)
	res, err := svc.Submit(context.Background(), validQuery)
	if err != nil {
		t.Fatal(err)
	}

	if res.Outcome != court.OutcomePortalError {
		t.Fatalf("outcome = %q", res.Outcome)
	}
	if drv.opens.Load() != 1 {
		t.Fatalf("opens = %d, want 1 (no retry on integration break)", drv.opens.Load())
	}
}

func TestUnreachableRetriesThenPortalError(t *testing.T) {
	hist := &memHistory{}
	drv := &fakeDriver{}
	drv.open = func(context.Context) (retrieval.Session, error) {
		defer drv.release()
		return nil, court.ErrPortalUnreachable
	}

	cfg := testConfig()
	cfg.NavRetries = 2
	svc := retrieval.New(drv, captcha.NewResolver(), record.New(), hist, cfg)
	res, err := svc.Submit(context.Background(), validQuery)
	if err != nil {
		t.Fatal(err)
	}

	if res.Outcome != court.OutcomePortalError {
		t.Fatalf("outcome = %q", res.Outcome)
	}
	if drv.opens.Load() != 3 {
		t.Fatalf("opens = %d, want 3 (initial + 2 retries)", drv.opens.Load())
	}
	if hist.len() != 1 {
		t.Fatalf("history entries = %d, want 1", hist.len())
	}
}

// failingHistory rejects every append.
type failingHistory struct{}

func (failingHistory) Append(context.Context, court.CaseQuery, court.RetrievalResult, string) error {
	return errors.New("history: disk full")
}

func TestHistoryAppendFailureStillReturnsResult(t *testing.T) {
	drv := &fakeDriver{}
	drv.open = func(context.Context) (retrieval.Session, error) {
		defer drv.release()
		return &fakeSession{
			page:   plainFormPage,
			submit: func(court.CaseQuery, *captcha.Solution) (string, error) { return resultPage, nil },
		}, nil
	}

	svc := retrieval.New(drv, captcha.NewResolver(), record.New(), failingHistory{}, testConfig())
	res, err := svc.Submit(context.Background(), validQuery)
	if err != nil {
		t.Fatalf("err = %v, want terminal result despite append failure", err)
	}
	if res.Outcome != court.OutcomeSuccess {
		t.Fatalf("outcome = %q", res.Outcome)
	}
}

func TestCancellationSkipsHistory(t *testing.T) {
	hist := &memHistory{}
	drv := &fakeDriver{}
	drv.open = func(ctx context.Context) (retrieval.Session, error) {
		defer drv.release()
		<-ctx.Done()
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	svc := retrieval.New(drv, captcha.NewResolver(), record.New(), hist, testConfig())
	_, err := svc.Submit(ctx, validQuery)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if hist.len() != 0 {
		t.Fatalf("history entries = %d, want 0 (partial work is not recorded)", hist.len())
	}
}

func TestPoolBoundsConcurrentSessions(t *testing.T) {
	hist := &memHistory{}
	drv := &fakeDriver{}
	drv.open = func(context.Context) (retrieval.Session, error) {
		return &fakeSession{
			page: plainFormPage,
			submit: func(court.CaseQuery, *captcha.Solution) (string, error) {
				time.Sleep(30 * time.Millisecond)
				defer drv.release()
				return resultPage, nil
			},
		}, nil
	}

	cfg := testConfig()
	cfg.MaxSessions = 2
	svc := retrieval.New(drv, captcha.NewResolver(), record.New(), hist, cfg)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Submit(context.Background(), validQuery)
			if err != nil {
				t.Error(err)
				return
			}
			if res.Outcome != court.OutcomeSuccess {
				t.Errorf("outcome = %q", res.Outcome)
			}
		}()
	}
	wg.Wait()

	if max := drv.maxInFlight.Load(); max > 2 {
		t.Fatalf("max concurrent sessions = %d, want <= 2", max)
	}
	if hist.len() != 6 {
		t.Fatalf("history entries = %d, want 6", hist.len())
	}
}
