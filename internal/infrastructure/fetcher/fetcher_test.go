package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RecipeAcquisition/internal/clock"
	"RecipeAcquisition/internal/config"
	"RecipeAcquisition/internal/domain"
)

const testPage = `<html><head><title>Pancakes</title></head><body><h1>Pancakes</h1></body></html>`

type auditRecorder struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *auditRecorder) Append(_ context.Context, e domain.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *auditRecorder) all() []domain.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.AuditEntry(nil), a.entries...)
}

// pageTransport records the fake-clock instant at which each non-robots request starts.
type pageTransport struct {
	mu    sync.Mutex
	clock clock.Clock
	base  http.RoundTripper
	fail  map[string]error
	times []time.Time
}

func (p *pageTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	p.mu.Lock()
	if err, ok := p.fail[req.URL.Path]; ok {
		p.mu.Unlock()
		return nil, err
	}
	if req.URL.Path != "/robots.txt" {
		p.times = append(p.times, p.clock.Now())
	}
	p.mu.Unlock()
	return p.base.RoundTrip(req)
}

func (p *pageTransport) started() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.times...)
}

type fixture struct {
	server    *httptest.Server
	clock     *clock.Fake
	transport *pageTransport
	audit     *auditRecorder
	robotHits atomic.Int32
	pageHits  atomic.Int32
}

func newFixture(t *testing.T, robots string, page http.HandlerFunc) *fixture {
	t.Helper()
	fx := &fixture{
		clock: clock.NewFake(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)),
		audit: &auditRecorder{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fx.robotHits.Add(1)
		fmt.Fprint(w, robots)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fx.pageHits.Add(1)
		page(w, r)
	})
	fx.server = httptest.NewServer(mux)
	t.Cleanup(fx.server.Close)
	fx.transport = &pageTransport{clock: fx.clock, base: http.DefaultTransport, fail: map[string]error{}}
	return fx
}

func (fx *fixture) fetcher(opts Options) *Fetcher {
	return New(opts, Deps{
		Client: &http.Client{Transport: fx.transport},
		Clock:  fx.clock,
		Audit:  fx.audit,
	})
}

func defaultOptions() Options {
	return Options{
		UserAgent:       "PansCookbook/1.0",
		HostInterval:    5 * time.Second,
		Timeout:         15 * time.Second,
		RetryCount:      1,
		RetryBackoff:    0,
		MaxPerUser:      3,
		OnLimit:         config.OnLimitQueue,
		MaxQueued:       5,
		RobotsTTL:       time.Hour,
		MaxContentBytes: 1 << 20,
	}
}

func servePage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, testPage)
}

func TestFetchReturnsDocumentAndAudits(t *testing.T) {
	fx := newFixture(t, "User-agent: *\nAllow: /\n", servePage)
	f := fx.fetcher(defaultOptions())

	doc, err := f.Fetch(context.Background(), domain.FetchRequest{URL: fx.server.URL + "/recipes/pancakes#top", RequestedBy: "ana"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, doc.HTTPStatus)
	assert.Equal(t, testPage, string(doc.RawContent))
	assert.Equal(t, fx.server.URL+"/recipes/pancakes", doc.SourceURL)

	entries := fx.audit.all()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.OutcomeFetched, entries[0].Outcome)
	assert.Equal(t, "ana", entries[0].RequestedBy)
	assert.Equal(t, http.StatusOK, entries[0].HTTPStatus)
}

func TestFetchRobotsDisallowed(t *testing.T) {
	fx := newFixture(t, "User-agent: *\nDisallow: /recipes/\n", servePage)
	f := fx.fetcher(defaultOptions())

	doc, err := f.Fetch(context.Background(), domain.FetchRequest{URL: fx.server.URL + "/recipes/pancakes"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRobotsDisallowed))
	assert.Empty(t, doc.RawContent)
	assert.Equal(t, int32(0), fx.pageHits.Load())

	var fe *domain.FetchError
	require.True(t, errors.As(err, &fe))
	assert.NotEmpty(t, fe.Host)

	entries := fx.audit.all()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.CauseBlocked, entries[0].Outcome)

	_, err = f.Fetch(context.Background(), domain.FetchRequest{URL: fx.server.URL + "/about"})
	require.NoError(t, err)
}

func TestFetchSpacesRequestsPerHost(t *testing.T) {
	fx := newFixture(t, "User-agent: *\nAllow: /\n", servePage)
	f := fx.fetcher(defaultOptions())

	_, err := f.Fetch(context.Background(), domain.FetchRequest{URL: fx.server.URL + "/a"})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.Fetch(context.Background(), domain.FetchRequest{URL: fx.server.URL + "/b"})
		done <- err
	}()

	require.True(t, fx.clock.BlockUntil(1, 2*time.Second), "second fetch should wait for the host interval")
	assert.Len(t, fx.transport.started(), 1)

	fx.clock.Advance(5 * time.Second)
	require.NoError(t, <-done)

	times := fx.transport.started()
	require.Len(t, times, 2)
	assert.GreaterOrEqual(t, times[1].Sub(times[0]), 5*time.Second)
}

func TestFetchHonorsLongerCrawlDelay(t *testing.T) {
	fx := newFixture(t, "User-agent: *\nCrawl-delay: 20\n", servePage)
	opts := defaultOptions()
	opts.Timeout = 10 * time.Second
	f := fx.fetcher(opts)

	_, err := f.Fetch(context.Background(), domain.FetchRequest{URL: fx.server.URL + "/a"})
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), domain.FetchRequest{URL: fx.server.URL + "/b"})
	assert.True(t, errors.Is(err, domain.ErrFetchTimeout), "a 20s crawl delay cannot fit in a 10s budget: %v", err)
	assert.Len(t, fx.transport.started(), 1)
}

func TestFetchRetriesServerErrorsOnce(t *testing.T) {
	fx := newFixture(t, "", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	opts := defaultOptions()
	opts.HostInterval = 0
	f := fx.fetcher(opts)

	_, err := f.Fetch(context.Background(), domain.FetchRequest{URL: fx.server.URL + "/r"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNetwork))
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, int32(2), fx.pageHits.Load())
	assert.Len(t, fx.audit.all(), 1)
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	fx := newFixture(t, "", func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})
	opts := defaultOptions()
	opts.HostInterval = 0
	f := fx.fetcher(opts)

	_, err := f.Fetch(context.Background(), domain.FetchRequest{URL: fx.server.URL + "/missing"})
	assert.True(t, errors.Is(err, domain.ErrNetwork))
	assert.Equal(t, int32(1), fx.pageHits.Load())
}

func TestFetchRejectsNonHTML(t *testing.T) {
	fx := newFixture(t, "", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprint(w, "%PDF-1.4")
	})
	f := fx.fetcher(defaultOptions())

	_, err := f.Fetch(context.Background(), domain.FetchRequest{URL: fx.server.URL + "/doc.pdf"})
	assert.True(t, errors.Is(err, domain.ErrNetwork))
	assert.Contains(t, err.Error(), "content type")
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	fx := newFixture(t, "", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	opts := defaultOptions()
	opts.Timeout = 50 * time.Millisecond
	f := fx.fetcher(opts)

	started := time.Now()
	_, err := f.Fetch(context.Background(), domain.FetchRequest{URL: fx.server.URL + "/slow"})
	assert.True(t, errors.Is(err, domain.ErrFetchTimeout), "got %v", err)
	assert.Less(t, time.Since(started), 5*time.Second)
	assert.Equal(t, domain.CauseTimeout, fx.audit.all()[0].Outcome)
}

func TestFetchInvalidURL(t *testing.T) {
	fx := newFixture(t, "", servePage)
	f := fx.fetcher(defaultOptions())

	for _, raw := range []string{"", "ftp://example.com/x", "http://", "::not a url"} {
		_, err := f.Fetch(context.Background(), domain.FetchRequest{URL: raw})
		assert.True(t, errors.Is(err, domain.ErrInvalidURL), "url %q: %v", raw, err)
	}
	entries := fx.audit.all()
	require.Len(t, entries, 4)
	for _, e := range entries {
		assert.Equal(t, domain.CauseInvalidURL, e.Outcome)
	}
}

func TestFetchProceedsWhenRobotsUnreachable(t *testing.T) {
	fx := newFixture(t, "User-agent: *\nDisallow: /\n", servePage)
	fx.transport.fail["/robots.txt"] = errors.New("connection reset")
	f := fx.fetcher(defaultOptions())

	_, err := f.Fetch(context.Background(), domain.FetchRequest{URL: fx.server.URL + "/x"})
	require.NoError(t, err)
	assert.Equal(t, 0, f.Robots().Len(), "an unreachable robots.txt is not cached")
}

func TestRobotsCacheRefreshesAfterTTL(t *testing.T) {
	fx := newFixture(t, "User-agent: *\nAllow: /\n", servePage)
	opts := defaultOptions()
	opts.HostInterval = 0
	f := fx.fetcher(opts)

	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), domain.FetchRequest{URL: fx.server.URL + "/x"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), fx.robotHits.Load())

	fx.clock.Advance(time.Hour)
	assert.Equal(t, 1, f.Robots().Prune())

	_, err := f.Fetch(context.Background(), domain.FetchRequest{URL: fx.server.URL + "/x"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), fx.robotHits.Load())
}

func TestFetchConcurrencyLimitFailFast(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	fx := newFixture(t, "", func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
		servePage(w, r)
	})
	opts := defaultOptions()
	opts.MaxPerUser = 1
	opts.OnLimit = config.OnLimitFail
	f := fx.fetcher(opts)

	done := make(chan error, 1)
	go func() {
		_, err := f.Fetch(context.Background(), domain.FetchRequest{URL: fx.server.URL + "/one", RequestedBy: "ana"})
		done <- err
	}()
	<-entered

	_, err := f.Fetch(context.Background(), domain.FetchRequest{URL: fx.server.URL + "/two", RequestedBy: "ana"})
	assert.True(t, errors.Is(err, domain.ErrConcurrencyLimitExceeded))

	close(release)
	require.NoError(t, <-done)
}

func TestFetchCancelledDiscardsInFlightResult(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	fx := newFixture(t, "", func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
		servePage(w, r)
	})
	f := fx.fetcher(defaultOptions())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.Fetch(ctx, domain.FetchRequest{URL: fx.server.URL + "/x"})
		done <- err
	}()
	<-entered
	cancel()
	close(release)

	err := <-done
	assert.True(t, errors.Is(err, domain.ErrJobCancelled), "got %v", err)
	assert.Equal(t, int32(1), fx.pageHits.Load())
	assert.Equal(t, domain.CauseCancelled, fx.audit.all()[0].Outcome)
}

func TestUserLimiterQueueIsBounded(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	u := NewUserLimiter(1, config.OnLimitQueue, 1, clk)
	deadline := clk.Now().Add(15 * time.Second)

	first, err := u.Acquire(context.Background(), "ana", deadline)
	require.NoError(t, err)

	queued := make(chan error, 1)
	go func() {
		release, err := u.Acquire(context.Background(), "ana", deadline)
		if err == nil {
			release()
		}
		queued <- err
	}()
	require.True(t, clk.BlockUntil(1, 2*time.Second))

	_, err = u.Acquire(context.Background(), "ana", deadline)
	assert.True(t, errors.Is(err, domain.ErrConcurrencyLimitExceeded))

	other, err := u.Acquire(context.Background(), "ben", deadline)
	require.NoError(t, err)
	other()

	first()
	require.NoError(t, <-queued)
	assert.Equal(t, 0, u.inFlight("ana"))
	assert.Equal(t, 2, u.Prune())
}

func TestUserLimiterQueueTimesOut(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	u := NewUserLimiter(1, config.OnLimitQueue, 3, clk)
	deadline := clk.Now().Add(15 * time.Second)

	_, err := u.Acquire(context.Background(), "ana", deadline)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := u.Acquire(context.Background(), "ana", deadline)
		done <- err
	}()
	require.True(t, clk.BlockUntil(1, 2*time.Second))
	clk.Advance(15 * time.Second)
	assert.True(t, errors.Is(<-done, domain.ErrFetchTimeout))
}

func TestHostLimiterPrune(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	h := NewHostLimiter(time.Second, clk)
	require.NoError(t, h.Wait(context.Background(), "a.example", 0, clk.Now().Add(time.Minute)))
	require.NoError(t, h.Wait(context.Background(), "B.example", 0, clk.Now().Add(time.Minute)))
	assert.Equal(t, 2, h.Len())

	clk.Advance(10 * time.Minute)
	assert.Equal(t, 2, h.Prune(5*time.Minute))
	assert.Equal(t, 0, h.Len())
}
