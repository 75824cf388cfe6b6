package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"RecipeAcquisition/internal/clock"
	"RecipeAcquisition/internal/config"
	"RecipeAcquisition/internal/domain"
	"RecipeAcquisition/internal/infrastructure/metrics"
	"RecipeAcquisition/internal/ports"
)

// Options is the network policy applied to every fetch.
type Options struct {
	UserAgent       string
	HostInterval    time.Duration
	Timeout         time.Duration
	RetryCount      int
	RetryBackoff    time.Duration
	MaxPerUser      int
	OnLimit         string
	MaxQueued       int
	RobotsTTL       time.Duration
	MaxContentBytes int64
}

// OptionsFromConfig copies the fetcher section of the application config.
func OptionsFromConfig(cfg config.FetcherConfig) Options {
	return Options{
		UserAgent:       cfg.UserAgent,
		HostInterval:    cfg.HostInterval,
		Timeout:         cfg.Timeout,
		RetryCount:      cfg.RetryCount,
		RetryBackoff:    cfg.RetryBackoff,
		MaxPerUser:      cfg.MaxPerUser,
		OnLimit:         cfg.OnLimit,
		MaxQueued:       cfg.MaxQueued,
		RobotsTTL:       cfg.RobotsTTL,
		MaxContentBytes: cfg.MaxContentBytes,
	}
}

// Deps are the collaborators of a Fetcher. Robots, Hosts and Users are process-wide
// state; nil values are built from Options.
type Deps struct {
	Client  *http.Client
	Clock   clock.Clock
	Robots  *RobotsCache
	Hosts   *HostLimiter
	Users   *UserLimiter
	Audit   ports.AuditLog
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Fetcher retrieves HTML documents while honoring robots.txt, per-host spacing,
// per-user concurrency and a total deadline.
type Fetcher struct {
	opts    Options
	client  *http.Client
	clock   clock.Clock
	robots  *RobotsCache
	hosts   *HostLimiter
	users   *UserLimiter
	audit   ports.AuditLog
	metrics *metrics.Metrics
	logger  *slog.Logger
}

var _ ports.Fetcher = (*Fetcher)(nil)

// New wires a Fetcher.
func New(opts Options, deps Deps) *Fetcher {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	client := deps.Client
	if client == nil {
		client = &http.Client{}
	}
	if opts.MaxContentBytes <= 0 {
		opts.MaxContentBytes = 5 << 20
	}
	robots := deps.Robots
	if robots == nil {
		robots = NewRobotsCache(client, opts.UserAgent, opts.RobotsTTL, clk, deps.Logger)
	}
	hosts := deps.Hosts
	if hosts == nil {
		hosts = NewHostLimiter(opts.HostInterval, clk)
	}
	users := deps.Users
	if users == nil {
		users = NewUserLimiter(opts.MaxPerUser, opts.OnLimit, opts.MaxQueued, clk)
	}
	return &Fetcher{
		opts:    opts,
		client:  client,
		clock:   clk,
		robots:  robots,
		hosts:   hosts,
		users:   users,
		audit:   deps.Audit,
		metrics: deps.Metrics,
		logger:  deps.Logger,
	}
}

// Robots exposes the shared robots cache for maintenance.
func (f *Fetcher) Robots() *RobotsCache { return f.robots }

// Hosts exposes the shared host limiter for maintenance.
func (f *Fetcher) Hosts() *HostLimiter { return f.hosts }

// Users exposes the shared per-user limiter for maintenance.
func (f *Fetcher) Users() *UserLimiter { return f.users }

// Fetch retrieves req.URL. Every call appends exactly one audit entry.
func (f *Fetcher) Fetch(ctx context.Context, req domain.FetchRequest) (domain.ScrapedDocument, error) {
	start := f.clock.Now()
	doc, err := f.fetch(ctx, req, start)
	took := f.clock.Now().Sub(start)

	outcome := domain.Cause(err)
	f.metrics.ObserveFetch(outcome, took)
	f.appendAudit(ctx, req, doc, err, start, took)
	if err != nil {
		f.info("fetch failed", "url", req.URL, "cause", outcome, "error", err)
	} else {
		f.debug("fetch completed", "url", req.URL, "status", doc.HTTPStatus, "bytes", len(doc.RawContent), "took", took)
	}
	return doc, err
}

func (f *Fetcher) fetch(ctx context.Context, req domain.FetchRequest, start time.Time) (domain.ScrapedDocument, error) {
	target, err := parseTarget(req.URL)
	if err != nil {
		return domain.ScrapedDocument{}, domain.NewFetchError(domain.ErrInvalidURL, req.URL, "", err)
	}
	host := target.Host
	fail := func(kind, cause error) (domain.ScrapedDocument, error) {
		return domain.ScrapedDocument{}, domain.NewFetchError(kind, req.URL, host, cause)
	}
	if ctx.Err() != nil {
		return fail(domain.ErrJobCancelled, ctx.Err())
	}

	deadline := start.Add(f.opts.Timeout)

	release, err := f.users.Acquire(ctx, req.RequestedBy, deadline)
	if err != nil {
		return fail(f.classifyWait(ctx, err), err)
	}
	defer release()

	decision, err := f.robots.Check(ctx, target, deadline)
	if err != nil {
		return fail(domain.ErrFetchTimeout, err)
	}
	if !decision.Allowed {
		return fail(domain.ErrRobotsDisallowed, fmt.Errorf("path %s is disallowed for %q", target.EscapedPath(), f.opts.UserAgent))
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := f.hosts.Wait(ctx, host, decision.CrawlDelay, deadline); err != nil {
			if lastErr != nil && errors.Is(err, domain.ErrFetchTimeout) {
				err = fmt.Errorf("%w after: %w", err, lastErr)
			}
			return fail(f.classifyWait(ctx, err), err)
		}

		doc, retryable, err := f.do(ctx, target, deadline)
		if ctx.Err() != nil {
			// The call was allowed to finish; its result is discarded.
			return fail(domain.ErrJobCancelled, ctx.Err())
		}
		if err == nil {
			return doc, nil
		}
		lastErr = err

		var fe *domain.FetchError
		if !retryable || attempt >= f.opts.RetryCount {
			if errors.As(err, &fe) {
				return domain.ScrapedDocument{}, fe
			}
			return fail(domain.ErrNetwork, err)
		}

		backoff := f.opts.RetryBackoff * time.Duration(attempt+1)
		f.debug("retrying fetch", "url", req.URL, "attempt", attempt+1, "backoff", backoff, "error", err)
		if f.clock.Now().Add(backoff).After(deadline) {
			return fail(domain.ErrFetchTimeout, fmt.Errorf("no time left for retry: %w", err))
		}
		if backoff > 0 {
			select {
			case <-f.clock.After(backoff):
			case <-ctx.Done():
				return fail(domain.ErrJobCancelled, ctx.Err())
			}
		}
	}
}

// do performs one HTTP GET. The request is detached from ctx cancellation and bounded by deadline only.
func (f *Fetcher) do(ctx context.Context, target *url.URL, deadline time.Time) (domain.ScrapedDocument, bool, error) {
	host := target.Host
	remaining := deadline.Sub(f.clock.Now())
	if remaining <= 0 {
		return domain.ScrapedDocument{}, false, domain.NewFetchError(domain.ErrFetchTimeout, target.String(), host, nil)
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), remaining)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, target.String(), nil)
	if err != nil {
		return domain.ScrapedDocument{}, false, domain.NewFetchError(domain.ErrInvalidURL, target.String(), host, err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		if isTimeout(callCtx, err) {
			return domain.ScrapedDocument{}, false, domain.NewFetchError(domain.ErrFetchTimeout, target.String(), host, err)
		}
		return domain.ScrapedDocument{}, true, domain.NewFetchError(domain.ErrNetwork, target.String(), host, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return domain.ScrapedDocument{}, true, domain.NewFetchError(domain.ErrNetwork, target.String(), host, fmt.Errorf("http status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return domain.ScrapedDocument{}, false, domain.NewFetchError(domain.ErrNetwork, target.String(), host, fmt.Errorf("http status %d", resp.StatusCode))
	}

	limited := io.LimitReader(resp.Body, f.opts.MaxContentBytes)
	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !isHTML(contentType) {
		return domain.ScrapedDocument{}, false, domain.NewFetchError(domain.ErrNetwork, target.String(), host, fmt.Errorf("unsupported content type %q", contentType))
	}

	reader, err := charset.NewReader(limited, contentType)
	if err != nil {
		reader = limited
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		if isTimeout(callCtx, err) {
			return domain.ScrapedDocument{}, false, domain.NewFetchError(domain.ErrFetchTimeout, target.String(), host, err)
		}
		return domain.ScrapedDocument{}, true, domain.NewFetchError(domain.ErrNetwork, target.String(), host, err)
	}
	if contentType == "" {
		contentType = http.DetectContentType(body)
		if !isHTML(contentType) {
			return domain.ScrapedDocument{}, false, domain.NewFetchError(domain.ErrNetwork, target.String(), host, fmt.Errorf("unsupported content type %q", contentType))
		}
	}

	return domain.ScrapedDocument{
		SourceURL:   target.String(),
		FetchedAt:   f.clock.Now(),
		RawContent:  body,
		HTTPStatus:  resp.StatusCode,
		ContentType: contentType,
	}, false, nil
}

// classifyWait maps errors from the limiters onto fetch error kinds.
func (f *Fetcher) classifyWait(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrConcurrencyLimitExceeded):
		return domain.ErrConcurrencyLimitExceeded
	case errors.Is(err, domain.ErrFetchTimeout):
		return domain.ErrFetchTimeout
	case ctx.Err() != nil:
		return domain.ErrJobCancelled
	default:
		return domain.ErrNetwork
	}
}

func (f *Fetcher) appendAudit(ctx context.Context, req domain.FetchRequest, doc domain.ScrapedDocument, err error, start time.Time, took time.Duration) {
	if f.audit == nil {
		return
	}
	entry := domain.AuditEntry{
		URL:         req.URL,
		RequestedBy: req.RequestedBy,
		Outcome:     domain.Cause(err),
		HTTPStatus:  doc.HTTPStatus,
		Duration:    took,
		At:          start,
	}
	if u, perr := url.Parse(req.URL); perr == nil {
		entry.Host = u.Host
	}
	if err != nil {
		entry.Detail = err.Error()
	}
	if aerr := f.audit.Append(context.WithoutCancel(ctx), entry); aerr != nil {
		f.warn("audit append failed", "url", req.URL, "error", aerr)
	}
}

func parseTarget(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, errors.New("missing host")
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u, nil
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func isTimeout(callCtx context.Context, err error) bool {
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (f *Fetcher) debug(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Debug(msg, args...)
	}
}

func (f *Fetcher) info(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Info(msg, args...)
	}
}

func (f *Fetcher) warn(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Warn(msg, args...)
	}
}
