package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"RecipeAcquisition/internal/clock"
	"RecipeAcquisition/internal/domain"
)

const maxRobotsBytes = 512 << 10

// RobotsCache keeps parsed robots.txt files per scheme and host for a fixed TTL.
type RobotsCache struct {
	mu        sync.Mutex
	entries   map[string]robotsEntry
	ttl       time.Duration
	client    *http.Client
	userAgent string
	clock     clock.Clock
	logger    *slog.Logger
}

type robotsEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
}

// RobotsDecision is the policy that applies to one target path.
type RobotsDecision struct {
	Allowed    bool
	CrawlDelay time.Duration
}

// NewRobotsCache builds an empty cache; the client is shared with the page fetches.
func NewRobotsCache(client *http.Client, userAgent string, ttl time.Duration, clk clock.Clock, logger *slog.Logger) *RobotsCache {
	if clk == nil {
		clk = clock.Real{}
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &RobotsCache{
		entries:   map[string]robotsEntry{},
		ttl:       ttl,
		client:    client,
		userAgent: userAgent,
		clock:     clk,
		logger:    logger,
	}
}

// Check resolves the robots policy for target, fetching robots.txt when the cached copy is missing or expired.
// An unreachable robots.txt allows the fetch and is not cached.
func (c *RobotsCache) Check(ctx context.Context, target *url.URL, deadline time.Time) (RobotsDecision, error) {
	key := target.Scheme + "://" + target.Host
	now := c.clock.Now()

	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()

	if !ok || now.Sub(entry.fetchedAt) >= c.ttl {
		data, err := c.load(ctx, key, deadline)
		switch {
		case errors.Is(err, domain.ErrFetchTimeout):
			return RobotsDecision{}, err
		case err != nil:
			c.warn("robots.txt unavailable, proceeding", "host", target.Host, "error", err)
			return RobotsDecision{Allowed: true}, nil
		}
		entry = robotsEntry{data: data, fetchedAt: now}
		c.mu.Lock()
		c.entries[key] = entry
		c.mu.Unlock()
	}

	group := entry.data.FindGroup(c.userAgent)
	if group == nil {
		return RobotsDecision{Allowed: true}, nil
	}
	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}
	if target.RawQuery != "" {
		path += "?" + target.RawQuery
	}
	return RobotsDecision{Allowed: group.Test(path), CrawlDelay: group.CrawlDelay}, nil
}

func (c *RobotsCache) load(ctx context.Context, base string, deadline time.Time) (*robotstxt.RobotsData, error) {
	remaining := deadline.Sub(c.clock.Now())
	if remaining <= 0 {
		return nil, domain.ErrFetchTimeout
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), remaining)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, base+"/robots.txt", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, domain.ErrFetchTimeout
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots.txt: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	c.debug("robots.txt cached", "base", base, "status", resp.StatusCode)
	return data, nil
}

// Prune drops expired entries.
func (c *RobotsCache) Prune() int {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if now.Sub(e.fetchedAt) >= c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached hosts.
func (c *RobotsCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *RobotsCache) debug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

func (c *RobotsCache) warn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}
