// Package robots enforces robots.txt directives per host.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

const maxRobotsBytes = 1 << 20

// Config controls the enforcer.
type Config struct {
	// UserAgent is sent when fetching robots.txt.
	UserAgent string
	Timeout   time.Duration
	// TTL bounds how long a parsed robots.txt is reused. Zero caches for the
	// life of the process.
	TTL time.Duration
}

type entry struct {
	data    *robotstxt.RobotsData
	fetched time.Time
}

// Enforcer fetches, caches and evaluates robots.txt per scheme and host.
type Enforcer struct {
	client    *http.Client
	cache     sync.Map
	userAgent string
	ttl       time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// New builds an Enforcer. A nil client gets one with cfg.Timeout.
func New(cfg Config, client *http.Client, logger *zap.Logger) *Enforcer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{
		client:    client,
		userAgent: cfg.UserAgent,
		ttl:       cfg.TTL,
		now:       time.Now,
		logger:    logger,
	}
}

// Allowed reports whether userAgent may fetch rawURL. Unreachable robots.txt
// files allow access; 5xx answers disallow the whole host.
func (r *Enforcer) Allowed(ctx context.Context, rawURL string, userAgent string) bool {
	if r == nil {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	data, err := r.load(ctx, parsed)
	if err != nil {
		r.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	if userAgent == "" {
		userAgent = r.userAgent
	}
	group := data.FindGroup(userAgent)
	if group == nil {
		return true
	}
	target := parsed.EscapedPath()
	if target == "" {
		target = "/"
	}
	if parsed.RawQuery != "" {
		target += "?" + parsed.RawQuery
	}
	return group.Test(target)
}

func (r *Enforcer) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	key := strings.ToLower(parsed.Scheme + "://" + parsed.Host)
	if cached, ok := r.cache.Load(key); ok {
		e, assertOK := cached.(entry)
		if !assertOK {
			return nil, fmt.Errorf("robots cache type mismatch: %T", cached)
		}
		if r.ttl <= 0 || r.now().Sub(e.fetched) < r.ttl {
			return e.data, nil
		}
	}

	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	r.cache.Store(key, entry{data: data, fetched: r.now()})
	return data, nil
}

// AllowAll permits every URL.
type AllowAll struct{}

// Allowed implements crawler.RobotsPolicy.
func (AllowAll) Allowed(context.Context, string, string) bool { return true }
