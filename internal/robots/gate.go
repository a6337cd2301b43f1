// Package robots answers whether the catalog site's robots.txt lets a generic
// agent fetch a URL.
package robots

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/harmony-crawler/internal/logging"
	"github.com/JakeFAU/harmony-crawler/internal/metrics"
)

const (
	// DefaultAgent is the agent group consulted when none is configured.
	DefaultAgent   = "*"
	maxPolicyBytes = 1 << 20
	policyCacheKey = "robots"
)

// Config controls how the gate loads the policy document.
type Config struct {
	// BaseURL is the site root; the policy lives at /robots.txt beneath it.
	BaseURL string
	// UserAgent is sent on the policy request.
	UserAgent string
	// Agent selects the robots.txt group evaluated by CanFetch.
	Agent string
	// CacheTTL keeps a parsed policy for reuse. Zero reloads on every call.
	CacheTTL time.Duration
	// Client performs the policy request. Defaults to a client with a 30s timeout.
	Client *http.Client
}

// Gate evaluates URLs against the site's robots.txt.
type Gate struct {
	robotsURL string
	userAgent string
	agent     string
	client    *http.Client
	cache     *cache.Cache
	logger    *zap.Logger
}

// New builds a Gate for the site rooted at cfg.BaseURL.
func New(cfg Config, logger *zap.Logger) (*Gate, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	robotsURL := base.ResolveReference(&url.URL{Path: "/robots.txt"})
	agent := cfg.Agent
	if agent == "" {
		agent = DefaultAgent
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	g := &Gate{
		robotsURL: robotsURL.String(),
		userAgent: cfg.UserAgent,
		agent:     agent,
		client:    client,
		logger:    logging.OrNop(logger).Named("robots"),
	}
	if cfg.CacheTTL > 0 {
		g.cache = cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}
	return g, nil
}

// RobotsURL reports where the policy document is loaded from.
func (g *Gate) RobotsURL() string {
	return g.robotsURL
}

// CanFetch reports whether target may be fetched. Any failure to load or parse
// the policy is logged and answered with false.
func (g *Gate) CanFetch(ctx context.Context, target string) bool {
	parsed, err := url.Parse(target)
	if err != nil {
		g.logger.Warn("unparseable target url", zap.String("url", target), zap.Error(err))
		metrics.ObserveRobotsCheck(metrics.RobotsError)
		return false
	}
	policy, err := g.policy(ctx)
	if err != nil {
		g.logger.Error("robots policy unavailable", zap.String("robots_url", g.robotsURL), zap.Error(err))
		metrics.ObserveRobotsCheck(metrics.RobotsError)
		return false
	}
	allowed := policy.TestAgent(requestPath(parsed), g.agent)
	if allowed {
		metrics.ObserveRobotsCheck(metrics.RobotsAllowed)
	} else {
		metrics.ObserveRobotsCheck(metrics.RobotsDenied)
	}
	g.logger.Debug("robots decision", zap.String("url", target), zap.Bool("allowed", allowed))
	return allowed
}

func requestPath(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}

func (g *Gate) policy(ctx context.Context) (*robotstxt.RobotsData, error) {
	if g.cache != nil {
		if cached, ok := g.cache.Get(policyCacheKey); ok {
			if data, ok := cached.(*robotstxt.RobotsData); ok {
				return data, nil
			}
		}
	}
	data, err := g.load(ctx)
	if err != nil {
		return nil, err
	}
	if g.cache != nil {
		g.cache.Set(policyCacheKey, data, cache.DefaultExpiration)
	}
	return data, nil
}

func (g *Gate) load(ctx context.Context) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("Accept-Encoding", "gzip")
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch robots: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPolicyBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		body, err = gunzip(body)
		if err != nil {
			return nil, err
		}
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}

func gunzip(body []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("open gzip robots body: %w", err)
	}
	defer zr.Close() //nolint:errcheck // reader over an in-memory buffer
	out, err := io.ReadAll(io.LimitReader(zr, maxPolicyBytes))
	if err != nil {
		return nil, fmt.Errorf("decompress robots body: %w", err)
	}
	return out, nil
}
