// Package collyfetcher retrieves catalog pages with gocolly and parses them
// into goquery documents.
package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/harmony-crawler/internal/logging"
	"github.com/JakeFAU/harmony-crawler/internal/metrics"
	"github.com/JakeFAU/harmony-crawler/internal/policy/ratelimit"
)

// ErrStatus marks responses with a non-2xx status code.
var ErrStatus = errors.New("unexpected http status")

// StatusError reports the URL and status code of a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.Code)
}

// Unwrap lets errors.Is match ErrStatus.
func (e *StatusError) Unwrap() error {
	return ErrStatus
}

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// Timeout bounds a single request. Zero means no client-side timeout;
	// only the transport's dial and TLS limits apply.
	Timeout time.Duration
	// Limiter paces requests; nil disables pacing.
	Limiter *ratelimit.Limiter
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Fetcher performs one blocking GET per call using a cloned Colly collector.
type Fetcher struct {
	cfg           Config
	client        *http.Client
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// fetchState collects what the collector callbacks observed for one visit.
type fetchState struct {
	url    string
	status int
	body   []byte
	err    error
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
	)
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	// colly's own client caps requests at 10s; replace it so Timeout is exact.
	client := &http.Client{Transport: transport, Timeout: cfg.Timeout}
	c.SetClient(client)

	return &Fetcher{
		cfg:           cfg,
		client:        client,
		baseCollector: c,
		logger:        logging.OrNop(logger).Named("fetcher"),
	}
}

// Fetch retrieves url and parses the body into a document. Transport failures
// and non-2xx responses are returned as errors; nothing is retried.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	if err := f.cfg.Limiter.Wait(ctx, url); err != nil {
		return nil, err
	}

	start := time.Now()
	state := &fetchState{url: url}
	collector := f.buildCollector(ctx, state)
	f.logger.Debug("fetching page", zap.String("url", url))

	if err := f.runCollector(ctx, collector, url, state, start); err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(state.body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	return doc, nil
}

func (f *Fetcher) buildCollector(ctx context.Context, state *fetchState) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	configureCollectorHooks(collector, state)
	return collector
}

func configureCollectorHooks(hooks collectorHooks, state *fetchState) {
	hooks.OnResponse(func(r *colly.Response) {
		state.status = r.StatusCode
		state.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			state.status = r.StatusCode
		}
		state.err = err
	})
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	url string,
	state *fetchState,
	start time.Time,
) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		metrics.ObserveFetch(url, 0, 0, time.Since(start))
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		metrics.ObserveFetch(url, state.status, len(state.body), time.Since(start))
		if state.err != nil {
			return fmt.Errorf("fetch %s: %w", url, state.err)
		}
		if err != nil {
			return fmt.Errorf("fetch %s: %w", url, err)
		}
		if state.status < 200 || state.status > 299 {
			return &StatusError{URL: url, Code: state.status}
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
