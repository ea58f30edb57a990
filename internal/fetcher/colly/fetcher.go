// Package collyfetcher implements tracker.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/headline-tracker/internal/metrics"
	"github.com/JakeFAU/headline-tracker/internal/tracker"
)

// DefaultUserAgent is a desktop browser string so the site serves its public rendition.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
	"AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15"

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	RetryBackoff  time.Duration
}

// Detector flags pages that sit behind a login wall.
type Detector interface {
	Check(page tracker.Page) (string, bool)
}

// Waiter enforces a minimum spacing between requests to the same host.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Fetcher implements tracker.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	detector      Detector
	limiter       Waiter
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. The limiter may be nil.
func New(cfg Config, detector Detector, limiter Waiter, logger *zap.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false))
	// Clones share the visited store; every run revisits the same URLs.
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.UserAgent = cfg.UserAgent
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		detector:      detector,
		limiter:       limiter,
		logger:        logger,
	}
}

// Fetch performs a GET for the profile URL with one retry on transient 5xx
// responses, then classifies the response: login walls become
// tracker.ErrNotPublic, transport failures and other non-200 statuses become
// *tracker.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, url string) (tracker.Page, error) {
	start := time.Now()
	var (
		page tracker.Page
		err  error
	)
	for attempt := 0; attempt < 2; attempt++ {
		page, err = f.fetchOnce(ctx, url)
		if err != nil || attempt > 0 || !retryableStatus(page.StatusCode) {
			break
		}
		f.logger.Debug("retrying transient status",
			zap.String("url", url),
			zap.Int("status", page.StatusCode),
		)
		if err = sleepWithContext(ctx, f.cfg.RetryBackoff); err != nil {
			break
		}
	}
	page, err = f.classify(ctx, url, page, err)
	metrics.ObserveFetch(url, outcomeLabel(err), time.Since(start))
	if err != nil {
		return tracker.Page{}, err
	}
	return page, nil
}

func (f *Fetcher) classify(ctx context.Context, url string, page tracker.Page, err error) (tracker.Page, error) {
	if err != nil {
		if ctx.Err() != nil {
			return page, fmt.Errorf("fetch %s canceled: %w", url, ctx.Err())
		}
		return page, &tracker.FetchError{URL: url, Reason: networkReason(err), Err: err}
	}
	if f.detector != nil {
		if reason, blocked := f.detector.Check(page); blocked {
			return page, tracker.NotPublicError(reason)
		}
	}
	if page.StatusCode != http.StatusOK {
		return page, &tracker.FetchError{URL: url, Reason: "bad_status:" + strconv.Itoa(page.StatusCode)}
	}
	return page, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) (tracker.Page, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, url); err != nil {
			return tracker.Page{}, err
		}
	}
	var (
		page     tracker.Page
		fetchErr error
	)
	collector := f.buildCollector(ctx, url, time.Now(), &page, &fetchErr)
	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return tracker.Page{}, err
	}
	return page, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	url string,
	start time.Time,
	page *tracker.Page,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, url, start, page, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	url string,
	start time.Time,
	page *tracker.Page,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})

	hooks.OnResponse(func(r *colly.Response) {
		finalURL := url
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*page = tracker.Page{
			URL:        url,
			FinalURL:   finalURL,
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		// With ParseHTTPErrorResponse set, a response here means the
		// callback chain failed, not the status.
		*fetchErr = err
		if r != nil && r.StatusCode > 0 && page.StatusCode == 0 {
			page.StatusCode = r.StatusCode
		}
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
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
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
