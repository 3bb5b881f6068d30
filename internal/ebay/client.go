// Package ebay queries the eBay Finding API for completed listings.
package ebay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/eppraise/eppraise/internal/config"
)

const (
	DefaultEndpoint = "https://svcs.ebay.com/services/search/FindingService/v1"
	DefaultSite     = "EBAY-US"

	// DefaultMaxResponseBytes caps how much of a response body is read.
	DefaultMaxResponseBytes = 8 << 20

	operation      = "findCompletedItems"
	serviceVersion = "1.13.0"
)

// Searcher runs a completed-items keyword search.
type Searcher interface {
	Query(ctx context.Context, keywords string) (Result, error)
}

// Options tunes a Client. Zero values select defaults.
type Options struct {
	HTTPClient *http.Client
	Limiter    *rate.Limiter
	Attempts   uint
	RetryDelay time.Duration
	Meter      metric.Meter

	MaxResponseBytes int64
}

// Client calls the Finding API through a rate limiter and circuit breaker,
// retrying transport and server failures.
type Client struct {
	appID    string
	site     string
	endpoint string

	http     *http.Client
	limiter  *rate.Limiter
	cb       *gobreaker.CircuitBreaker
	attempts uint
	delay    time.Duration
	maxBody  int64
	logger   *zap.Logger
	calls    metric.Int64Counter
}

func NewClient(cfg config.Ebay, logger *zap.Logger, opts Options) (*Client, error) {
	if cfg.AppID == "" {
		return nil, errors.New("ebay app id is required")
	}
	c := &Client{
		appID:    cfg.AppID,
		site:     cfg.Site,
		endpoint: cfg.Endpoint,
		http:     opts.HTTPClient,
		limiter:  opts.Limiter,
		attempts: opts.Attempts,
		delay:    opts.RetryDelay,
		maxBody:  opts.MaxResponseBytes,
		logger:   logger.Named("ebay"),
	}
	if c.site == "" {
		c.site = DefaultSite
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.limiter == nil {
		c.limiter = rate.NewLimiter(rate.Every(time.Second), 1)
	}
	if c.attempts == 0 {
		c.attempts = 3
	}
	if c.delay == 0 {
		c.delay = time.Second
	}
	if c.maxBody <= 0 {
		c.maxBody = DefaultMaxResponseBytes
	}

	meter := opts.Meter
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("ebay")
	}
	calls, err := meter.Int64Counter("ebay_api_calls_total",
		metric.WithDescription("Finding API calls by outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create call counter: %w", err)
	}
	c.calls = calls

	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "EbayFinding",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			// An API-level rejection means the service is up.
			var apiErr *APIError
			return err == nil || errors.As(err, &apiErr)
		},
	})
	return c, nil
}

// Query searches completed listings for keywords.
func (c *Client) Query(ctx context.Context, keywords string) (Result, error) {
	var result Result
	var opErr error
	_ = retry.Do(
		func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				opErr = err
				return err
			}
			res, err := c.cb.Execute(func() (interface{}, error) {
				return c.call(ctx, keywords)
			})
			if err == nil {
				result = res.(Result)
			}
			opErr = err
			return err
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("retrying search", zap.String("keywords", keywords), zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)

	outcome := "ok"
	if opErr != nil {
		outcome = "error"
	}
	c.calls.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if opErr != nil {
		return Result{}, fmt.Errorf("search %q: %w", keywords, opErr)
	}
	return result, nil
}

func (c *Client) call(ctx context.Context, keywords string) (Result, error) {
	q := url.Values{}
	q.Set("OPERATION-NAME", operation)
	q.Set("SERVICE-VERSION", serviceVersion)
	q.Set("SECURITY-APPNAME", c.appID)
	q.Set("GLOBAL-ID", c.site)
	q.Set("RESPONSE-DATA-FORMAT", "JSON")
	q.Set("REST-PAYLOAD", "")
	q.Set("keywords", keywords)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return Result{}, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > c.maxBody {
		return Result{}, fmt.Errorf("%w: more than %d bytes", errResponseTooLarge, c.maxBody)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, &statusError{code: resp.StatusCode}
	}

	res, err := parseResponse(body, operation)
	if err != nil {
		return Result{}, err
	}
	if err := res.check(); err != nil {
		return Result{}, err
	}
	c.logger.Debug("search completed", zap.String("keywords", keywords), zap.Int("listings", len(res.Listings())))
	return res, nil
}

var errResponseTooLarge = errors.New("response too large")

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) || errors.Is(err, errResponseTooLarge) {
		return false
	}
	var st *statusError
	if errors.As(err, &st) {
		return st.code >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
