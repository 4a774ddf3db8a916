package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/logging"
	"github.com/GoSim-25-26J-441/geo-tile-gateway/internal/metrics"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	DefaultFetchTimeout = 30 * time.Second
	maxTileBytes        = 16 << 20
)

// Upstream error kinds
const (
	KindTimeout     = "timeout"
	KindTransport   = "transport"
	KindStatus      = "status"
	KindEmpty       = "empty"
	KindCircuitOpen = "circuit_open"
	KindRateLimited = "rate_limited"
	KindBadURL      = "bad_url"
)

// UpstreamFetchError describes why a tile could not be fetched
type UpstreamFetchError struct {
	URL        string
	Kind       string
	StatusCode int
	Err        error
}

func (e *UpstreamFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s: %s (HTTP %d)", e.URL, e.Kind, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("upstream %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("upstream %s: %s", e.URL, e.Kind)
}

func (e *UpstreamFetchError) Unwrap() error { return e.Err }

// FetchOutcome is the result of one upstream fetch
type FetchOutcome struct {
	Data        []byte
	ContentType string
	Err         error
}

func (o FetchOutcome) OK() bool { return o.Err == nil }

// FetcherOptions configures the upstream fetcher
type FetcherOptions struct {
	Timeout   time.Duration
	RateLimit float64 // fetches per second, 0 disables
	Burst     int
	Client    *http.Client
}

// Fetcher retrieves tiles from upstream URL templates. Identical concurrent
// fetches share one request and every host sits behind its own breaker.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	group   singleflight.Group

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[[]byte]
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFetchTimeout
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	f := &Fetcher{
		client:   client,
		timeout:  opts.Timeout,
		breakers: make(map[string]*gobreaker.CircuitBreaker[[]byte]),
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return f
}

// Fetch downloads rawURL. The fetch is detached from ctx cancellation so a
// client disconnect doesn't abort a request other callers may share, but it
// always ends within the configured timeout.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) FetchOutcome {
	start := time.Now()
	v, err, _ := f.group.Do(rawURL, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
		defer cancel()
		return f.fetch(fctx, rawURL)
	})

	if err != nil {
		kind := KindTransport
		var ue *UpstreamFetchError
		if errors.As(err, &ue) {
			kind = ue.Kind
		} else {
			err = &UpstreamFetchError{URL: rawURL, Kind: kind, Err: err}
		}
		metrics.UpstreamFetchErrors.WithLabelValues(kind).Inc()
		metrics.UpstreamFetchDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return FetchOutcome{Err: err}
	}

	data := v.([]byte)
	metrics.UpstreamFetchDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	return FetchOutcome{Data: data, ContentType: SniffContentType(data)}
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, &UpstreamFetchError{URL: rawURL, Kind: KindBadURL, Err: err}
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, &UpstreamFetchError{URL: rawURL, Kind: KindRateLimited, Err: err}
		}
	}

	data, err := f.breaker(u.Host).Execute(func() ([]byte, error) {
		return f.get(ctx, rawURL)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &UpstreamFetchError{URL: rawURL, Kind: KindCircuitOpen, Err: err}
	}
	return data, err
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &UpstreamFetchError{URL: rawURL, Kind: KindBadURL, Err: err}
	}
	req.Header.Set("Accept", "image/png,image/jpeg,image/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &UpstreamFetchError{URL: rawURL, Kind: KindTimeout, Err: err}
		}
		return nil, &UpstreamFetchError{URL: rawURL, Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &UpstreamFetchError{URL: rawURL, Kind: KindStatus, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes))
	if err != nil {
		kind := KindTransport
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = KindTimeout
		}
		return nil, &UpstreamFetchError{URL: rawURL, Kind: kind, Err: err}
	}
	if len(data) == 0 {
		return nil, &UpstreamFetchError{URL: rawURL, Kind: KindEmpty}
	}
	return data, nil
}

func (f *Fetcher) breaker(host string) *gobreaker.CircuitBreaker[[]byte] {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cb, ok := f.breakers[host]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        host,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// a 4xx means the host is up; only outages should open the breaker
		IsSuccessful: func(err error) bool {
			var ue *UpstreamFetchError
			if errors.As(err, &ue) && ue.Kind == KindStatus {
				return ue.StatusCode < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			logging.Component("fetcher").Warn().
				Str("host", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("upstream circuit breaker state changed")
		},
	})
	f.breakers[host] = cb
	return cb
}

var (
	magicJPEG = []byte{0xFF, 0xD8, 0xFF}
	magicPNG  = []byte("\x89PNG")
	magicGIF  = []byte("GIF")
)

// SniffContentType identifies JPEG, PNG and GIF by magic bytes and defaults to PNG.
func SniffContentType(data []byte) string {
	switch {
	case bytes.HasPrefix(data, magicJPEG):
		return "image/jpeg"
	case bytes.HasPrefix(data, magicPNG):
		return "image/png"
	case bytes.HasPrefix(data, magicGIF):
		return "image/gif"
	default:
		return "image/png"
	}
}
