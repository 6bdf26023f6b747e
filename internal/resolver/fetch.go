package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/webcorder/webcorder/internal/metrics"
)

// maxPageSize caps how much of a page body is scanned for candidates
const maxPageSize = 8 << 20

// Response is the part of an HTTP response the resolvers care about
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Fetcher performs page and reachability requests behind one circuit breaker
// per host, so a dead site never blocks requests to healthy ones. Only
// transport failures count against a breaker; any HTTP status is a successful
// round trip.
type Fetcher struct {
	name      string
	client    *http.Client
	userAgent string
	log       zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*Response]
}

// NewFetcher creates a fetcher. A nil client uses a dedicated http.Client.
// Breakers are created lazily the first time a host is requested.
func NewFetcher(name, userAgent string, client *http.Client, log zerolog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{
		name:      name,
		client:    client,
		userAgent: userAgent,
		log:       log.With().Str("breaker", name).Logger(),
		breakers:  make(map[string]*gobreaker.CircuitBreaker[*Response]),
	}
}

// breaker returns the circuit breaker for host, creating it on first use.
//
// Circuit breaker configuration:
// - Max 3 requests in half-open state
// - 1 minute measurement window
// - 2 minute timeout before attempting recovery
// - Opens after 60% failure rate with minimum 10 requests
func (f *Fetcher) breaker(host string) *gobreaker.CircuitBreaker[*Response] {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cb, ok := f.breakers[host]; ok {
		return cb
	}

	log := f.log.With().Str("host", host).Logger()
	metrics.CircuitBreakerState.WithLabelValues(f.name, host).Set(0)

	cb := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        f.name + ":" + host,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			metrics.CircuitBreakerState.WithLabelValues(f.name, host).Set(stateValue(to))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	f.breakers[host] = cb
	return cb
}

// State reports the breaker state for host (host[:port] as in the request URL).
// Hosts never requested are closed.
func (f *Fetcher) State(host string) gobreaker.State {
	f.mu.Lock()
	cb, ok := f.breakers[host]
	f.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Get fetches a page with browser-like headers. The body is returned whatever
// the status code, since error pages can still embed stream URLs.
func (f *Fetcher) Get(ctx context.Context, rawURL string, timeout time.Duration) (*Response, error) {
	return f.do(ctx, http.MethodGet, rawURL, timeout, nil)
}

// Head issues a reachability request; extra headers are added to the defaults
func (f *Fetcher) Head(ctx context.Context, rawURL string, timeout time.Duration, headers map[string]string) (*Response, error) {
	return f.do(ctx, http.MethodHead, rawURL, timeout, headers)
}

func (f *Fetcher) do(ctx context.Context, method, rawURL string, timeout time.Duration, headers map[string]string) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	f.browserHeaders(req)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.breaker(req.URL.Host).Execute(func() (*Response, error) {
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		out := &Response{StatusCode: resp.StatusCode}
		if method != http.MethodHead {
			out.Body, err = io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrNetwork, method, rawURL, err)
	}
	return resp, nil
}

func (f *Fetcher) browserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}
