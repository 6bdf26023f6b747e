// Package resolver turns human-facing stream pages into direct media URLs.
//
// Site families are handled by Strategy implementations. The probe strategy
// covers the doppiocdn family and the scrape strategy is the fallback for
// everything else. Results are always checked with IsStreamURL so an image or
// thumbnail URL is never returned.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/webcorder/webcorder/internal/metrics"
)

// Options configures a Resolver
type Options struct {
	UserAgent    string
	FetchTimeout time.Duration
	ProbeTimeout time.Duration

	// Client overrides the HTTP client, mostly for tests
	Client *http.Client

	// Probe overrides the probe strategy settings; timeouts default to the
	// values above
	Probe ProbeConfig
}

// Resolver picks the first matching strategy for a page
type Resolver struct {
	strategies []Strategy
	fetcher    *Fetcher
	log        zerolog.Logger
}

// New creates a resolver with the probe strategy followed by the scrape fallback
func New(opts Options, log zerolog.Logger) *Resolver {
	log = log.With().Str("component", "resolver").Logger()
	fetcher := NewFetcher("resolver", opts.UserAgent, opts.Client, log)

	probeCfg := opts.Probe
	if probeCfg.FetchTimeout == 0 {
		probeCfg.FetchTimeout = opts.FetchTimeout
	}
	if probeCfg.ProbeTimeout == 0 {
		probeCfg.ProbeTimeout = opts.ProbeTimeout
	}

	return &Resolver{
		strategies: []Strategy{
			NewProbeStrategy(fetcher, probeCfg),
			NewScrapeStrategy(fetcher, opts.FetchTimeout),
		},
		fetcher: fetcher,
		log:     log,
	}
}

// NewWithStrategies creates a resolver over an explicit strategy list
func NewWithStrategies(log zerolog.Logger, strategies ...Strategy) *Resolver {
	return &Resolver{
		strategies: strategies,
		log:        log.With().Str("component", "resolver").Logger(),
	}
}

// Fetcher returns the resolver's breaker-protected HTTP fetcher, or nil when
// the resolver was built from explicit strategies
func (r *Resolver) Fetcher() *Fetcher {
	return r.fetcher
}

// Resolve returns a direct stream URL for pageURL. It never panics; failures
// are returned as errors wrapping ErrNoStream or ErrNetwork.
func (r *Resolver) Resolve(ctx context.Context, pageURL string) (resolved string, err error) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			resolved, err = "", fmt.Errorf("%w: resolver panic: %v", ErrNoStream, p)
		}
		metrics.RecordResolve(resultLabel(err), time.Since(start).Seconds())
	}()

	pageURL = strings.TrimSpace(pageURL)
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: invalid page url %q", ErrNoStream, pageURL)
	}

	strategy := r.strategyFor(u)
	if strategy == nil {
		return "", fmt.Errorf("%w: no strategy for %s", ErrNoStream, u.Host)
	}

	log := r.log.With().Str("strategy", strategy.Name()).Str("model", ModelName(pageURL)).Logger()
	log.Debug().Str("url", pageURL).Msg("resolving")

	resolved, err = strategy.Resolve(ctx, pageURL)
	if err != nil {
		if !errors.Is(err, ErrNetwork) && !errors.Is(err, ErrNoStream) {
			err = fmt.Errorf("%w: %w", ErrNoStream, err)
		}
		log.Debug().Err(err).Dur("elapsed", time.Since(start)).Msg("no stream")
		return "", err
	}

	if resolved == pageURL || !IsStreamURL(resolved) {
		log.Warn().Str("resolved", resolved).Msg("rejected non-stream url")
		return "", fmt.Errorf("%w: rejected %q", ErrNoStream, resolved)
	}

	log.Info().Str("resolved", resolved).Dur("elapsed", time.Since(start)).Msg("stream resolved")
	return resolved, nil
}

func (r *Resolver) strategyFor(u *url.URL) Strategy {
	for _, s := range r.strategies {
		if s.Match(u) {
			return s
		}
	}
	return nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return metrics.ResultFound
	case errors.Is(err, ErrNetwork):
		return metrics.ResultNetwork
	default:
		return metrics.ResultNoStream
	}
}

// ModelName derives a display and folder name from a page URL: the first path
// segment with a leading underscore and a short alphabetic extension removed.
// It returns "" when the URL has no path.
func ModelName(pageURL string) string {
	u, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil {
		return ""
	}

	segment := strings.Split(strings.Trim(u.Path, "/"), "/")[0]
	segment = strings.TrimPrefix(segment, "_")

	if i := strings.LastIndex(segment, "."); i >= 0 {
		ext := segment[i+1:]
		if len(ext) <= 4 && isAlpha(ext) {
			segment = segment[:i]
		}
	}
	return segment
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}
