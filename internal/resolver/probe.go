package resolver

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// DefaultProbeTemplate is the doppiocdn master playlist; {id} is the performer id
const DefaultProbeTemplate = "https://edge-hls.doppiocdn.live/hls/{id}/master/{id}_auto.m3u8"

// DefaultProbeTokens are appended to the template in order until one answers 200
var DefaultProbeTokens = []string{
	"?playlistType=standard&psch=v1&pkey=Thoohie4ieRaGaeb",
	"?playlistType=standard&psch=v2&pkey=Thoohie4ieRaGaeb",
	"?playlistType=m3u8&psch=v1&pkey=Thoohie4ieRaGaeb",
	"?pkey=Thoohie4ieRaGaeb&psch=v1",
	"?pkey=default&psch=v1&playlistType=standard",
	"?token=live&psch=v1",
	"?auth=token&playlistType=standard",
	"?live=true&format=m3u8",
}

// DefaultProbeHosts are the page hosts served by the doppiocdn family
var DefaultProbeHosts = []string{"xhamsterlive.com"}

var performerIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/thumbs/\d+/(\d+)`),
	regexp.MustCompile(`(?i)performer[_-]?id['":\s]*(\d+)`),
	regexp.MustCompile(`(?i)model[_-]?id['":\s]*(\d+)`),
	regexp.MustCompile(`(?i)/hls/(\d+)/`),
	regexp.MustCompile(`(?i)doppiocdn\.live/hls/(\d+)/`),
	regexp.MustCompile(`(?i)data-performer-id['"]*=['"](\d+)`),
	regexp.MustCompile(`(?i)performerId['"]*:['"](\d+)`),
}

// ProbeConfig configures a ProbeStrategy. Zero values take the defaults above.
type ProbeConfig struct {
	Hosts        []string
	Template     string
	Tokens       []string
	FetchTimeout time.Duration
	ProbeTimeout time.Duration
}

// ProbeStrategy handles sites whose pages do not embed a playable URL: it
// extracts the performer id, expands the playlist template and probes token
// suffixes with HEAD requests.
type ProbeStrategy struct {
	fetcher *Fetcher
	cfg     ProbeConfig
}

// NewProbeStrategy creates a probe strategy
func NewProbeStrategy(fetcher *Fetcher, cfg ProbeConfig) *ProbeStrategy {
	if len(cfg.Hosts) == 0 {
		cfg.Hosts = DefaultProbeHosts
	}
	if cfg.Template == "" {
		cfg.Template = DefaultProbeTemplate
	}
	if len(cfg.Tokens) == 0 {
		cfg.Tokens = DefaultProbeTokens
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	return &ProbeStrategy{fetcher: fetcher, cfg: cfg}
}

func (p *ProbeStrategy) Name() string { return "probe" }

func (p *ProbeStrategy) Match(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	for _, h := range p.cfg.Hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func (p *ProbeStrategy) Resolve(ctx context.Context, pageURL string) (string, error) {
	resp, err := p.fetcher.Get(ctx, pageURL, p.cfg.FetchTimeout)
	if err != nil {
		return "", err
	}

	id := PerformerID(string(resp.Body))
	if id == "" {
		return "", fmt.Errorf("%w: no performer id on page", ErrNoStream)
	}

	base := strings.ReplaceAll(p.cfg.Template, "{id}", id)
	for _, token := range p.cfg.Tokens {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %w", ErrNetwork, err)
		}
		candidate := base + token
		head, err := p.fetcher.Head(ctx, candidate, p.cfg.ProbeTimeout, nil)
		if err != nil {
			continue
		}
		if head.StatusCode == 200 {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no token accepted for performer %s", ErrNoStream, id)
}

// PerformerID returns the first performer id found in content, trying the
// patterns in order
func PerformerID(content string) string {
	for _, re := range performerIDPatterns {
		if m := re.FindStringSubmatch(content); m != nil {
			return m[1]
		}
	}
	return ""
}
