package resolver

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"time"
)

// streamPatterns are tried in order and all matches are collected before ranking
var streamPatterns = []*regexp.Regexp{
	// mmcdn edge and playlist hosts
	regexp.MustCompile(`(?i)https?://[^\s"']*edge[^\s"']*\.live\.mmcdn\.com[^\s"']*\.m3u8[^\s"']*`),
	regexp.MustCompile(`(?i)https?://[^\s"']*\.live\.mmcdn\.com[^\s"']*playlist\.m3u8[^\s"']*`),

	// generic HLS
	regexp.MustCompile(`(?i)https?://[^\s"']*\.m3u8[^\s"']*`),
	regexp.MustCompile(`(?i)https?://[^\s"']*playlist\.m3u8[^\s"']*`),
	regexp.MustCompile(`(?i)https?://[^\s"']*master\.m3u8[^\s"']*`),

	// streaming CDNs
	regexp.MustCompile(`(?i)https?://[^\s"']*streaming[^\s"']*\.[^\s"']+`),
	regexp.MustCompile(`(?i)https?://[^\s"']*edge[^\s"']*\.[^\s"']+`),
	regexp.MustCompile(`(?i)https?://[^\s"']*cdn[^\s"']*\.[^\s"']+`),

	// site hosts
	regexp.MustCompile(`(?i)https?://[^\s"']*doppiocdn\.com[^\s"']*`),
	regexp.MustCompile(`(?i)https?://[^\s"']*livemediahost\.com[^\s"']*`),
}

// ScrapeStrategy fetches the page and extracts stream URLs from its source.
// It matches every page and serves as the fallback.
type ScrapeStrategy struct {
	fetcher *Fetcher
	timeout time.Duration
}

// NewScrapeStrategy creates the generic page scraper
func NewScrapeStrategy(fetcher *Fetcher, timeout time.Duration) *ScrapeStrategy {
	return &ScrapeStrategy{fetcher: fetcher, timeout: timeout}
}

func (s *ScrapeStrategy) Name() string { return "scrape" }

func (s *ScrapeStrategy) Match(*url.URL) bool { return true }

func (s *ScrapeStrategy) Resolve(ctx context.Context, pageURL string) (string, error) {
	resp, err := s.fetcher.Get(ctx, pageURL, s.timeout)
	if err != nil {
		return "", err
	}

	ranked := Rank(ExtractCandidates(string(resp.Body)))
	if len(ranked) == 0 {
		return "", fmt.Errorf("%w: no candidates on page (status %d)", ErrNoStream, resp.StatusCode)
	}
	return ranked[0], nil
}

// ExtractCandidates runs every stream pattern over content, keeping pattern
// order and match order
func ExtractCandidates(content string) []string {
	var found []string
	for _, re := range streamPatterns {
		found = append(found, re.FindAllString(content, -1)...)
	}
	return found
}
