package resolver

import (
	"sort"
	"strings"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp"}

var imageHosts = []string{"jpeg.live.", "jpg.live.", "png.live.", "img.", "image.", "thumb.", "preview."}

var streamIndicators = []string{".m3u8", ".mp4", ".flv", ".webm", ".mkv", "playlist", "master", "stream"}

// invalidScore is assigned to anything IsStreamURL rejects
const invalidScore = -1000

// IsStreamURL reports whether u looks like a media stream rather than an image
// or an unrelated page. Matching is case-insensitive.
func IsStreamURL(u string) bool {
	lower := strings.ToLower(u)
	for _, ext := range imageExtensions {
		if strings.Contains(lower, ext) {
			return false
		}
	}
	for _, host := range imageHosts {
		if strings.Contains(lower, host) {
			return false
		}
	}
	for _, indicator := range streamIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

// Score ranks a candidate; higher is better and anything <= 0 is discarded
func Score(u string) int {
	if !IsStreamURL(u) {
		return invalidScore
	}

	score := 0
	if strings.Contains(u, ".m3u8") {
		score += 100
	}
	if strings.Contains(u, "playlist") {
		score += 50
	}
	if strings.Contains(u, "master") {
		score += 40
	}
	if strings.Contains(u, "edge") {
		score += 30
	}
	if strings.Contains(u, ".live.") {
		score += 20
	}
	if strings.HasPrefix(u, "https://") {
		score += 10
	}
	return score
}

var escapes = strings.NewReplacer(
	`\u002F`, "/",
	`\u002f`, "/",
	`\u003A`, ":",
	`\u003a`, ":",
	`\/`, "/",
)

// cleanCandidate undoes the JSON and JS escaping that scraped URLs carry
func cleanCandidate(raw string) string {
	u := strings.TrimSpace(raw)
	u = strings.TrimRight(u, `",'`)
	u = strings.ReplaceAll(u, `\u002D`, "-")
	u = strings.ReplaceAll(u, `\u002d`, "-")

	u = strings.TrimSuffix(u, `\u0022`)
	u = strings.TrimSuffix(u, `\"`)
	u = strings.TrimSuffix(u, `"`)

	return escapes.Replace(u)
}

// Rank cleans, filters and orders candidates, best first. Duplicates keep
// their first position and equal scores keep input order.
func Rank(candidates []string) []string {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))

	for _, raw := range candidates {
		u := cleanCandidate(raw)
		if len(u) < 10 || !strings.HasPrefix(u, "http") {
			continue
		}
		if !IsStreamURL(u) {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return Score(out[i]) > Score(out[j])
	})

	ranked := out[:0]
	for _, u := range out {
		if Score(u) > 0 {
			ranked = append(ranked, u)
		}
	}
	return ranked
}
