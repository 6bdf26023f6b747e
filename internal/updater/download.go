package updater

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// fallbackFilename is used when the download URL does not name an installer
const fallbackFilename = "webcorder_update.exe"

// Progress receives the bytes written so far and the expected total, which is
// zero when the server did not send a Content-Length.
type Progress func(written, total int64)

type progressWriter struct {
	w        io.Writer
	written  int64
	total    int64
	progress Progress
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	if p.progress != nil {
		p.progress(p.written, p.total)
	}
	return n, err
}

// downloadFilename derives the local name of the installer from its URL
func downloadFilename(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fallbackFilename
	}
	name := path.Base(u.Path)
	lower := strings.ToLower(name)
	if name == "" || name == "/" || name == "." || !(strings.HasSuffix(lower, ".exe") || strings.HasSuffix(lower, ".zip")) {
		return fallbackFilename
	}
	return name
}

// Download fetches rawURL into dir and returns the file path. The body is
// written to a temp file that is renamed into place once complete.
func (c *Client) Download(ctx context.Context, rawURL, dir string, progress Progress) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}
	destPath := filepath.Join(dir, downloadFilename(rawURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build download request: %w", err)
	}
	c.authorize(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download update: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download update: HTTP %d", resp.StatusCode)
	}

	// Create temp file for atomic write
	tmpPath := destPath + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	pw := &progressWriter{w: file, total: total, progress: progress}
	if _, err := io.Copy(pw, resp.Body); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write update: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close update: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to finalize update: %w", err)
	}

	return destPath, nil
}
