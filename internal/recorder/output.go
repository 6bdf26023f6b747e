package recorder

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/webcorder/webcorder/internal/resolver"
)

// timestampLayout is the file name timestamp, e.g. 20240115_213005
const timestampLayout = "20060102_150405"

var unsafeFilename = regexp.MustCompile(`[\\/:*?"<>|]+`)

// SanitizeFilename replaces characters that are invalid in file names
func SanitizeFilename(name string) string {
	return strings.TrimSpace(unsafeFilename.ReplaceAllString(name, "_"))
}

// OutputPath returns <folder>/<model>/<model>_<timestamp>.<container> for a
// page URL, creating the model folder. When the folder cannot be created the
// file goes directly into folder. The returned bool reports whether the
// fallback was used.
func OutputPath(folder, container, pageURL string, now time.Time) (string, bool) {
	model := SanitizeFilename(resolver.ModelName(pageURL))
	if model == "" {
		model = "stream"
	}
	container = strings.TrimPrefix(strings.TrimSpace(container), ".")
	if container == "" {
		container = "mp4"
	}
	name := model + "_" + now.Format(timestampLayout) + "." + container

	dir := filepath.Join(folder, model)
	if err := os.MkdirAll(dir, 0755); err != nil {
		_ = os.MkdirAll(folder, 0755)
		return filepath.Join(folder, name), true
	}
	return filepath.Join(dir, name), false
}

// recordingName matches file names produced by OutputPath
var recordingName = regexp.MustCompile(`_\d{8}_\d{6}\.[A-Za-z0-9]+$`)

// EmptyRecordings lists zero-byte recordings in folder and its model
// subfolders. Files WebCorder did not name are ignored. A missing folder
// yields no results.
func EmptyRecordings(folder string) ([]string, error) {
	var empty []string
	err := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == folder && os.IsNotExist(err) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			if path != folder && filepath.Dir(path) != folder {
				return fs.SkipDir
			}
			return nil
		}
		if !recordingName.MatchString(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() == 0 {
			empty = append(empty, path)
		}
		return nil
	})
	return empty, err
}

// noisyMessages are reconnect chatter ffmpeg emits on healthy HLS streams
var noisyMessages = []string{
	"Will reconnect at",
	"HTTP error 404 Not Found",
	"Failed to open segment",
	"expired from playlists",
	"No trailing CRLF found in HTTP header",
}

// IsNoise reports whether an ffmpeg stderr line should be hidden from logs
func IsNoise(line string) bool {
	for _, n := range noisyMessages {
		if strings.Contains(line, n) {
			return true
		}
	}
	return false
}
