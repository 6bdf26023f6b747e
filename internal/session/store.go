package session

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/mitchellh/go-homedir"
	"github.com/rs/zerolog"
)

// DataFileName is the name of the persisted document inside the data directory
const DataFileName = "webcorder_data.json"

// ErrCorruptData marks a data file that exists but cannot be decoded
var ErrCorruptData = errors.New("corrupt data file")

// timestampLayouts are tried in order; older data files carry zone-less ISO
// timestamps, which are read as local time.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp decodes a JSON timestamp leniently. Null, empty and
// unrecognized values yield nil.
func parseTimestamp(raw json.RawMessage) *time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil
	}
	text = strings.TrimSpace(text)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, text, time.Local); err == nil {
			return &t
		}
	}
	return nil
}

// Model is the persisted metadata of one tracked source URL
type Model struct {
	URL        string     `json:"url"`
	AutoRecord bool       `json:"autorecord"`
	CreatedAt  *time.Time `json:"created_at"`
}

// UnmarshalJSON accepts any timestamp layout parseTimestamp understands
func (m *Model) UnmarshalJSON(data []byte) error {
	var aux struct {
		URL        string          `json:"url"`
		AutoRecord bool            `json:"autorecord"`
		CreatedAt  json.RawMessage `json:"created_at"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.URL = aux.URL
	m.AutoRecord = aux.AutoRecord
	m.CreatedAt = parseTimestamp(aux.CreatedAt)
	return nil
}

// Settings holds user preferences stored alongside the tracked URLs
type Settings struct {
	OutputFolder      string     `json:"output_folder"`
	Container         string     `json:"container"`
	AutoRecordEnabled bool       `json:"autorecord_enabled"`
	LastUpdateCheck   *time.Time `json:"last_update_check,omitempty"`
	SkippedVersions   []string   `json:"skipped_versions"`
}

// UnmarshalJSON accepts any timestamp layout parseTimestamp understands
func (s *Settings) UnmarshalJSON(data []byte) error {
	var aux struct {
		OutputFolder      string          `json:"output_folder"`
		Container         string          `json:"container"`
		AutoRecordEnabled bool            `json:"autorecord_enabled"`
		LastUpdateCheck   json.RawMessage `json:"last_update_check"`
		SkippedVersions   []string        `json:"skipped_versions"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.OutputFolder = aux.OutputFolder
	s.Container = aux.Container
	s.AutoRecordEnabled = aux.AutoRecordEnabled
	s.LastUpdateCheck = parseTimestamp(aux.LastUpdateCheck)
	s.SkippedVersions = aux.SkippedVersions
	return nil
}

// IsSkipped reports whether the user chose to skip version
func (s Settings) IsSkipped(version string) bool {
	for _, v := range s.SkippedVersions {
		if v == version {
			return true
		}
	}
	return false
}

// Document is the whole persisted state
type Document struct {
	Models   map[string]Model `json:"models"`
	Settings Settings         `json:"settings"`
}

// URLs returns the tracked URLs in a stable order
func (d Document) URLs() []string {
	urls := make([]string, 0, len(d.Models))
	for u := range d.Models {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// rawDocument accepts both the current and the legacy {"urls": [...]} layout.
// Entries are decoded one by one so a single bad value does not discard the rest.
type rawDocument struct {
	Models   map[string]json.RawMessage `json:"models"`
	Settings json.RawMessage            `json:"settings"`
	URLs     []string                   `json:"urls"`
}

// Store persists the Document as a single JSON file
type Store struct {
	path     string
	defaults Settings
	log      zerolog.Logger
	mu       sync.Mutex
}

// DefaultDir returns ~/.webcorder
func DefaultDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".webcorder"), nil
}

// NewStore creates a store for dir/webcorder_data.json. Missing settings keys
// are filled from defaults when loading.
func NewStore(dir string, defaults Settings, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if defaults.Container == "" {
		defaults.Container = "mp4"
	}
	return &Store{
		path:     filepath.Join(dir, DataFileName),
		defaults: defaults,
		log:      log.With().Str("component", "store").Logger(),
	}, nil
}

// Path returns the location of the data file
func (s *Store) Path() string {
	return s.path
}

// Load reads the document. It never fails: a missing or corrupt file yields an
// empty document with default settings, and legacy layouts are migrated and
// written back.
func (s *Store) Load() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() Document {
	doc, _ := s.read()
	return doc
}

// read is load that also reports why an existing file could not be used
func (s *Store) read() (Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s.empty(), nil
		}
		s.log.Warn().Err(err).Str("path", s.path).Msg("failed to read data file, using defaults")
		return s.empty(), fmt.Errorf("failed to read data file: %w", err)
	}

	doc, migrated, err := s.decode(data)
	if err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("corrupt data file, using defaults")
		return s.empty(), fmt.Errorf("%w: %w", ErrCorruptData, err)
	}

	if migrated {
		s.log.Info().Int("urls", len(doc.Models)).Msg("migrated legacy url list")
		if err := s.write(doc); err != nil {
			s.log.Warn().Err(err).Msg("failed to save migrated data file")
		}
	}
	return doc, nil
}

func (s *Store) empty() Document {
	doc := Document{Models: map[string]Model{}, Settings: s.defaults}
	doc.Settings.SkippedVersions = []string{}
	return doc
}

func (s *Store) decode(data []byte) (Document, bool, error) {
	data = bytes.TrimSpace(data)
	doc := s.empty()

	// Oldest layout: a bare list of URLs.
	if len(data) > 0 && data[0] == '[' {
		var urls []string
		if err := json.Unmarshal(data, &urls); err != nil {
			return Document{}, false, err
		}
		doc.Models = legacyModels(urls)
		return doc, true, nil
	}

	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return Document{}, false, err
	}

	migrated := false
	if len(raw.URLs) > 0 && len(raw.Models) == 0 {
		doc.Models = legacyModels(raw.URLs)
		migrated = true
	} else if raw.URLs != nil {
		// Leftover key next to a populated models map.
		migrated = true
	}

	for u, entry := range raw.Models {
		var m Model
		if err := json.Unmarshal(entry, &m); err != nil {
			s.log.Warn().Err(err).Str("url", u).Msg("unreadable model entry, keeping url with defaults")
			m = Model{}
		}
		if m.URL == "" {
			m.URL = u
		}
		doc.Models[u] = m
	}

	if len(bytes.TrimSpace(raw.Settings)) > 0 && !bytes.Equal(bytes.TrimSpace(raw.Settings), []byte("null")) {
		var settings Settings
		if err := json.Unmarshal(raw.Settings, &settings); err != nil {
			s.log.Warn().Err(err).Msg("unreadable settings, using defaults")
		} else {
			doc.Settings = s.withDefaults(settings)
		}
	}
	return doc, migrated, nil
}

func (s *Store) withDefaults(in Settings) Settings {
	if in.OutputFolder == "" {
		in.OutputFolder = s.defaults.OutputFolder
	}
	if in.Container == "" {
		in.Container = s.defaults.Container
	}
	if in.SkippedVersions == nil {
		in.SkippedVersions = []string{}
	}
	return in
}

func legacyModels(urls []string) map[string]Model {
	models := make(map[string]Model, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		models[u] = Model{URL: u, AutoRecord: false}
	}
	return models
}

// Save replaces the persisted document
func (s *Store) Save(doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(doc)
}

// write stores doc atomically via a temp file and rename
func (s *Store) write(doc Document) error {
	if doc.Models == nil {
		doc.Models = map[string]Model{}
	}
	if doc.Settings.SkippedVersions == nil {
		doc.Settings.SkippedVersions = []string{}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data file: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write data file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize data file: %w", err)
	}
	return nil
}

// mutate applies fn to the current document and writes it back. A file that
// exists but cannot be decoded is moved to <path>.bak first; a file that
// cannot be read at all is never overwritten.
func (s *Store) mutate(fn func(doc *Document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		if !errors.Is(err, ErrCorruptData) {
			return err
		}
		backup := s.path + ".bak"
		if err := os.Rename(s.path, backup); err != nil {
			return fmt.Errorf("failed to back up corrupt data file: %w", err)
		}
		s.log.Warn().Str("backup", backup).Msg("moved corrupt data file aside")
	}

	fn(&doc)
	return s.write(doc)
}

// AddModel tracks url, or updates its autorecord flag if already tracked
func (s *Store) AddModel(url string, autoRecord bool) error {
	return s.mutate(func(doc *Document) {
		m, ok := doc.Models[url]
		if !ok {
			now := time.Now().UTC()
			m = Model{URL: url, CreatedAt: &now}
		}
		m.AutoRecord = autoRecord
		doc.Models[url] = m
	})
}

// RemoveModel stops tracking url
func (s *Store) RemoveModel(url string) error {
	return s.mutate(func(doc *Document) {
		delete(doc.Models, url)
	})
}

// SetAutoRecord updates the autorecord flag of an already tracked url
func (s *Store) SetAutoRecord(url string, autoRecord bool) error {
	return s.mutate(func(doc *Document) {
		if m, ok := doc.Models[url]; ok {
			m.AutoRecord = autoRecord
			doc.Models[url] = m
		}
	})
}

// UpdateSettings applies fn to the stored settings
func (s *Store) UpdateSettings(fn func(settings *Settings)) error {
	return s.mutate(func(doc *Document) {
		fn(&doc.Settings)
	})
}
